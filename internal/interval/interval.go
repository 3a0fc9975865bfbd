// Package interval implements the interval algebra (C3): union, difference,
// and sum over closed integer block ranges. This is what makes historical
// sync incremental — subtracting already-cached intervals from a requested
// window is the only thing standing between re-syncing the whole chain on
// every call and touching only the gap.
package interval

import "sort"

// Range is a closed integer interval [Lo, Hi]; both bounds inclusive.
type Range struct {
	Lo uint64
	Hi uint64
}

// Union sorts xs by Lo and merges overlapping or adjacent ranges
// (hiPrev >= loNext-1) into a minimal disjoint ascending list.
func Union(xs []Range) []Range {
	if len(xs) == 0 {
		return nil
	}

	sorted := make([]Range, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })

	merged := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		merged = append(merged, r)
	}

	return merged
}

// Difference returns xs \ ys as a minimal disjoint list: every block
// covered by xs but not by ys.
func Difference(xs, ys []Range) []Range {
	xu := Union(xs)
	yu := Union(ys)

	var result []Range
	for _, x := range xu {
		pieces := []Range{x}
		for _, y := range yu {
			var next []Range
			for _, p := range pieces {
				next = append(next, subtractOne(p, y)...)
			}
			pieces = next
		}
		result = append(result, pieces...)
	}

	return Union(result)
}

// subtractOne removes y from p, returning zero, one, or two remaining pieces.
func subtractOne(p, y Range) []Range {
	if y.Hi < p.Lo || y.Lo > p.Hi {
		return []Range{p} // no overlap
	}

	var out []Range
	if y.Lo > p.Lo {
		out = append(out, Range{Lo: p.Lo, Hi: y.Lo - 1})
	}
	if y.Hi < p.Hi {
		out = append(out, Range{Lo: y.Hi + 1, Hi: p.Hi})
	}

	return out
}

// Sum returns the total number of integers covered by xs, after merging
// overlaps so each block is counted once.
func Sum(xs []Range) uint64 {
	var total uint64
	for _, r := range Union(xs) {
		total += r.Hi - r.Lo + 1
	}

	return total
}

// Intersect returns the overlap of a and b, or (Range{}, false) if disjoint.
func Intersect(a, b Range) (Range, bool) {
	lo := a.Lo
	if b.Lo > lo {
		lo = b.Lo
	}
	hi := a.Hi
	if b.Hi < hi {
		hi = b.Hi
	}

	if lo > hi {
		return Range{}, false
	}

	return Range{Lo: lo, Hi: hi}, true
}
