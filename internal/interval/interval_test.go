package interval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnion_MergesOverlappingAndAdjacent(t *testing.T) {
	xs := []Range{{0, 5}, {6, 10}, {20, 25}, {3, 4}}
	got := Union(xs)

	require.Equal(t, []Range{{0, 10}, {20, 25}}, got)
}

func TestUnion_Empty(t *testing.T) {
	require.Nil(t, Union(nil))
}

func TestUnion_AssociativeOverConcatenation(t *testing.T) {
	xs := []Range{{0, 5}, {10, 15}}
	ys := []Range{{4, 12}, {20, 22}}

	direct := Union(append(append([]Range{}, xs...), ys...))
	viaUnions := Union(append(Union(xs), Union(ys)...))

	require.Equal(t, direct, viaUnions)
}

func TestDifference_RemovesCoveredRanges(t *testing.T) {
	xs := []Range{{0, 100}}
	ys := []Range{{10, 20}, {50, 60}}

	got := Difference(xs, ys)
	require.Equal(t, []Range{{0, 9}, {21, 49}, {61, 100}}, got)
}

func TestDifference_NoOverlap(t *testing.T) {
	xs := []Range{{0, 5}}
	ys := []Range{{10, 20}}

	require.Equal(t, []Range{{0, 5}}, Difference(xs, ys))
}

func TestDifference_FullyCovered(t *testing.T) {
	xs := []Range{{0, 5}}
	ys := []Range{{0, 10}}

	require.Empty(t, Difference(xs, ys))
}

func TestSum(t *testing.T) {
	xs := []Range{{0, 5}, {10, 10}, {3, 4}} // overlap should not double count
	require.Equal(t, uint64(7), Sum(xs))
}

func TestIntersect(t *testing.T) {
	r, ok := Intersect(Range{0, 10}, Range{5, 15})
	require.True(t, ok)
	require.Equal(t, Range{5, 10}, r)

	_, ok = Intersect(Range{0, 5}, Range{6, 10})
	require.False(t, ok)
}
