package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FilterID returns the stable cache key for f: its tag concatenated with a
// canonical JSON hash of its contents. Canonicalization sorts object keys
// (encoding/json already does this for map[string]any), lowercases
// addresses, and collapses single-element topic lists to their element so
// that semantically identical filters always hash identically regardless of
// how they were constructed.
func FilterID(f Filter) string {
	canon := canonicalize(f)
	data, err := json.Marshal(canon)
	if err != nil {
		panic(fmt.Sprintf("filter: canonical filter failed to marshal: %v", err))
	}

	sum := sha256.Sum256(data)
	return string(f.Kind) + ":" + hex.EncodeToString(sum[:])
}

func canonicalize(f Filter) map[string]any {
	switch f.Kind {
	case KindLog:
		return canonicalizeLogFilter(f.Log)
	case KindBlock:
		return canonicalizeBlockFilter(f.Block)
	default:
		panic(fmt.Sprintf("filter: unhandled kind %q", f.Kind))
	}
}

func canonicalizeLogFilter(lf *LogFilter) map[string]any {
	m := map[string]any{
		"chainId":   lf.ChainID,
		"fromBlock": lf.FromBlock,
		"address":   canonicalizeAddressConstraint(lf.Address),
	}
	if lf.ToBlock != nil {
		m["toBlock"] = *lf.ToBlock
	}

	topics := make([]any, 4)
	for i, t := range lf.Topics {
		topics[i] = canonicalizeTopicList(t)
	}
	m["topics"] = topics

	return m
}

func canonicalizeBlockFilter(bf *BlockFilter) map[string]any {
	m := map[string]any{
		"chainId":   bf.ChainID,
		"interval":  bf.Interval,
		"offset":    bf.Offset,
		"fromBlock": bf.FromBlock,
	}
	if bf.ToBlock != nil {
		m["toBlock"] = *bf.ToBlock
	}

	return m
}

func canonicalizeAddressConstraint(c AddressConstraint) any {
	switch c.Kind {
	case AddressNone:
		return nil
	case AddressSingle:
		return strings.ToLower(c.Single.Hex())
	case AddressSet:
		addrs := make([]string, len(c.Set))
		for i, a := range c.Set {
			addrs[i] = strings.ToLower(a.Hex())
		}
		sort.Strings(addrs)
		return addrs
	case AddressChildFilter:
		return canonicalizeChildAddressFilter(c.Child)
	default:
		panic(fmt.Sprintf("filter: unhandled address constraint kind %d", c.Kind))
	}
}

func canonicalizeChildAddressFilter(child *ChildAddressFilter) map[string]any {
	loc := map[string]any{}
	switch child.Location.Kind {
	case LocationTopic:
		loc["topic"] = child.Location.Topic
	case LocationOffset:
		loc["offset"] = child.Location.Offset
	default:
		panic(fmt.Sprintf("filter: unhandled child address location kind %d", child.Location.Kind))
	}
	return map[string]any{
		"chainId":       child.ChainID,
		"address":       canonicalizeAddressConstraint(child.Address),
		"eventSelector": strings.ToLower(child.EventSelector.Hex()),
		"location":      loc,
	}
}

// ChildFilterID returns the stable cache key for a child-address filter,
// used as the filter_id under which discovered addresses and the
// address-discovery interval cache are stored. It is computed independently
// of any enclosing LogFilter — the same child filter nested in two
// different parent filters resolves to the same address set and cache key.
func ChildFilterID(child *ChildAddressFilter) string {
	data, err := json.Marshal(canonicalizeChildAddressFilter(child))
	if err != nil {
		panic(fmt.Sprintf("filter: canonical child filter failed to marshal: %v", err))
	}

	sum := sha256.Sum256(data)
	return "child:" + hex.EncodeToString(sum[:])
}

// canonicalizeTopicList normalizes a positional topic constraint: a nil
// slice (wildcard) stays null, a single-element slice collapses to its bare
// element, anything longer stays an array of lowercase hex strings.
func canonicalizeTopicList(topics []common.Hash) any {
	if topics == nil {
		return nil
	}

	hexes := make([]string, len(topics))
	for i, t := range topics {
		hexes[i] = strings.ToLower(t.Hex())
	}

	if len(hexes) == 1 {
		return hexes[0]
	}

	return hexes
}
