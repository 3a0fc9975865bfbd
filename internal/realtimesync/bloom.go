package realtimesync

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/oxSaturn/chainsync/internal/filter"
)

// mayMatchBloom implements spec §4.7's pre-filter: for each log filter,
// check that all required addresses and all per-position required topics
// are present in the block's bloom, combining with AND across the two
// categories and OR within each category; a block may match if any filter
// passes. Block-stride filters can't be bloom-checked (a block filter has
// no log content to test), so they always "may match". A child-address
// constraint's address set grows at sync time, so the address part of such
// a log filter is treated as matching; its topics are still checked.
func mayMatchBloom(bloom types.Bloom, filters []filter.Filter) bool {
	if len(filters) == 0 {
		return true
	}

	for _, f := range filters {
		if f.Kind != filter.KindLog {
			return true
		}
		if logFilterMayMatch(bloom, f.Log) {
			return true
		}
	}
	return false
}

func logFilterMayMatch(bloom types.Bloom, lf *filter.LogFilter) bool {
	if !addressMayMatch(bloom, lf.Address) {
		return false
	}
	for _, topicSet := range lf.Topics {
		if len(topicSet) == 0 {
			continue
		}
		matched := false
		for _, topic := range topicSet {
			if types.BloomLookup(bloom, topic) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func addressMayMatch(bloom types.Bloom, c filter.AddressConstraint) bool {
	switch c.Kind {
	case filter.AddressNone, filter.AddressChildFilter:
		return true
	case filter.AddressSingle:
		return types.BloomLookup(bloom, c.Single)
	case filter.AddressSet:
		for _, addr := range c.Set {
			if types.BloomLookup(bloom, addr) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
