package filter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MatchesLog reports whether log satisfies lf's address and topic
// constraints. Block-range bounds are the caller's responsibility (they are
// enforced by interval intersection in historical sync, not here). A
// child-address constraint always matches here; resolving the concrete
// address set happens separately via syncAddress.
func MatchesLog(log *types.Log, lf *LogFilter) bool {
	if !matchesAddress(log.Address, lf.Address) {
		return false
	}

	for i := 0; i < 4; i++ {
		want := lf.Topics[i]
		if len(want) == 0 {
			continue // wildcard
		}
		if i >= len(log.Topics) {
			return false
		}
		if !containsTopic(want, log.Topics[i]) {
			return false
		}
	}

	return true
}

func matchesAddress(addr common.Address, c AddressConstraint) bool {
	switch c.Kind {
	case AddressNone:
		return true
	case AddressSingle:
		return addr == c.Single
	case AddressSet:
		for _, a := range c.Set {
			if a == addr {
				return true
			}
		}
		return false
	case AddressChildFilter:
		// Resolved separately; never excludes here.
		return true
	default:
		panic(fmt.Sprintf("filter: unhandled address constraint kind %d", c.Kind))
	}
}

func containsTopic(want []common.Hash, got common.Hash) bool {
	for _, w := range want {
		if w == got {
			return true
		}
	}
	return false
}

// MatchesBlock reports whether blockNumber satisfies bf's stride and bounds.
func MatchesBlock(blockNumber uint64, bf *BlockFilter) bool {
	if blockNumber < bf.FromBlock {
		return false
	}
	if bf.ToBlock != nil && blockNumber > *bf.ToBlock {
		return false
	}
	if blockNumber < bf.Offset {
		return false
	}

	return (blockNumber-bf.Offset)%bf.Interval == 0
}
