// Package filter implements the declarative filter model (C1): a tagged
// union describing what to index, with a stable canonical identity used as
// the cache key everywhere a filter's data is stored.
package filter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates the two filter variants. Every consumer of Filter must
// switch exhaustively over Kind; a missing case panics rather than silently
// matching nothing.
type Kind string

const (
	KindLog   Kind = "event"
	KindBlock Kind = "address"
)

// Filter is a tagged union over LogFilter and BlockFilter. Exactly one of
// Log/Block is set, matching Kind.
type Filter struct {
	Kind  Kind
	Log   *LogFilter
	Block *BlockFilter
}

// LogFilter matches contract event logs.
type LogFilter struct {
	ChainID uint64
	// FromBlock is inclusive and required.
	FromBlock uint64
	// ToBlock is inclusive; nil means open-ended.
	ToBlock *uint64
	Address AddressConstraint
	// Topics holds up to 4 positional constraints; a nil entry is a wildcard.
	Topics [4][]common.Hash
}

// BlockFilter matches block numbers on a fixed stride.
type BlockFilter struct {
	ChainID uint64
	// Interval must be > 0.
	Interval uint64
	// Offset must satisfy 0 <= Offset < Interval.
	Offset    uint64
	FromBlock uint64
	ToBlock   *uint64
}

// AddressConstraintKind discriminates the four address-constraint shapes.
type AddressConstraintKind int

const (
	AddressNone AddressConstraintKind = iota
	AddressSingle
	AddressSet
	AddressChildFilter
)

// AddressConstraint is a tagged union: absent, a single address, a set of
// addresses, or a child-address filter resolved at sync time.
type AddressConstraint struct {
	Kind   AddressConstraintKind
	Single common.Address
	Set    []common.Address
	Child  *ChildAddressFilter
}

// ChildAddressLocationKind discriminates where in a log a child address is read from.
type ChildAddressLocationKind int

const (
	// LocationTopic reads a 20-byte address from topics[Topic], Topic in {1,2,3}.
	LocationTopic ChildAddressLocationKind = iota
	// LocationOffset reads a 20-byte address from a 32-byte word inside data
	// at word index Offset (byte offset 12+Offset*32 within data).
	LocationOffset
)

// ChildAddressLocation describes where to read a 20-byte address out of a
// matching log.
type ChildAddressLocation struct {
	Kind   ChildAddressLocationKind
	Topic  int // 1, 2, or 3 when Kind == LocationTopic
	Offset int // word index when Kind == LocationOffset
}

// ChildAddressFilter derives an address set at runtime from logs emitted by
// a parent event, e.g. a factory's PairCreated log.
type ChildAddressFilter struct {
	ChainID       uint64
	Address       AddressConstraint
	EventSelector common.Hash
	Location      ChildAddressLocation
}

// IsChildAddressFilter reports whether a constraint resolves to a
// child-address filter rather than a static address or set.
func (c AddressConstraint) IsChildAddressFilter() bool {
	return c.Kind == AddressChildFilter
}

// NewLogFilter builds a Filter wrapping a LogFilter.
func NewLogFilter(lf *LogFilter) Filter {
	return Filter{Kind: KindLog, Log: lf}
}

// NewBlockFilter builds a Filter wrapping a BlockFilter.
func NewBlockFilter(bf *BlockFilter) Filter {
	return Filter{Kind: KindBlock, Block: bf}
}

// Validate checks structural invariants not otherwise enforced by the type
// system (interval/offset bounds, exhaustive kind).
func (f Filter) Validate() error {
	switch f.Kind {
	case KindLog:
		if f.Log == nil {
			return fmt.Errorf("filter: kind %q requires a LogFilter", f.Kind)
		}
		return f.Log.Address.validate()
	case KindBlock:
		if f.Block == nil {
			return fmt.Errorf("filter: kind %q requires a BlockFilter", f.Kind)
		}
		if f.Block.Interval == 0 {
			return fmt.Errorf("filter: block filter interval must be > 0")
		}
		if f.Block.Offset >= f.Block.Interval {
			return fmt.Errorf("filter: block filter offset %d must be < interval %d", f.Block.Offset, f.Block.Interval)
		}
		return nil
	default:
		panic(fmt.Sprintf("filter: unhandled kind %q", f.Kind))
	}
}

func (c AddressConstraint) validate() error {
	switch c.Kind {
	case AddressNone, AddressSingle, AddressSet:
		return nil
	case AddressChildFilter:
		if c.Child == nil {
			return fmt.Errorf("filter: AddressChildFilter requires a ChildAddressFilter")
		}
		return nil
	default:
		panic(fmt.Sprintf("filter: unhandled address constraint kind %d", c.Kind))
	}
}
