package coordinator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oxSaturn/chainsync/internal/config"
	"github.com/oxSaturn/chainsync/internal/filter"
)

// buildFilter translates one declarative SourceConfig into the engine's
// internal filter.Filter, resolving string addresses/topics into their
// go-ethereum types and wiring up the child-address (factory/pair) case
// when ChildAddress is set.
func buildFilter(sc config.SourceConfig, chainID uint64) (filter.Filter, error) {
	switch sc.Kind {
	case "log":
		return buildLogFilter(sc, chainID)
	case "block":
		return filter.NewBlockFilter(&filter.BlockFilter{
			ChainID:   chainID,
			Interval:  sc.Interval,
			Offset:    sc.Offset,
			FromBlock: sc.FromBlock,
			ToBlock:   sc.ToBlock,
		}), nil
	default:
		return filter.Filter{}, fmt.Errorf("coordinator: source %q has unknown kind %q", sc.Name, sc.Kind)
	}
}

func buildLogFilter(sc config.SourceConfig, chainID uint64) (filter.Filter, error) {
	addr, err := buildAddressConstraint(sc.Addresses)
	if err != nil {
		return filter.Filter{}, fmt.Errorf("source %q: %w", sc.Name, err)
	}

	if sc.ChildAddress != nil {
		loc, err := buildChildAddressLocation(*sc.ChildAddress)
		if err != nil {
			return filter.Filter{}, fmt.Errorf("source %q: %w", sc.Name, err)
		}

		addr = filter.AddressConstraint{
			Kind: filter.AddressChildFilter,
			Child: &filter.ChildAddressFilter{
				ChainID:       chainID,
				Address:       addr,
				EventSelector: common.HexToHash(sc.ChildAddress.EventSelector),
				Location:      loc,
			},
		}
	}

	topics, err := buildTopics(sc.Topics)
	if err != nil {
		return filter.Filter{}, fmt.Errorf("source %q: %w", sc.Name, err)
	}

	return filter.NewLogFilter(&filter.LogFilter{
		ChainID:   chainID,
		FromBlock: sc.FromBlock,
		ToBlock:   sc.ToBlock,
		Address:   addr,
		Topics:    topics,
	}), nil
}

func buildAddressConstraint(addrs []string) (filter.AddressConstraint, error) {
	switch len(addrs) {
	case 0:
		return filter.AddressConstraint{Kind: filter.AddressNone}, nil
	case 1:
		return filter.AddressConstraint{Kind: filter.AddressSingle, Single: common.HexToAddress(addrs[0])}, nil
	default:
		set := make([]common.Address, len(addrs))
		for i, a := range addrs {
			set[i] = common.HexToAddress(a)
		}
		return filter.AddressConstraint{Kind: filter.AddressSet, Set: set}, nil
	}
}

func buildChildAddressLocation(cc config.ChildAddressConfig) (filter.ChildAddressLocation, error) {
	if cc.Topic > 0 {
		if cc.Topic > 3 {
			return filter.ChildAddressLocation{}, fmt.Errorf("child_address.topic must be 1, 2, or 3, got %d", cc.Topic)
		}
		return filter.ChildAddressLocation{Kind: filter.LocationTopic, Topic: cc.Topic}, nil
	}
	return filter.ChildAddressLocation{Kind: filter.LocationOffset, Offset: cc.Offset}, nil
}

func buildTopics(topics [4][]string) ([4][]common.Hash, error) {
	var out [4][]common.Hash
	for i, hexes := range topics {
		if len(hexes) == 0 {
			continue
		}
		hashes := make([]common.Hash, len(hexes))
		for j, h := range hexes {
			hashes[j] = common.HexToHash(h)
		}
		out[i] = hashes
	}
	return out, nil
}
