package filter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestChildFilterID_StableAndTagged(t *testing.T) {
	factory := common.HexToAddress("0xfactoryfactoryfactoryfactoryfactory0000")

	a := &ChildAddressFilter{
		ChainID:       1,
		Address:       AddressConstraint{Kind: AddressSingle, Single: factory},
		EventSelector: common.HexToHash("0xpaircreated"),
		Location:      ChildAddressLocation{Kind: LocationTopic, Topic: 1},
	}
	b := &ChildAddressFilter{
		ChainID:       1,
		Address:       AddressConstraint{Kind: AddressSingle, Single: factory},
		EventSelector: common.HexToHash("0xpaircreated"),
		Location:      ChildAddressLocation{Kind: LocationTopic, Topic: 1},
	}

	require.Equal(t, ChildFilterID(a), ChildFilterID(b))
	require.Contains(t, ChildFilterID(a), "child:")
}

func TestChildFilterID_DiffersFromEnclosingLogFilterID(t *testing.T) {
	child := &ChildAddressFilter{
		ChainID:       1,
		EventSelector: common.HexToHash("0xpaircreated"),
		Location:      ChildAddressLocation{Kind: LocationTopic, Topic: 1},
	}

	logFilter := NewLogFilter(&LogFilter{
		ChainID:   1,
		FromBlock: 0,
		Address:   AddressConstraint{Kind: AddressChildFilter, Child: child},
	})

	require.NotEqual(t, ChildFilterID(child), FilterID(logFilter))
}

func TestChildFilterID_DiffersOnLocationChange(t *testing.T) {
	base := &ChildAddressFilter{ChainID: 1, EventSelector: common.HexToHash("0x1"), Location: ChildAddressLocation{Kind: LocationTopic, Topic: 1}}
	offset := &ChildAddressFilter{ChainID: 1, EventSelector: common.HexToHash("0x1"), Location: ChildAddressLocation{Kind: LocationOffset, Offset: 0}}

	require.NotEqual(t, ChildFilterID(base), ChildFilterID(offset))
}
