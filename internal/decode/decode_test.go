package decode

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/oxSaturn/chainsync/internal/checkpoint"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/pkg/events"
)

const transferABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

func TestDecodeEvents_LogEvent(t *testing.T) {
	t.Parallel()

	parsed, err := abi.JSON(strings.NewReader(transferABI))
	require.NoError(t, err)
	transferEvent := parsed.Events["Transfer"]

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := transferEvent.Inputs.NonIndexed().Pack(big.NewInt(1000))
	require.NoError(t, err)

	topic0 := transferEvent.ID.Hex()
	topic1 := common.BytesToHash(from.Bytes()).Hex()
	topic2 := common.BytesToHash(to.Bytes()).Hex()
	dataHex := "0x" + common.Bytes2Hex(data)

	src := events.Source{FilterID: "event:abc", Name: "erc20", ChainID: 1, ABI: transferABI}
	dec, err := NewDecoder([]events.Source{src}, logger.NewNopLogger())
	require.NoError(t, err)

	raw := events.RawEvent{
		FilterID:    "event:abc",
		Checkpoint:  checkpoint.Encode(checkpoint.Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 3, EventIndex: 0}),
		ChainID:     1,
		BlockNumber: 3,
		Data: &events.LogEventData{
			Data:   dataHex,
			Topic0: &topic0,
			Topic1: &topic1,
			Topic2: &topic2,
		},
	}

	out := dec.DecodeEvents([]events.RawEvent{raw})
	require.Len(t, out, 1)
	require.Equal(t, KindLog, out[0].Kind)
	require.Equal(t, "Transfer", out[0].LogEventName)
	require.NotNil(t, out[0].Log)
	require.Equal(t, from, out[0].Log.Args["from"])
	require.Equal(t, to, out[0].Log.Args["to"])
}

func TestDecodeEvents_BlockEvent(t *testing.T) {
	t.Parallel()

	src := events.Source{FilterID: "address:xyz", Name: "every-block"}
	dec, err := NewDecoder([]events.Source{src}, logger.NewNopLogger())
	require.NoError(t, err)

	raw := events.RawEvent{
		FilterID:    "address:xyz",
		Checkpoint:  checkpoint.Encode(checkpoint.Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 4, IsBlockEvent: true}),
		ChainID:     1,
		BlockNumber: 4,
	}

	out := dec.DecodeEvents([]events.RawEvent{raw})
	require.Len(t, out, 1)
	require.Equal(t, KindBlock, out[0].Kind)
	require.Nil(t, out[0].Log)
}

func TestDecodeEvents_UnknownFilterIDSkipped(t *testing.T) {
	t.Parallel()

	dec, err := NewDecoder(nil, logger.NewNopLogger())
	require.NoError(t, err)

	out := dec.DecodeEvents([]events.RawEvent{{FilterID: "event:missing"}})
	require.Empty(t, out)
}

func TestUnpackLogRequiresEnoughTopics(t *testing.T) {
	t.Parallel()

	parsed, err := abi.JSON(strings.NewReader(transferABI))
	require.NoError(t, err)
	transferEvent := parsed.Events["Transfer"]

	_, err = unpackLog(transferEvent, []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))}, nil)
	require.Error(t, err)
}
