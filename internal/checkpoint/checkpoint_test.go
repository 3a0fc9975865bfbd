package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	f := Fields{
		BlockTimestamp:   1234567890,
		ChainID:          1,
		BlockNumber:      9001,
		TransactionIndex: 3,
		EventIndex:       7,
	}

	cp := Encode(f)
	require.Len(t, string(cp), Width)

	got, err := Decode(cp)
	require.NoError(t, err)
	require.Equal(t, f.BlockTimestamp, got.BlockTimestamp)
	require.Equal(t, f.ChainID, got.ChainID)
	require.Equal(t, f.BlockNumber, got.BlockNumber)
	require.Equal(t, f.TransactionIndex, got.TransactionIndex)
	require.Equal(t, f.EventIndex, got.EventIndex)
	require.False(t, got.IsBlockEvent)
}

func TestEncodeDecode_BlockEventTailSortsAfterLogs(t *testing.T) {
	logCP := Encode(Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 5, TransactionIndex: 9999999999999998, EventIndex: 9999999999999999})
	blockCP := Encode(Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 5, IsBlockEvent: true})

	require.True(t, logCP < blockCP, "block event must sort after any log event in the same block")

	decoded, err := Decode(blockCP)
	require.NoError(t, err)
	require.True(t, decoded.IsBlockEvent)
}

func TestLexicalOrderMatchesTupleOrder(t *testing.T) {
	lower := Encode(Fields{BlockTimestamp: 100, ChainID: 1, BlockNumber: 1, TransactionIndex: 0, EventIndex: 0})
	higherTimestamp := Encode(Fields{BlockTimestamp: 101, ChainID: 1, BlockNumber: 1, TransactionIndex: 0, EventIndex: 0})
	higherChain := Encode(Fields{BlockTimestamp: 100, ChainID: 2, BlockNumber: 1, TransactionIndex: 0, EventIndex: 0})

	require.True(t, lower < higherTimestamp)
	require.True(t, lower < higherChain)
}

func TestMin(t *testing.T) {
	a := Encode(Fields{BlockTimestamp: 200})
	b := Encode(Fields{BlockTimestamp: 100})
	c := Encode(Fields{BlockTimestamp: 300})

	require.Equal(t, b, Min(a, b, c))
}

func TestZeroAndMaxSentinels(t *testing.T) {
	z := Zero()
	m := Max()
	mid := Encode(Fields{BlockTimestamp: 500, ChainID: 1, BlockNumber: 1})

	require.Len(t, string(z), Width)
	require.Len(t, string(m), Width)
	require.True(t, z < mid)
	require.True(t, mid < m)
}

func TestEncodeBound_LowerVsUpper(t *testing.T) {
	lower := EncodeBound(100, 1, 5, false)
	upper := EncodeBound(100, 1, 5, true)

	require.True(t, lower < upper)
	require.True(t, string(lower)[:widthTimestamp+widthChainID+widthBlock] == string(upper)[:widthTimestamp+widthChainID+widthBlock])
}

func TestDecode_RejectsWrongLength(t *testing.T) {
	_, err := Decode(Checkpoint("short"))
	require.Error(t, err)
}

func TestEncode_PanicsOnOverflow(t *testing.T) {
	require.Panics(t, func() {
		Encode(Fields{BlockTimestamp: 1e18})
	})
}
