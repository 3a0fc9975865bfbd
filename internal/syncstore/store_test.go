package syncstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "syncstore_test.db")
	store, err := Open(dbPath, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_BlockRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hash := common.HexToHash("0x01")
	row := BlockRow{Hash: hash, ChainID: 1, Number: 10, Timestamp: 1000, Body: "{}"}
	require.NoError(t, store.InsertBlock(ctx, row))

	has, err := store.HasBlock(ctx, hash, 1)
	require.NoError(t, err)
	require.True(t, has)

	has, err = store.HasBlock(ctx, hash, 2)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, store.InsertBlock(ctx, row))
}

func TestStore_GetIntervals_MergesAndCompacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertInterval(ctx, 1, "event", "f1", interval.Range{Lo: 0, Hi: 5}))
	require.NoError(t, store.InsertInterval(ctx, 1, "event", "f1", interval.Range{Lo: 6, Hi: 10}))
	require.NoError(t, store.InsertInterval(ctx, 1, "event", "f1", interval.Range{Lo: 20, Hi: 25}))

	merged, err := store.GetIntervals(ctx, 1, "event", "f1")
	require.NoError(t, err)
	require.Equal(t, []interval.Range{{Lo: 0, Hi: 10}, {Lo: 20, Hi: 25}}, merged)

	// Compaction must have rewritten the table: reading again returns the
	// same merged set, not a union of the merged set with itself.
	again, err := store.GetIntervals(ctx, 1, "event", "f1")
	require.NoError(t, err)
	require.Equal(t, merged, again)
}

func TestStore_Addresses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addr := common.HexToAddress("0xaaaa00000000000000000000000000000000aa")
	err := store.InsertAddresses(ctx, 1, "child1", []AddressDiscovery{
		{Address: addr, BlockNumber: 3},
	})
	require.NoError(t, err)

	// Duplicate insert is ignored.
	err = store.InsertAddresses(ctx, 1, "child1", []AddressDiscovery{
		{Address: addr, BlockNumber: 3},
	})
	require.NoError(t, err)

	addrs, err := store.GetAddresses(ctx, 1, "child1")
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr}, addrs)

	none, err := store.GetAddresses(ctx, 1, "unknown")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStore_RpcRequestResultCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetRpcRequestResult(ctx, "eth_getBlockByNumber:5", 1, 5)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.InsertRpcRequestResult(ctx, RpcRequestResultRow{
		Request: "eth_getBlockByNumber:5", ChainID: 1, BlockNumber: 5, Result: `{"number":5}`,
	}))

	result, ok, err := store.GetRpcRequestResult(ctx, "eth_getBlockByNumber:5", 1, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"number":5}`, result)
}
