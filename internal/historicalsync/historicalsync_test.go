package historicalsync

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

type fakeClient struct {
	blocks map[uint64]*pkgrpc.RawBlock
	logs   []types.Log
}

func (f *fakeClient) Close() {}

func (f *fakeClient) ChainID(ctx context.Context) (uint64, error) { return 1, nil }

func (f *fakeClient) GetBlockByNumber(ctx context.Context, number *big.Int) (*pkgrpc.RawBlock, error) {
	b, ok := f.blocks[number.Uint64()]
	if !ok {
		return nil, fmt.Errorf("fakeClient: block %d not found", number.Uint64())
	}
	return b, nil
}

func (f *fakeClient) GetBlockByHash(ctx context.Context, hash common.Hash) (*pkgrpc.RawBlock, error) {
	for _, b := range f.blocks {
		if b.Hash == hash {
			return b, nil
		}
	}
	return nil, fmt.Errorf("fakeClient: block %s not found", hash)
}

func (f *fakeClient) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	lo, hi := q.FromBlock.Uint64(), q.ToBlock.Uint64()

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < lo || lg.BlockNumber > hi {
			continue
		}
		if len(q.Addresses) > 0 && !addressIn(lg.Address, q.Addresses) {
			continue
		}
		if !topicsMatch(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, fmt.Errorf("fakeClient: receipts not supported")
}

func addressIn(addr common.Address, set []common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

func topicsMatch(want [][]common.Hash, got []common.Hash) bool {
	for i, w := range want {
		if len(w) == 0 {
			continue
		}
		if i >= len(got) {
			return false
		}
		found := false
		for _, t := range w {
			if t == got[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func newTestStore(t *testing.T) *syncstore.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "historicalsync_test.db")
	store, err := syncstore.Open(dbPath, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func block(n, ts uint64, txs ...pkgrpc.RawTransaction) *pkgrpc.RawBlock {
	return &pkgrpc.RawBlock{
		Hash:         common.BigToHash(big.NewInt(int64(n))),
		ParentHash:   common.BigToHash(big.NewInt(int64(n - 1))),
		Number:       n,
		Timestamp:    ts,
		Transactions: txs,
	}
}

// Scenario 1: log filter, single chain, cold cache.
func TestHistoricalSync_LogFilter_ColdCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	addr := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")
	tx1 := common.HexToHash("0xaa")

	client := &fakeClient{
		blocks: map[uint64]*pkgrpc.RawBlock{
			3: block(3, 1000, pkgrpc.RawTransaction{Hash: tx1, Index: 0}),
		},
		logs: []types.Log{
			{Address: addr, Topics: []common.Hash{topic0}, BlockNumber: 3, TxHash: tx1, Index: 0, BlockHash: block(3, 1000).Hash},
			{Address: addr, Topics: []common.Hash{topic0}, BlockNumber: 3, TxHash: tx1, Index: 1, BlockHash: block(3, 1000).Hash},
		},
	}

	sources := []Source{{
		Name: "transfer",
		Filter: filter.NewLogFilter(&filter.LogFilter{
			ChainID:   1,
			FromBlock: 0,
			Address:   filter.AddressConstraint{Kind: filter.AddressSingle, Single: addr},
			Topics:    [4][]common.Hash{{topic0}},
		}),
	}}

	hs, err := New(ctx, 1, sources, client, store, logger.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, hs.Sync(ctx, interval.Range{Lo: 0, Hi: 5}))

	filterID := filter.FilterID(sources[0].Filter)
	count, err := store.GetEventCount(ctx, []string{filterID})
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	ivs, err := store.GetIntervals(ctx, 1, "event", filterID)
	require.NoError(t, err)
	require.Equal(t, []interval.Range{{Lo: 0, Hi: 5}}, ivs)
}

// Scenario 2: cache hit — a fresh HistoricalSync over the same store does
// not re-populate events on an already-covered range.
func TestHistoricalSync_CacheHit_SkipsRepopulation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	addr := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	topic0 := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")
	tx1 := common.HexToHash("0xaa")

	client := &fakeClient{
		blocks: map[uint64]*pkgrpc.RawBlock{3: block(3, 1000, pkgrpc.RawTransaction{Hash: tx1, Index: 0})},
		logs: []types.Log{
			{Address: addr, Topics: []common.Hash{topic0}, BlockNumber: 3, TxHash: tx1, Index: 0, BlockHash: block(3, 1000).Hash},
		},
	}

	sources := []Source{{
		Name: "transfer",
		Filter: filter.NewLogFilter(&filter.LogFilter{
			ChainID: 1, FromBlock: 0,
			Address: filter.AddressConstraint{Kind: filter.AddressSingle, Single: addr},
			Topics:  [4][]common.Hash{{topic0}},
		}),
	}}

	hs1, err := New(ctx, 1, sources, client, store, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, hs1.Sync(ctx, interval.Range{Lo: 0, Hi: 5}))

	filterID := filter.FilterID(sources[0].Filter)
	before, err := store.GetEventCount(ctx, []string{filterID})
	require.NoError(t, err)

	// The second client serves no logs and no blocks; a second Sync over the
	// cached range succeeds and leaves the event count unchanged.
	failingClient := &fakeClient{blocks: map[uint64]*pkgrpc.RawBlock{}, logs: nil}
	hs2, err := New(ctx, 1, sources, failingClient, store, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, hs2.Sync(ctx, interval.Range{Lo: 0, Hi: 5}))

	after, err := store.GetEventCount(ctx, []string{filterID})
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// Scenario 3: block filter stride/offset/bounds.
func TestHistoricalSync_BlockFilter_Stride(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client := &fakeClient{
		blocks: map[uint64]*pkgrpc.RawBlock{
			2: block(2, 200),
			3: block(3, 300),
			4: block(4, 400),
		},
	}

	sources := []Source{{
		Name: "blocks",
		Filter: filter.NewBlockFilter(&filter.BlockFilter{
			ChainID: 1, Interval: 2, Offset: 1, FromBlock: 0,
		}),
	}}

	hs, err := New(ctx, 1, sources, client, store, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, hs.Sync(ctx, interval.Range{Lo: 2, Hi: 4}))

	filterID := filter.FilterID(sources[0].Filter)
	count, err := store.GetEventCount(ctx, []string{filterID})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

// Scenario 4: child-address filter discovers a factory-created pair, then
// matches a log emitted by that pair.
func TestHistoricalSync_ChildAddressFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	factory := common.HexToAddress("0xFacFac0000000000000000000000000000ac01")
	pair := common.HexToAddress("0x9a19000000000000000000000000000000000a")
	pairCreated := common.HexToHash("0xface000000000000000000000000000000000000000000000000000000ac")
	transferTopic := common.HexToHash("0xddf200000000000000000000000000000000000000000000000000000e5e")

	factoryTx := common.HexToHash("0xf1")
	pairTx := common.HexToHash("0xp1")

	child := &filter.ChildAddressFilter{
		ChainID:       1,
		Address:       filter.AddressConstraint{Kind: filter.AddressSingle, Single: factory},
		EventSelector: pairCreated,
		Location:      filter.ChildAddressLocation{Kind: filter.LocationTopic, Topic: 1},
	}

	client := &fakeClient{
		blocks: map[uint64]*pkgrpc.RawBlock{
			3: block(3, 3000, pkgrpc.RawTransaction{Hash: factoryTx, Index: 0}),
			4: block(4, 4000, pkgrpc.RawTransaction{Hash: pairTx, Index: 0}),
		},
		logs: []types.Log{
			{
				Address:     factory,
				Topics:      []common.Hash{pairCreated, common.BytesToHash(pair.Bytes())},
				BlockNumber: 3, TxHash: factoryTx, Index: 0, BlockHash: block(3, 3000).Hash,
			},
			{
				Address:     pair,
				Topics:      []common.Hash{transferTopic},
				BlockNumber: 4, TxHash: pairTx, Index: 0, BlockHash: block(4, 4000).Hash,
			},
		},
	}

	sources := []Source{{
		Name: "pair-transfers",
		Filter: filter.NewLogFilter(&filter.LogFilter{
			ChainID:   1,
			FromBlock: 0,
			Address:   filter.AddressConstraint{Kind: filter.AddressChildFilter, Child: child},
			Topics:    [4][]common.Hash{{transferTopic}},
		}),
	}}

	hs, err := New(ctx, 1, sources, client, store, logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, hs.Sync(ctx, interval.Range{Lo: 0, Hi: 5}))

	filterID := filter.FilterID(sources[0].Filter)
	count, err := store.GetEventCount(ctx, []string{filterID})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	addrs, err := store.GetAddresses(ctx, 1, filter.ChildFilterID(child))
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.Equal(t, pair, addrs[0])
}
