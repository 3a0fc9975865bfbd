package coordinator

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

	"github.com/oxSaturn/chainsync/internal/checkpoint"
	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/historicalsync"
	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/localsync"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/realtimesync"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	"github.com/oxSaturn/chainsync/pkg/events"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

// fakeClient is a minimal pkgrpc.EthClient over an in-memory block map,
// mirroring internal/localsync's test double since the two packages cannot
// share an unexported type.
type fakeClient struct {
	latestNumber uint64
	blocks       map[uint64]*pkgrpc.RawBlock
}

func (f *fakeClient) Close() {}

func (f *fakeClient) ChainID(ctx context.Context) (uint64, error) { return 1, nil }

func (f *fakeClient) GetBlockByNumber(ctx context.Context, number *big.Int) (*pkgrpc.RawBlock, error) {
	n := f.latestNumber
	if number != nil {
		n = number.Uint64()
	}
	b, ok := f.blocks[n]
	if !ok {
		return nil, fmt.Errorf("fakeClient: block %d not found", n)
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
	return nil, nil
}

func (f *fakeClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, fmt.Errorf("fakeClient: receipts not supported")
}

func block(n, ts uint64) *pkgrpc.RawBlock {
	return &pkgrpc.RawBlock{
		Hash:       common.BigToHash(big.NewInt(int64(n))),
		ParentHash: common.BigToHash(big.NewInt(int64(n) - 1)),
		Number:     n,
		Timestamp:  ts,
	}
}

func newTestStore(t *testing.T) *syncstore.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "coordinator_test.db")
	store, err := syncstore.Open(dbPath, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestChain builds a chainRuntime whose historical/local sync pair is
// already caught up to finalized, bypassing Coordinator.New/buildChain so
// tests never dial a real RPC endpoint.
func newTestChain(t *testing.T, store *syncstore.Store, chainID uint64, toBlock uint64) *chainRuntime {
	t.Helper()

	client := &fakeClient{
		latestNumber: toBlock,
		blocks: map[uint64]*pkgrpc.RawBlock{
			0:       block(0, 0),
			toBlock: block(toBlock, toBlock*100),
		},
	}

	f := filter.NewLogFilter(&filter.LogFilter{
		ChainID:   chainID,
		FromBlock: 0,
		ToBlock:   &toBlock,
	})
	sources := []historicalsync.Source{{Name: "s1", Filter: f}}
	filterID := filter.FilterID(f)

	hs, err := historicalsync.New(context.Background(), chainID, sources, client, store, logger.NewNopLogger())
	require.NoError(t, err)

	ls, err := localsync.New(context.Background(), chainID, sources, client, hs, localsync.Config{FinalityDepth: 0}, logger.NewNopLogger())
	require.NoError(t, err)

	return &chainRuntime{
		name:       fmt.Sprintf("chain-%d", chainID),
		chainID:    chainID,
		client:     client,
		historical: hs,
		local:      ls,
		filters:    []filter.Filter{f},
		sources:    sources,
		filterIDs:  []string{filterID},
		state:      StateHistorical,
	}
}

func TestGetEvents_ReachesTipAndClosesChannel(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 20)

	c := &Coordinator{
		store:        store,
		chains:       []*chainRuntime{cr},
		log:          logger.NewNopLogger(),
		allFilterIDs: cr.filterIDs,
	}

	var gotEvents int
	for result := range c.GetEvents(context.Background()) {
		require.NoError(t, result.Err)
		gotEvents += len(result.Events)
	}

	require.Equal(t, StateTip, cr.getState())
}

func TestMinChainCheckpoint_PicksCrossChainMinimum(t *testing.T) {
	store := newTestStore(t)
	crLow := newTestChain(t, store, 1, 10)
	crHigh := newTestChain(t, store, 2, 50)

	c := &Coordinator{
		store:  store,
		chains: []*chainRuntime{crLow, crHigh},
		log:    logger.NewNopLogger(),
	}

	require.NoError(t, crLow.local.Sync(context.Background()))
	require.NoError(t, crHigh.local.Sync(context.Background()))

	latest := c.minChainCheckpoint(tagLatest)

	lowRef := crLow.local.LatestBlockRef()
	wantLow := checkpoint.EncodeBound(lowRef.Timestamp, crLow.chainID, lowRef.Number, true)
	require.Equal(t, wantLow, latest, "the lower chain's bound should win the cross-chain minimum")
}

func TestChainStatuses(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)
	cr.setState(StateRealtime)

	c := &Coordinator{store: store, chains: []*chainRuntime{cr}, log: logger.NewNopLogger()}

	statuses := c.ChainStatuses()
	require.Len(t, statuses, 1)
	require.Equal(t, cr.name, statuses[0].Name)
	require.Equal(t, StateRealtime, statuses[0].State)
}

func TestChainByName_Unknown(t *testing.T) {
	c := &Coordinator{log: logger.NewNopLogger()}
	_, err := c.chainByName("nope")
	require.Error(t, err)
}

func TestGetCachedTransport(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)
	c := &Coordinator{store: store, chains: []*chainRuntime{cr}, log: logger.NewNopLogger()}

	client, err := c.GetCachedTransport(cr.name)
	require.NoError(t, err)
	require.Same(t, cr.client, client)

	_, err = c.GetCachedTransport("unknown")
	require.Error(t, err)
}

func TestHandleBlockEvent_EmitsRealtimeBlock(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)

	var got []events.RealtimeEvent
	c := &Coordinator{
		store:           store,
		chains:          []*chainRuntime{cr},
		log:             logger.NewNopLogger(),
		onRealtimeEvent: func(ev events.RealtimeEvent) { got = append(got, ev) },
	}

	ev := realtimesync.Event{
		Kind:     realtimesync.EventBlock,
		Block:    realtimesync.LightBlock{Number: 11, Hash: common.BigToHash(big.NewInt(11)), Timestamp: 1100},
		MayMatch: true,
	}
	c.handleBlockEvent(context.Background(), cr, ev)

	require.Len(t, got, 1)
	require.Equal(t, events.RealtimeBlock, got[0].Type)
	require.Equal(t, cr.chainID, got[0].ChainID)
	require.EqualValues(t, 11, cr.local.LatestBlock())
}

func TestHandleBlockEvent_SkipsLogFilterWhenNoMatch(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)

	c := &Coordinator{store: store, chains: []*chainRuntime{cr}, log: logger.NewNopLogger()}

	ev := realtimesync.Event{
		Kind:     realtimesync.EventBlock,
		Block:    realtimesync.LightBlock{Number: 11, Hash: common.BigToHash(big.NewInt(11)), Timestamp: 1100},
		MayMatch: false,
	}
	require.NotPanics(t, func() { c.handleBlockEvent(context.Background(), cr, ev) })
}

func TestHandleFinalizeEvent_CompletesChainAndEmitsFinalize(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)

	// newTestChain already finalizes block 10 (toBlock, FinalityDepth 0), so
	// the chain is complete from the start; its state is set back to
	// historical here, and finalizing block 12 moves the cross-chain
	// finalized checkpoint. No follower is running in this test.
	cr.client.(*fakeClient).latestNumber = 12
	cr.client.(*fakeClient).blocks[12] = block(12, 1200)
	cr.state = StateHistorical

	var got []events.RealtimeEvent
	c := &Coordinator{
		store:           store,
		chains:          []*chainRuntime{cr},
		log:             logger.NewNopLogger(),
		onRealtimeEvent: func(ev events.RealtimeEvent) { got = append(got, ev) },
	}

	c.handleFinalizeEvent(context.Background(), cr, realtimesync.Event{
		Kind:  realtimesync.EventFinalize,
		Block: realtimesync.LightBlock{Number: 12, Hash: common.BigToHash(big.NewInt(12)), Timestamp: 1200},
	})

	require.Len(t, got, 1)
	require.Equal(t, events.RealtimeFinalize, got[0].Type)
	require.True(t, cr.local.IsComplete())
	require.Equal(t, StateComplete, cr.getState())
}

func TestHandleFinalizeEvent_PopulatesIntervalForNewlyFinalizedRange(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 20)

	prevFinalized := cr.local.FinalizedBlock().Number

	c := &Coordinator{store: store, chains: []*chainRuntime{cr}, log: logger.NewNopLogger()}

	c.handleFinalizeEvent(context.Background(), cr, realtimesync.Event{
		Kind:  realtimesync.EventFinalize,
		Block: realtimesync.LightBlock{Number: prevFinalized + 5, Hash: common.BigToHash(big.NewInt(int64(prevFinalized + 5))), Timestamp: 2000},
	})

	ivs, err := store.GetIntervals(context.Background(), cr.chainID, "event", cr.filterIDs[0])
	require.NoError(t, err)
	require.Equal(t, []interval.Range{{Lo: prevFinalized + 1, Hi: prevFinalized + 5}}, ivs)
	require.Equal(t, prevFinalized+5, cr.local.FinalizedBlock().Number)
}

func TestHandleFinalizeEvent_SuppressesEmitWhenMinimumDoesNotAdvance(t *testing.T) {
	store := newTestStore(t)
	crLow := newTestChain(t, store, 1, 10)
	crHigh := newTestChain(t, store, 2, 50)

	var got []events.RealtimeEvent
	c := &Coordinator{
		store:           store,
		chains:          []*chainRuntime{crLow, crHigh},
		log:             logger.NewNopLogger(),
		onRealtimeEvent: func(ev events.RealtimeEvent) { got = append(got, ev) },
	}

	finalized := crHigh.local.FinalizedBlock()
	c.handleFinalizeEvent(context.Background(), crHigh, realtimesync.Event{
		Kind:  realtimesync.EventFinalize,
		Block: realtimesync.LightBlock{Number: finalized.Number + 1, Hash: common.BigToHash(big.NewInt(int64(finalized.Number + 1))), Timestamp: finalized.Timestamp + 100},
	})

	require.Empty(t, got, "crLow's lower finalized checkpoint still pins the cross-chain minimum")
}

func TestHandleReorgEvent_PrunesAndEmits(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 20)

	require.NoError(t, store.PopulateEvents(context.Background(), cr.filters[0], cr.chainID, cr.filterIDs[0], interval.Range{Lo: 0, Hi: 15}))

	var got []events.RealtimeEvent
	c := &Coordinator{
		store:           store,
		chains:          []*chainRuntime{cr},
		log:             logger.NewNopLogger(),
		onRealtimeEvent: func(ev events.RealtimeEvent) { got = append(got, ev) },
	}

	c.handleReorgEvent(context.Background(), cr, realtimesync.Event{
		Kind:  realtimesync.EventReorg,
		Block: realtimesync.LightBlock{Number: 10, Hash: common.BigToHash(big.NewInt(10)), Timestamp: 1000},
	})

	require.Len(t, got, 1)
	require.Equal(t, events.RealtimeReorg, got[0].Type)
	require.EqualValues(t, 10, cr.local.LatestBlock())
}

func TestHandleRealtimeEvent_UnknownKindPanics(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)
	c := &Coordinator{store: store, chains: []*chainRuntime{cr}, log: logger.NewNopLogger()}

	require.Panics(t, func() {
		c.handleRealtimeEvent(context.Background(), realtimeItem{chain: cr, event: realtimesync.Event{Kind: "bogus"}})
	})
}

func TestKill_SafeWithoutStartRealtime(t *testing.T) {
	store := newTestStore(t)
	cr := newTestChain(t, store, 1, 10)
	c := &Coordinator{store: store, chains: []*chainRuntime{cr}, log: logger.NewNopLogger()}

	require.NotPanics(t, c.Kill)
	require.Equal(t, StateKilled, cr.getState())
}

func TestSources(t *testing.T) {
	want := []events.Source{{FilterID: "f1", Name: "s1", NetworkName: "n1", ChainID: 1}}
	c := &Coordinator{sources: want}
	require.Equal(t, want, c.Sources())
}
