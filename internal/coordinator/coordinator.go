// Package coordinator implements the omnichain coordinator (C8): the top
// of the sync engine that owns one historical/local/realtime sync triple
// per configured chain, drives the checkpoint-ordered historical stream
// across all of them, and, once a chain catches up, hands it off to a
// realtime follower whose block/reorg/finalize notifications are
// translated into the same RawEvent/RealtimeEvent shapes the historical
// stream produces. It is the one place that understands "across chains";
// everything it calls understands only its own chain.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	chainsynccommon "github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/checkpoint"
	"github.com/oxSaturn/chainsync/internal/config"
	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/historicalsync"
	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/localsync"
	"github.com/oxSaturn/chainsync/internal/logger"
	internalrpc "github.com/oxSaturn/chainsync/internal/rpc"
	"github.com/oxSaturn/chainsync/internal/realtimesync"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	"github.com/oxSaturn/chainsync/pkg/events"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

// State names the coordinator's (and, per chain, each chain's) position in
// the NEW -> HISTORICAL -> TIP -> REALTIME -> (COMPLETE|KILLED) lifecycle.
type State string

const (
	StateNew        State = "new"
	StateHistorical State = "historical"
	StateTip        State = "tip"
	StateRealtime   State = "realtime"
	StateComplete   State = "complete"
	StateKilled     State = "killed"
)

// defaultBatchLimit bounds how many event rows GetEvents pulls per page out
// of the sync store, matching the store's own GetEvents contract.
const defaultBatchLimit = 2000

// chainRuntime is one configured chain's full vertical slice: its client,
// its historical/local sync pair, its filter set, and (once StartRealtime
// runs) its tip follower.
type chainRuntime struct {
	name    string
	chainID uint64
	client  pkgrpc.EthClient

	historical *historicalsync.HistoricalSync
	local      *localsync.LocalSync
	filters    []filter.Filter
	sources    []historicalsync.Source
	filterIDs  []string

	realtimeCfg realtimesync.Config

	mu       sync.Mutex
	state    State
	realtime *realtimesync.RealtimeSync
}

func (cr *chainRuntime) setState(s State) {
	cr.mu.Lock()
	cr.state = s
	cr.mu.Unlock()
	chainStateSet(cr.chainID, s)
}

func (cr *chainRuntime) getState() State {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.state
}

// Coordinator is the omnichain coordinator described above.
type Coordinator struct {
	store  *syncstore.Store
	chains []*chainRuntime
	log    *logger.Logger

	allFilterIDs []string
	sources      []events.Source

	onRealtimeEvent func(events.RealtimeEvent)

	queue       chan realtimeItem
	queueCancel context.CancelFunc
	queueDone   chan struct{}
}

type realtimeItem struct {
	chain *chainRuntime
	event realtimesync.Event
}

// New builds one chainRuntime per cfg.Networks entry: a cached, retrying RPC
// client, the filters declared for that network's sources, and the
// historical/local sync pair driven against store.
func New(ctx context.Context, cfg *config.Config, store *syncstore.Store, log *logger.Logger) (*Coordinator, error) {
	c := &Coordinator{
		store: store,
		log:   log.WithComponent(chainsynccommon.ComponentCoordinator),
	}

	for _, n := range cfg.Networks {
		cr, srcs, err := c.buildChain(ctx, n, cfg)
		if err != nil {
			return nil, fmt.Errorf("coordinator: chain %q: %w", n.Name, err)
		}
		c.chains = append(c.chains, cr)
		c.sources = append(c.sources, srcs...)
		for _, id := range cr.filterIDs {
			c.allFilterIDs = append(c.allFilterIDs, id)
		}
	}

	return c, nil
}

func (c *Coordinator) buildChain(ctx context.Context, n config.NetworkConfig, cfg *config.Config) (*chainRuntime, []events.Source, error) {
	rawClient, err := internalrpc.NewClient(ctx, n.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", n.RPCURL, err)
	}

	retrying := internalrpc.NewRetryingClient(rawClient, cfg.Retry)
	cached := internalrpc.NewCachedClient(retrying, c.store, n.ChainID)

	var (
		sources   []historicalsync.Source
		filters   []filter.Filter
		filterIDs []string
		evSources []events.Source
	)
	for _, sc := range cfg.Sources {
		if sc.NetworkName != n.Name {
			continue
		}

		f, err := buildFilter(sc, n.ChainID)
		if err != nil {
			return nil, nil, err
		}

		sources = append(sources, historicalsync.Source{Name: sc.Name, Filter: f})
		filters = append(filters, f)

		id := filter.FilterID(f)
		filterIDs = append(filterIDs, id)
		evSources = append(evSources, events.Source{
			FilterID:    id,
			Name:        sc.Name,
			NetworkName: n.Name,
			ChainID:     n.ChainID,
			ABI:         sc.ABI,
		})
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no sources configured for network %q", n.Name)
	}

	hs, err := historicalsync.New(ctx, n.ChainID, sources, cached, c.store, c.log)
	if err != nil {
		return nil, nil, fmt.Errorf("build historical sync: %w", err)
	}

	ls, err := localsync.New(ctx, n.ChainID, sources, cached, hs, localsync.Config{
		FinalityDepth: n.FinalityDepth,
	}, c.log)
	if err != nil {
		return nil, nil, fmt.Errorf("build local sync: %w", err)
	}

	hs.InitializeMetrics(ls.FinalizedBlock().Number)

	cr := &chainRuntime{
		name:       n.Name,
		chainID:    n.ChainID,
		client:     cached,
		historical: hs,
		local:      ls,
		filters:    filters,
		sources:    sources,
		filterIDs:  filterIDs,
		realtimeCfg: realtimesync.Config{
			FinalityDepth: n.FinalityDepth,
		},
		state: StateHistorical,
	}
	chainStateSet(n.ChainID, StateHistorical)
	return cr, evSources, nil
}

// Sources returns the user-facing metadata for every configured source,
// across every chain, for a decoder or other downstream consumer to index
// by FilterID.
func (c *Coordinator) Sources() []events.Source {
	return c.sources
}

// GetCachedTransport returns the read-through cached RPC client for
// networkName, letting a caller outside the sync engine (maintenance,
// diagnostics) reuse the same transport and cache the engine itself reads
// through, instead of opening a second connection.
func (c *Coordinator) GetCachedTransport(networkName string) (pkgrpc.EthClient, error) {
	cr, err := c.chainByName(networkName)
	if err != nil {
		return nil, err
	}
	return cr.client, nil
}

// ChainStatus is a health/status snapshot for one configured chain, for a
// downstream health-check endpoint.
type ChainStatus struct {
	Name        string
	ChainID     uint64
	State       State
	LatestBlock uint64
}

// ChainStatuses returns a status snapshot for every configured chain.
func (c *Coordinator) ChainStatuses() []ChainStatus {
	out := make([]ChainStatus, len(c.chains))
	for i, cr := range c.chains {
		out[i] = ChainStatus{
			Name:        cr.name,
			ChainID:     cr.chainID,
			State:       cr.getState(),
			LatestBlock: cr.local.LatestBlock(),
		}
	}
	return out
}

func (c *Coordinator) chainByName(name string) (*chainRuntime, error) {
	for _, cr := range c.chains {
		if cr.name == name {
			return cr, nil
		}
	}
	return nil, fmt.Errorf("coordinator: unknown network %q", name)
}

// EventsResult is one unit sent on the channel returned by GetEvents: a page
// of materialized events, or a terminal error.
type EventsResult struct {
	Events []events.RawEvent
	Err    error
}

// GetEvents drives the historical stream across every configured chain: it
// repeatedly syncs every chain's pacer in parallel, computes the checkpoint
// bound common to all of them ("latest"), pages the sync store for
// everything up to that bound in strict global order, and stops once every
// chain has caught up to its initial finalized-block snapshot ("finalized").
// The returned channel is closed when that point is reached, when ctx is
// canceled, or after an EventsResult carrying a non-nil Err — the coordinator
// transitions to StateTip at that point; a caller continuing past the
// initial catch-up calls StartRealtime.
func (c *Coordinator) GetEvents(ctx context.Context) <-chan EventsResult {
	out := make(chan EventsResult)

	go func() {
		defer close(out)

		end := c.minChainCheckpoint(tagFinalized)
		from := c.minChainCheckpoint(tagStart)

		for {
			if err := c.syncAllChains(ctx); err != nil {
				out <- EventsResult{Err: err}
				return
			}

			if !c.allChainsReady() {
				continue
			}

			to := c.minChainCheckpoint(tagLatest)

			for from < to {
				page, err := c.store.GetEvents(ctx, syncstore.GetEventsQuery{
					Filters: c.allFilterIDs,
					From:    from,
					To:      to,
					Limit:   defaultBatchLimit,
				})
				if err != nil {
					out <- EventsResult{Err: fmt.Errorf("coordinator: get events: %w", err)}
					return
				}

				if len(page.Events) > 0 {
					raw, err := toRawEvents(page.Events)
					if err != nil {
						out <- EventsResult{Err: fmt.Errorf("coordinator: decode event rows: %w", err)}
						return
					}
					select {
					case out <- EventsResult{Events: raw}:
					case <-ctx.Done():
						return
					}
				}

				if page.Cursor == from {
					break // no progress possible; avoid spinning on a stuck cursor
				}
				from = page.Cursor
			}

			if to >= end {
				c.setAllState(StateTip)
				return
			}

			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()

	return out
}

func (c *Coordinator) syncAllChains(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, cr := range c.chains {
		cr := cr
		if cr.local.IsComplete() && cr.local.LatestBlockReady() {
			continue
		}
		g.Go(func() error {
			if err := cr.local.Sync(gctx); err != nil {
				return fmt.Errorf("chain %s: %w", cr.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) allChainsReady() bool {
	for _, cr := range c.chains {
		if !cr.local.LatestBlockReady() {
			return false
		}
	}
	return true
}

type checkpointTag int

const (
	tagStart checkpointTag = iota
	tagLatest
	tagFinalized
)

// minChainCheckpoint returns the lexical minimum, across every chain, of the
// checkpoint bound for tag: the lower bound (zero tail) for "start", the
// upper bound (nines tail) for "latest" and "finalized" — matching
// checkpoint.EncodeBound's role in building a bound that every real
// checkpoint at that block position compares on the correct side of.
func (c *Coordinator) minChainCheckpoint(tag checkpointTag) checkpoint.Checkpoint {
	cps := make([]checkpoint.Checkpoint, len(c.chains))
	for i, cr := range c.chains {
		var ref localsync.BlockRef
		upper := true
		switch tag {
		case tagStart:
			ref = cr.local.StartBlock()
			upper = false
		case tagLatest:
			ref = cr.local.LatestBlockRef()
		case tagFinalized:
			ref = cr.local.FinalizedBlock()
		}
		cps[i] = checkpoint.EncodeBound(ref.Timestamp, cr.chainID, ref.Number, upper)
	}
	return checkpoint.Min(cps...)
}

func (c *Coordinator) setAllState(s State) {
	for _, cr := range c.chains {
		cr.setState(s)
	}
}

// eventPayload mirrors internal/syncstore's persisted event.data JSON shape;
// kept local rather than imported since syncstore does not export it.
type eventPayload struct {
	Data   string  `json:"data"`
	Topic0 *string `json:"topic0,omitempty"`
	Topic1 *string `json:"topic1,omitempty"`
	Topic2 *string `json:"topic2,omitempty"`
	Topic3 *string `json:"topic3,omitempty"`
}

func toRawEvents(rows []syncstore.EventRow) ([]events.RawEvent, error) {
	out := make([]events.RawEvent, len(rows))
	for i, r := range rows {
		ev, err := toRawEvent(r)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

func toRawEvent(r syncstore.EventRow) (events.RawEvent, error) {
	ev := events.RawEvent{
		FilterID:        r.FilterID,
		Checkpoint:      r.Checkpoint,
		ChainID:         r.ChainID,
		BlockNumber:     r.BlockNumber,
		BlockHash:       r.BlockHash,
		LogIndex:        r.LogIndex,
		TransactionHash: r.TransactionHash,
	}
	if r.Data == nil {
		return ev, nil
	}

	var p eventPayload
	if err := json.Unmarshal([]byte(*r.Data), &p); err != nil {
		return events.RawEvent{}, fmt.Errorf("unmarshal event %s payload: %w", r.FilterID, err)
	}
	ev.Data = &events.LogEventData{
		Data:   p.Data,
		Topic0: p.Topic0,
		Topic1: p.Topic1,
		Topic2: p.Topic2,
		Topic3: p.Topic3,
	}
	return ev, nil
}

// StartRealtime begins a tip follower for every chain not already fully
// synced to a bounded end block, and starts the single worker goroutine that
// serializes every chain's block/reorg/finalize translation through one
// queue — so two chains advancing concurrently never race on the same
// onRealtimeEvent callback or interleave their sync store writes.
func (c *Coordinator) StartRealtime(ctx context.Context, onEvent func(events.RealtimeEvent)) {
	c.onRealtimeEvent = onEvent

	qctx, cancel := context.WithCancel(ctx)
	c.queueCancel = cancel
	c.queue = make(chan realtimeItem, 256)
	c.queueDone = make(chan struct{})

	go c.drainQueue(qctx)

	for _, cr := range c.chains {
		if cr.local.IsComplete() {
			continue
		}

		cr := cr
		finalized := cr.local.FinalizedBlock()
		rs := realtimesync.New(cr.chainID, cr.client, cr.filters, cr.realtimeCfg, realtimesync.LightBlock{
			Number:    finalized.Number,
			Hash:      finalized.Hash,
			Timestamp: finalized.Timestamp,
		}, c.log)

		cr.mu.Lock()
		cr.realtime = rs
		cr.mu.Unlock()
		cr.setState(StateRealtime)

		rs.Start(qctx, func(ev realtimesync.Event) {
			select {
			case c.queue <- realtimeItem{chain: cr, event: ev}:
				realtimeQueueDepthSet(len(c.queue))
			case <-qctx.Done():
			}
		}, func(err error) {
			c.log.Errorw("tip follower stopped on fatal reorg", "chain", cr.name, "error", err)
		})
	}
}

func (c *Coordinator) drainQueue(ctx context.Context) {
	defer close(c.queueDone)
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.queue:
			realtimeQueueDepthSet(len(c.queue))
			c.handleRealtimeEvent(ctx, item)
		}
	}
}

func (c *Coordinator) handleRealtimeEvent(ctx context.Context, item realtimeItem) {
	cr := item.chain
	ev := item.event

	switch ev.Kind {
	case realtimesync.EventBlock:
		c.handleBlockEvent(ctx, cr, ev)
	case realtimesync.EventFinalize:
		c.handleFinalizeEvent(ctx, cr, ev)
	case realtimesync.EventReorg:
		c.handleReorgEvent(ctx, cr, ev)
	default:
		panic(fmt.Sprintf("coordinator: unhandled realtime event kind %q", ev.Kind))
	}
}

func (c *Coordinator) handleBlockEvent(ctx context.Context, cr *chainRuntime, ev realtimesync.Event) {
	cr.local.SetRealtimeOverride(localsync.BlockRef{
		Number:    ev.Block.Number,
		Hash:      ev.Block.Hash,
		Timestamp: ev.Block.Timestamp,
	})

	r := interval.Range{Lo: ev.Block.Number, Hi: ev.Block.Number}
	for i, src := range cr.sources {
		if src.Filter.Kind == filter.KindLog && !ev.MayMatch {
			continue
		}
		if err := c.store.PopulateEvents(ctx, src.Filter, cr.chainID, cr.filterIDs[i], r); err != nil {
			c.log.Errorw("populate realtime block events failed", "chain", cr.name, "block", ev.Block.Number, "error", err)
			return
		}
	}

	rows, err := c.store.GetEventsAtBlock(ctx, cr.chainID, cr.filterIDs, ev.Block.Number)
	if err != nil {
		c.log.Errorw("load realtime block events failed", "chain", cr.name, "block", ev.Block.Number, "error", err)
		return
	}

	raw, err := toRawEvents(rows)
	if err != nil {
		c.log.Errorw("decode realtime block events failed", "chain", cr.name, "block", ev.Block.Number, "error", err)
		return
	}

	c.emit(events.RealtimeEvent{Type: events.RealtimeBlock, ChainID: cr.chainID, Events: raw})
}

// handleFinalizeEvent mirrors historical sync's own finalized-range handling
// (spec §3.4's populateEvents/interval bookkeeping) for blocks that finalize
// after a chain has already handed off to realtime: without this, the
// event-kind interval cache for the chain stops growing the moment realtime
// takes over, and GetEvents's historical stream never learns about anything
// finalized afterward. The RealtimeFinalize notification itself is only
// emitted when the cross-chain minimum finalized checkpoint actually moves,
// since a single chain finalizing further doesn't mean every source has
// caught up to a new safe read point.
func (c *Coordinator) handleFinalizeEvent(ctx context.Context, cr *chainRuntime, ev realtimesync.Event) {
	prevFinalized := cr.local.FinalizedBlock()
	prevMin := c.minChainCheckpoint(tagFinalized)

	cr.local.SetFinalizedBlock(localsync.BlockRef{
		Number:    ev.Block.Number,
		Hash:      ev.Block.Hash,
		Timestamp: ev.Block.Timestamp,
	})

	if ev.Block.Number > prevFinalized.Number {
		r := interval.Range{Lo: prevFinalized.Number + 1, Hi: ev.Block.Number}
		for i, src := range cr.sources {
			if err := c.store.PopulateEvents(ctx, src.Filter, cr.chainID, cr.filterIDs[i], r); err != nil {
				c.log.Errorw("populate finalized events failed", "chain", cr.name, "range", r, "error", err)
				return
			}
			if err := c.store.InsertInterval(ctx, cr.chainID, "event", cr.filterIDs[i], r); err != nil {
				c.log.Errorw("insert finalized interval failed", "chain", cr.name, "range", r, "error", err)
				return
			}
		}
	}

	if newMin := c.minChainCheckpoint(tagFinalized); newMin > prevMin {
		c.emit(events.RealtimeEvent{Type: events.RealtimeFinalize, ChainID: cr.chainID, Checkpoint: newMin})
	}

	if cr.local.IsComplete() {
		cr.setState(StateComplete)
		cr.mu.Lock()
		rs := cr.realtime
		cr.mu.Unlock()
		if rs != nil {
			rs.Kill()
		}
	}
}

func (c *Coordinator) handleReorgEvent(ctx context.Context, cr *chainRuntime, ev realtimesync.Event) {
	if err := c.store.PruneAbove(ctx, cr.chainID, ev.Block.Number); err != nil {
		c.log.Errorw("prune above ancestor failed", "chain", cr.name, "ancestor", ev.Block.Number, "error", err)
		return
	}

	cr.local.SetRealtimeOverride(localsync.BlockRef{
		Number:    ev.Block.Number,
		Hash:      ev.Block.Hash,
		Timestamp: ev.Block.Timestamp,
	})

	cp := checkpoint.EncodeBound(ev.Block.Timestamp, cr.chainID, ev.Block.Number, true)
	c.emit(events.RealtimeEvent{Type: events.RealtimeReorg, ChainID: cr.chainID, Checkpoint: cp})
}

func (c *Coordinator) emit(ev events.RealtimeEvent) {
	realtimeEventsInc(ev.ChainID, string(ev.Type))
	if c.onRealtimeEvent != nil {
		c.onRealtimeEvent(ev)
	}
}

// Kill stops every running tip follower, cancels the realtime worker queue,
// closes every chain's RPC connection, and marks every chain KILLED. It is
// safe to call Kill before StartRealtime was ever called.
func (c *Coordinator) Kill() {
	for _, cr := range c.chains {
		cr.mu.Lock()
		rs := cr.realtime
		cr.mu.Unlock()
		if rs != nil {
			rs.Kill()
		}
	}

	if c.queueCancel != nil {
		c.queueCancel()
		<-c.queueDone
	}

	for _, cr := range c.chains {
		cr.client.Close()
	}

	c.setAllState(StateKilled)
}
