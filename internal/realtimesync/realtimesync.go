// Package realtimesync implements the per-chain tip follower (spec
// component C7): starting from a chain's finalized block, it polls for new
// heads and emits block/reorg/finalize notifications to a single callback
// in strict per-chain temporal order, detecting reorgs with a light-block
// ancestor walk the way the teacher's reorg detector verifies cached block
// hashes against freshly fetched headers.
package realtimesync

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chainsynccommon "github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/logger"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

// EventKind discriminates the three notifications a follower emits.
type EventKind string

const (
	EventBlock    EventKind = "block"
	EventReorg    EventKind = "reorg"
	EventFinalize EventKind = "finalize"
)

// LightBlock is the minimal per-block record the ancestor walk needs:
// enough to verify chain continuity and report a checkpoint-worthy
// position without paying for a full block fetch on every lookup.
type LightBlock struct {
	Hash       common.Hash
	ParentHash common.Hash
	Number     uint64
	Timestamp  uint64
}

// Event is one notification raised to a chain's callback.
type Event struct {
	Kind  EventKind
	Block LightBlock
	// MayMatch is only meaningful for EventBlock: whether the block's logs
	// bloom could contain a log matching one of the chain's registered log
	// filters. A coordinator may use it to skip log-sync work for this
	// block without skipping the block event itself (interval bookkeeping
	// still needs every block number accounted for).
	MayMatch bool
}

// Callback receives events in order; it must not block for long, since the
// follower is single-threaded per chain.
type Callback func(Event)

// Config tunes polling cadence and the finality window.
type Config struct {
	// PollInterval is how often the follower checks for a new head. Defaults
	// to 4s when zero.
	PollInterval time.Duration
	// FinalityDepth is the number of blocks behind the head considered
	// irreversible; it bounds how far back the ancestor walk may go.
	FinalityDepth uint64
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 4 * time.Second
}

// ErrFatalReorg is raised when the ancestor walk would cross below the
// finalized block: state assumed irreversible turned out not to be, which
// should never happen under a correctly configured finality depth and
// leaves the follower unable to safely continue.
type ErrFatalReorg struct {
	ChainID uint64
	// Depth is how many blocks the walk descended before giving up.
	Depth uint64
}

func (e *ErrFatalReorg) Error() string {
	return fmt.Sprintf("realtimesync: chain %d ancestor walk crossed finalized block after %d steps", e.ChainID, e.Depth)
}

// RealtimeSync is a single chain's tip follower.
type RealtimeSync struct {
	chainID uint64
	client  pkgrpc.EthClient
	cfg     Config
	filters []filter.Filter
	log     *logger.Logger

	mu    sync.Mutex
	chain []LightBlock // ascending by number, contiguous, chain[0].Number == finalizedNumber

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a follower's in-memory chain at the given finalized block.
// filters is used only for the bloom pre-filter; it need not include
// block-stride filters (they're treated as always-may-match).
func New(chainID uint64, client pkgrpc.EthClient, filters []filter.Filter, cfg Config, finalized LightBlock, log *logger.Logger) *RealtimeSync {
	return &RealtimeSync{
		chainID: chainID,
		client:  client,
		cfg:     cfg,
		filters: filters,
		log:     log.WithComponent(chainsynccommon.ComponentRealtimeSync),
		chain:   []LightBlock{finalized},
	}
}

// Start begins polling in the background. onEvent is invoked for every
// block/reorg/finalize notification, in order. onFatal is invoked at most
// once, if the ancestor walk ever crosses below the finalized block; the
// follower stops polling immediately after.
func (rs *RealtimeSync) Start(ctx context.Context, onEvent Callback, onFatal func(error)) {
	ctx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	rs.wg.Add(1)
	go rs.run(ctx, onEvent, onFatal)
}

func (rs *RealtimeSync) run(ctx context.Context, onEvent Callback, onFatal func(error)) {
	defer rs.wg.Done()

	ticker := time.NewTicker(rs.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rs.Poll(ctx, onEvent); err != nil {
				rs.log.Errorw("tip poll failed", "error", err)

				var fatal *ErrFatalReorg
				if errors.As(err, &fatal) {
					if onFatal != nil {
						onFatal(err)
					}
					return
				}
			}
		}
	}
}

// Kill stops polling and waits for any poll already in flight to finish
// before returning, so the caller can safely dispose of the chain client
// immediately afterward.
func (rs *RealtimeSync) Kill() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.wg.Wait()
}

// Poll fetches the current head and, if it has moved, walks the chain from
// head back to a known ancestor, emitting reorg/block/finalize events for
// whatever changed. Exported so tests and a synchronous caller don't need
// to go through the ticker loop.
func (rs *RealtimeSync) Poll(ctx context.Context, onEvent Callback) error {
	head, err := rs.client.GetBlockByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("realtimesync: fetch head: %w", err)
	}

	events, err := rs.advance(ctx, head)
	if err != nil {
		return err
	}

	for _, ev := range events {
		onEvent(ev)
	}
	return nil
}

func (rs *RealtimeSync) advance(ctx context.Context, head *pkgrpc.RawBlock) ([]Event, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	tip := rs.chain[len(rs.chain)-1]
	base := rs.chain[0].Number

	if head.Number == tip.Number && head.Hash == tip.Hash {
		return nil, nil
	}

	ancestorBlocks, err := rs.walkToAncestorLocked(ctx, head, tip, base)
	if err != nil {
		return nil, err
	}

	var events []Event

	ancestor := ancestorBlocks[0]
	if ancestor.Number < tip.Number {
		rs.chain = rs.chain[:ancestor.Number-base+1]
		reorgsInc(rs.chainID)
		events = append(events, Event{Kind: EventReorg, Block: toLightBlock(ancestor)})
	}

	for _, blk := range ancestorBlocks[1:] {
		lb := toLightBlock(blk)
		rs.chain = append(rs.chain, lb)
		mayMatch := mayMatchBloom(blk.Bloom, rs.filters)
		if !mayMatch {
			bloomSkipsInc(rs.chainID)
		}
		events = append(events, Event{Kind: EventBlock, Block: lb, MayMatch: mayMatch})
	}
	tipBlockSet(rs.chainID, head.Number)

	oldFinalized := rs.chain[0].Number
	newFinalized := uint64(0)
	if head.Number > rs.cfg.FinalityDepth {
		newFinalized = head.Number - rs.cfg.FinalityDepth
	}
	if newFinalized > oldFinalized {
		finalizedBlock, ok := rs.lookupLocked(newFinalized)
		if ok {
			rs.chain = rs.chain[newFinalized-oldFinalized:]
			events = append(events, Event{Kind: EventFinalize, Block: finalizedBlock})
		}
	}

	return events, nil
}

// walkToAncestorLocked walks backward from head until it finds a block
// number/hash pair already present in the local chain cache, returning the
// ancestor followed by every block from ancestor+1 through head in
// ascending order. Must be called with rs.mu held.
func (rs *RealtimeSync) walkToAncestorLocked(ctx context.Context, head *pkgrpc.RawBlock, tip LightBlock, base uint64) ([]*pkgrpc.RawBlock, error) {
	var descending []*pkgrpc.RawBlock
	cur := head

	for {
		if cur.Number <= tip.Number {
			if cached, ok := rs.lookupLocked(cur.Number); ok && cached.Hash == cur.Hash {
				descending = append(descending, cur)
				break
			}
		}
		if cur.Number <= base {
			return nil, &ErrFatalReorg{ChainID: rs.chainID, Depth: uint64(len(descending))}
		}

		descending = append(descending, cur)

		parent, err := rs.client.GetBlockByNumber(ctx, new(big.Int).SetUint64(cur.Number-1))
		if err != nil {
			return nil, fmt.Errorf("realtimesync: fetch ancestor %d: %w", cur.Number-1, err)
		}
		cur = parent
	}

	ascending := make([]*pkgrpc.RawBlock, len(descending))
	for i, blk := range descending {
		ascending[len(descending)-1-i] = blk
	}
	return ascending, nil
}

// lookupLocked returns the cached light block at number, if it falls
// within the contiguous [chain[0].Number, tip] window. Must be called with
// rs.mu held.
func (rs *RealtimeSync) lookupLocked(number uint64) (LightBlock, bool) {
	base := rs.chain[0].Number
	if number < base {
		return LightBlock{}, false
	}
	idx := number - base
	if idx >= uint64(len(rs.chain)) {
		return LightBlock{}, false
	}
	return rs.chain[idx], true
}

func toLightBlock(b *pkgrpc.RawBlock) LightBlock {
	return LightBlock{Hash: b.Hash, ParentHash: b.ParentHash, Number: b.Number, Timestamp: b.Timestamp}
}
