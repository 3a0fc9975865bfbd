// Package localsync implements the per-chain pacer (spec component C6)
// that sits between the omnichain coordinator and historical sync. It owns
// a snapshot of the chain's start/end/latest/finalized blocks and a cursor
// that advances in bounded chunks, so a downstream consumer sees its first
// events quickly instead of waiting for the whole historical range to
// download before anything is yielded.
package localsync

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	chainsynccommon "github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/historicalsync"
	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/logger"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

// Config tunes the pacer's chunking and finality behavior.
type Config struct {
	// FinalityDepth is the number of blocks behind the chain tip considered
	// irreversible.
	FinalityDepth uint64
	// BlocksPerEventFactor is the initial heuristic for how many blocks each
	// sync() call requests in total: the factor times 1000 blocks, divided by
	// the number of sources. Defaults to 0.25 when zero.
	BlocksPerEventFactor float64
}

func (c Config) blocksPerEventFactor() float64 {
	if c.BlocksPerEventFactor > 0 {
		return c.BlocksPerEventFactor
	}
	return 0.25
}

// BlockRef is the light-block snapshot used for start/end/latest/finalized
// bookkeeping: enough to report a block number without paying for a full
// block fetch everywhere it's read.
type BlockRef struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
}

// LocalSync is the per-chain pacer described in spec §4.6.
type LocalSync struct {
	chainID uint64
	cfg     Config
	client  pkgrpc.EthClient
	hs      *historicalsync.HistoricalSync
	log     *logger.Logger

	numSources int

	startBlock     BlockRef
	endBlock       *BlockRef
	finalizedBlock BlockRef

	mu               sync.RWMutex
	fromBlock        uint64
	realtimeOverride *BlockRef
	// synced becomes true after the first completed Sync call; before that,
	// historical sync's own progress (case 4 of LatestBlock) is undefined,
	// matching spec §4.8's "if any chain's latestBlock is still undefined,
	// continue the outer loop".
	synced bool
}

// New performs the parallel initialization snapshot described in spec
// §4.6: chain id, the block at the minimum fromBlock among sources, the
// block at the maximum toBlock (only if every source has one), and the
// current head, from which finalizedBlock is derived.
func New(ctx context.Context, chainID uint64, sources []historicalsync.Source, client pkgrpc.EthClient, hs *historicalsync.HistoricalSync, cfg Config, log *logger.Logger) (*LocalSync, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("localsync: chain %d has no sources", chainID)
	}

	minFrom, maxTo, bounded := sourceBounds(sources)

	ls := &LocalSync{
		chainID:    chainID,
		cfg:        cfg,
		client:     client,
		hs:         hs,
		log:        log.WithComponent(chainsynccommon.ComponentLocalSync),
		numSources: len(sources),
	}

	var (
		startBlk, latestBlk *pkgrpc.RawBlock
		endBlk              *pkgrpc.RawBlock
		remoteChainID       uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := client.ChainID(gctx)
		if err != nil {
			return fmt.Errorf("localsync: chain id: %w", err)
		}
		remoteChainID = id
		return nil
	})
	g.Go(func() error {
		blk, err := client.GetBlockByNumber(gctx, blockNumberArg(minFrom))
		if err != nil {
			return fmt.Errorf("localsync: fetch start block %d: %w", minFrom, err)
		}
		startBlk = blk
		return nil
	})
	g.Go(func() error {
		blk, err := client.GetBlockByNumber(gctx, nil)
		if err != nil {
			return fmt.Errorf("localsync: fetch latest block: %w", err)
		}
		latestBlk = blk
		return nil
	})
	if bounded {
		g.Go(func() error {
			blk, err := client.GetBlockByNumber(gctx, blockNumberArg(maxTo))
			if err != nil {
				return fmt.Errorf("localsync: fetch end block %d: %w", maxTo, err)
			}
			endBlk = blk
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if remoteChainID != chainID {
		ls.log.Warnw("configured chain id disagrees with RPC", "configured", chainID, "rpc", remoteChainID)
	}

	ls.startBlock = toBlockRef(startBlk)
	if bounded {
		ref := toBlockRef(endBlk)
		ls.endBlock = &ref
	}
	ls.fromBlock = ls.startBlock.Number

	finalizedNumber := uint64(0)
	if latestBlk.Number > ls.cfg.FinalityDepth {
		finalizedNumber = latestBlk.Number - ls.cfg.FinalityDepth
	}

	finalizedBlk, err := client.GetBlockByNumber(ctx, blockNumberArg(finalizedNumber))
	if err != nil {
		return nil, fmt.Errorf("localsync: fetch finalized block %d: %w", finalizedNumber, err)
	}
	ls.finalizedBlock = toBlockRef(finalizedBlk)
	finalizedBlockSet(chainID, ls.finalizedBlock.Number)
	cursorBlockSet(chainID, ls.fromBlock)

	ls.log.Infow("local sync initialized",
		"start_block", ls.startBlock.Number,
		"finalized_block", ls.finalizedBlock.Number,
		"end_block_defined", bounded,
	)

	return ls, nil
}

// SetFinalizedBlock updates the finalized-block snapshot; used by realtime
// sync's `finalize` translation once a higher block crosses the finality
// depth (spec §4.8).
func (ls *LocalSync) SetFinalizedBlock(ref BlockRef) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.finalizedBlock = ref
	finalizedBlockSet(ls.chainID, ref.Number)
}

// SetRealtimeOverride pins LatestBlock/LatestBlockRef to ref once realtime
// sync takes over tip-following for this chain.
func (ls *LocalSync) SetRealtimeOverride(ref BlockRef) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.realtimeOverride = &ref
}

// ChainID returns the chain this pacer serves.
func (ls *LocalSync) ChainID() uint64 {
	return ls.chainID
}

// StartBlock returns the initial snapshot's start block.
func (ls *LocalSync) StartBlock() BlockRef {
	return ls.startBlock
}

// FinalizedBlock returns the most recently observed finalized block.
func (ls *LocalSync) FinalizedBlock() BlockRef {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.finalizedBlock
}

// FromBlock returns the pacer's current historical cursor.
func (ls *LocalSync) FromBlock() uint64 {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.fromBlock
}

// LatestBlock implements the four-step precedence from spec §4.6: a
// realtime override wins outright; otherwise the cursor's position
// relative to endBlock and finalizedBlock decides whether to report those
// fixed snapshots or fall through to historical sync's own progress.
func (ls *LocalSync) LatestBlock() uint64 {
	return ls.LatestBlockRef().Number
}

// LatestBlockRef is LatestBlock with the matching block timestamp attached,
// needed by the coordinator to build a checkpoint bound rather than a bare
// block number (spec §4.8).
func (ls *LocalSync) LatestBlockRef() BlockRef {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	if ls.realtimeOverride != nil {
		return *ls.realtimeOverride
	}
	if ls.endBlock != nil && ls.fromBlock >= ls.endBlock.Number {
		return *ls.endBlock
	}
	if ls.fromBlock >= ls.finalizedBlock.Number {
		return ls.finalizedBlock
	}
	return BlockRef{Number: ls.hs.LatestBlock(), Timestamp: ls.hs.LatestBlockTimestamp()}
}

// LatestBlockReady reports whether LatestBlock reflects real progress yet.
// Before the first completed Sync call, historical sync's own cursor (the
// fallback case above) is undefined, matching spec §4.8's "if any chain's
// latestBlock is still undefined, continue the outer loop" — the other
// three cases are always well-defined from the initial snapshot alone.
func (ls *LocalSync) LatestBlockReady() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	if ls.realtimeOverride != nil {
		return true
	}
	if ls.endBlock != nil && ls.fromBlock >= ls.endBlock.Number {
		return true
	}
	if ls.fromBlock >= ls.finalizedBlock.Number {
		return true
	}
	return ls.synced
}

// Sync advances the cursor by one bounded chunk and drives historical sync
// over it. The chunk size is capped by finalizedBlock so historical sync
// never reaches into the unfinalized tip, which realtime sync owns once
// started.
func (ls *LocalSync) Sync(ctx context.Context) error {
	ls.mu.Lock()
	from := ls.fromBlock
	finalized := ls.finalizedBlock.Number
	factor := ls.cfg.blocksPerEventFactor()
	ls.mu.Unlock()

	if from > finalized {
		return nil
	}

	chunk := blocksPerEventChunk(factor, ls.numSources)
	to := from + chunk
	if to > finalized {
		to = finalized
	}

	if err := ls.hs.Sync(ctx, interval.Range{Lo: from, Hi: to}); err != nil {
		return fmt.Errorf("localsync: chain %d sync [%d,%d]: %w", ls.chainID, from, to, err)
	}

	ls.mu.Lock()
	ls.fromBlock = to
	ls.synced = true
	ls.mu.Unlock()
	cursorBlockSet(ls.chainID, to)

	return nil
}

// IsComplete reports whether this chain has nothing left to historically
// sync: endBlock is defined and finalizedBlock has caught up to it.
func (ls *LocalSync) IsComplete() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.endBlock != nil && ls.finalizedBlock.Number >= ls.endBlock.Number
}

func blocksPerEventChunk(factor float64, numSources int) uint64 {
	if numSources == 0 {
		numSources = 1
	}
	blocksPerEvent := factor / float64(numSources)
	chunk := blocksPerEvent * 1000
	if chunk < 1 {
		chunk = 1
	}
	return uint64(chunk)
}

func blockNumberArg(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}

func toBlockRef(b *pkgrpc.RawBlock) BlockRef {
	return BlockRef{Number: b.Number, Hash: b.Hash, Timestamp: b.Timestamp}
}

// filterFromTo returns a source filter's FromBlock and ToBlock, with
// openEnded true when ToBlock is nil.
func filterFromTo(f filter.Filter) (from, to uint64, openEnded bool) {
	switch f.Kind {
	case filter.KindLog:
		if f.Log.ToBlock == nil {
			return f.Log.FromBlock, 0, true
		}
		return f.Log.FromBlock, *f.Log.ToBlock, false
	case filter.KindBlock:
		if f.Block.ToBlock == nil {
			return f.Block.FromBlock, 0, true
		}
		return f.Block.FromBlock, *f.Block.ToBlock, false
	default:
		return 0, 0, true
	}
}

func sourceBounds(sources []historicalsync.Source) (minFrom, maxTo uint64, bounded bool) {
	minFrom = math.MaxUint64
	bounded = true
	for _, src := range sources {
		from, to, open := filterFromTo(src.Filter)
		if from < minFrom {
			minFrom = from
		}
		if open {
			bounded = false
			continue
		}
		if to > maxTo {
			maxTo = to
		}
	}
	if minFrom == math.MaxUint64 {
		minFrom = 0
	}
	return minFrom, maxTo, bounded
}
