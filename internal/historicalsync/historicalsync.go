// Package historicalsync implements the historical sync driver (C5): the
// per-chain engine that, given a requested block range, fetches exactly the
// logs and blocks a set of declarative filters still need, materializes
// matching events, and records what it has covered so the next call only
// touches the gap.
package historicalsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	chainsynccommon "github.com/oxSaturn/chainsync/internal/common"
	"github.com/oxSaturn/chainsync/internal/filter"
	"github.com/oxSaturn/chainsync/internal/interval"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

// Source is one declarative filter this sync run covers, labeled for
// metrics and logging.
type Source struct {
	Name   string
	Filter filter.Filter
}

// HistoricalSync drives one chain's worth of sources against a sync store
// and an RPC transport. It is not safe for concurrent use — the spec's
// concurrency model runs one chain's historical sync filters sequentially,
// and callers serialize Sync calls for a given chain themselves.
type HistoricalSync struct {
	chainID uint64
	sources []Source
	client  pkgrpc.EthClient
	store   *syncstore.Store
	log     *logger.Logger

	// intervalsCache is loaded once at construction, keyed by filterID for
	// "event"-kind entries and by childFilterID for "address"-kind entries.
	// It is never refreshed afterwards.
	intervalsCache map[string][]interval.Range

	// latestBlock is the highest block number fully ingested so far, across
	// every source this instance has processed. latestBlockTimestamp is that
	// same block's timestamp, tracked alongside so callers building a
	// checkpoint out of "historical sync's own progress" don't need a
	// separate block fetch.
	latestBlock          uint64
	latestBlockTimestamp uint64

	// blockCache memoizes fetched blocks for the duration of one Sync call.
	blockCache map[uint64]*pkgrpc.RawBlock
}

// New constructs a HistoricalSync for chainID, loading each source's (and
// each child-address filter's) completed intervals from store.
func New(ctx context.Context, chainID uint64, sources []Source, client pkgrpc.EthClient, store *syncstore.Store, log *logger.Logger) (*HistoricalSync, error) {
	hs := &HistoricalSync{
		chainID:        chainID,
		sources:        sources,
		client:         client,
		store:          store,
		log:            log.WithComponent(chainsynccommon.ComponentHistoricalSync),
		intervalsCache: make(map[string][]interval.Range),
	}

	for _, src := range sources {
		if err := src.Filter.Validate(); err != nil {
			return nil, fmt.Errorf("historicalsync: invalid filter for source %q: %w", src.Name, err)
		}

		filterID := filter.FilterID(src.Filter)
		ivs, err := store.GetIntervals(ctx, chainID, "event", filterID)
		if err != nil {
			return nil, fmt.Errorf("historicalsync: load intervals for source %q: %w", src.Name, err)
		}
		hs.intervalsCache[filterID] = ivs

		if src.Filter.Kind == filter.KindLog && src.Filter.Log.Address.IsChildAddressFilter() {
			if err := hs.loadChildIntervals(ctx, src.Filter.Log.Address.Child); err != nil {
				return nil, fmt.Errorf("historicalsync: load child intervals for source %q: %w", src.Name, err)
			}
		}
	}

	return hs, nil
}

func (hs *HistoricalSync) loadChildIntervals(ctx context.Context, child *filter.ChildAddressFilter) error {
	childID := filter.ChildFilterID(child)
	if _, loaded := hs.intervalsCache[childID]; loaded {
		return nil
	}

	ivs, err := hs.store.GetIntervals(ctx, hs.chainID, "address", childID)
	if err != nil {
		return err
	}
	hs.intervalsCache[childID] = ivs

	if child.Address.IsChildAddressFilter() {
		return hs.loadChildIntervals(ctx, child.Address.Child)
	}
	return nil
}

// LatestBlock returns the highest block number fully ingested so far.
func (hs *HistoricalSync) LatestBlock() uint64 {
	return hs.latestBlock
}

// LatestBlockTimestamp returns the timestamp of LatestBlock.
func (hs *HistoricalSync) LatestBlockTimestamp() uint64 {
	return hs.latestBlockTimestamp
}

// InitializeMetrics reports, per source, the total blocks bounded by
// finalizedBlock and the blocks already covered by cached intervals. A
// source whose start block lies past finality is reported as zero and
// logged as a warning.
func (hs *HistoricalSync) InitializeMetrics(finalizedBlock uint64) {
	for _, src := range hs.sources {
		bound, ok := filterBounds(src.Filter)
		if !ok {
			continue
		}

		if bound.Lo > finalizedBlock {
			hs.log.Warnw("source start block is past finality, skipping",
				"source", src.Name, "from_block", bound.Lo, "finalized_block", finalizedBlock)
			totalBlocksSet(hs.chainID, src.Name, 0)
			cachedBlocksSet(hs.chainID, src.Name, 0)
			continue
		}

		hi := bound.Hi
		if hi > finalizedBlock {
			hi = finalizedBlock
		}

		filterID := filter.FilterID(src.Filter)
		totalBlocksSet(hs.chainID, src.Name, hi-bound.Lo+1)
		cachedBlocksSet(hs.chainID, src.Name, interval.Sum(hs.intervalsCache[filterID]))
	}
}

// Sync fetches everything required to cover requested for every source, in
// declaration order, and persists the resulting events and intervals.
func (hs *HistoricalSync) Sync(ctx context.Context, requested interval.Range) error {
	hs.blockCache = make(map[uint64]*pkgrpc.RawBlock)
	defer func() { hs.blockCache = nil }()

	for _, src := range hs.sources {
		if err := hs.syncSource(ctx, src, requested); err != nil {
			return fmt.Errorf("historicalsync: source %q: %w", src.Name, err)
		}
	}

	return nil
}

func (hs *HistoricalSync) syncSource(ctx context.Context, src Source, requested interval.Range) error {
	bound, ok := filterBounds(src.Filter)
	if !ok {
		return nil
	}

	sub, ok := interval.Intersect(requested, bound)
	if !ok {
		return nil
	}

	filterID := filter.FilterID(src.Filter)
	required := interval.Difference([]interval.Range{sub}, hs.intervalsCache[filterID])
	if len(required) == 0 {
		return nil
	}

	for _, r := range required {
		switch src.Filter.Kind {
		case filter.KindLog:
			if err := hs.syncLogRange(ctx, src.Filter.Log, r); err != nil {
				return err
			}
		case filter.KindBlock:
			if err := hs.syncBlockRange(ctx, src.Filter.Block, r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("historicalsync: unhandled filter kind %q", src.Filter.Kind)
		}

		if err := hs.store.PopulateEvents(ctx, src.Filter, hs.chainID, filterID, r); err != nil {
			return fmt.Errorf("populate events [%d,%d]: %w", r.Lo, r.Hi, err)
		}
		if err := hs.store.InsertInterval(ctx, hs.chainID, "event", filterID, r); err != nil {
			return fmt.Errorf("insert interval [%d,%d]: %w", r.Lo, r.Hi, err)
		}

		completedBlocksInc(hs.chainID, src.Name, r.Hi-r.Lo+1)
		hs.log.Debugw("completed historical range", "source", src.Name, "from_block", r.Lo, "to_block", r.Hi)
	}

	return nil
}

// syncLogRange resolves the filter's address constraint, fetches matching
// logs over r via eth_getLogs, inserts them, and pulls only the blocks
// referenced by the result.
func (hs *HistoricalSync) syncLogRange(ctx context.Context, lf *filter.LogFilter, r interval.Range) error {
	addrs, skip, err := hs.resolveAddresses(ctx, lf.Address, r)
	if err != nil {
		return fmt.Errorf("resolve addresses: %w", err)
	}
	if skip {
		return nil
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.Lo),
		ToBlock:   new(big.Int).SetUint64(r.Hi),
		Addresses: addrs,
		Topics:    lf.Topics[:],
	}

	logs, err := hs.client.GetLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}

	rows := make([]syncstore.LogRow, 0, len(logs))
	txHashesByBlock := make(map[uint64]map[common.Hash]struct{})
	for _, lg := range logs {
		row, err := logToRow(hs.chainID, lg)
		if err != nil {
			return fmt.Errorf("encode log: %w", err)
		}
		rows = append(rows, row)

		set, ok := txHashesByBlock[lg.BlockNumber]
		if !ok {
			set = make(map[common.Hash]struct{})
			txHashesByBlock[lg.BlockNumber] = set
		}
		set[lg.TxHash] = struct{}{}
	}

	if err := hs.store.InsertLogs(ctx, rows); err != nil {
		return fmt.Errorf("insert logs: %w", err)
	}

	blockNumbers := make([]uint64, 0, len(txHashesByBlock))
	for n := range txHashesByBlock {
		blockNumbers = append(blockNumbers, n)
	}
	sort.Slice(blockNumbers, func(i, j int) bool { return blockNumbers[i] < blockNumbers[j] })

	for _, n := range blockNumbers {
		if err := hs.syncBlock(ctx, n, txHashesByBlock[n]); err != nil {
			return err
		}
	}

	return nil
}

// syncBlockRange pulls every block in r aligned to bf's stride, with no
// transactions persisted (block filters do not reference transactions).
func (hs *HistoricalSync) syncBlockRange(ctx context.Context, bf *filter.BlockFilter, r interval.Range) error {
	for _, n := range alignedBlocks(bf, r.Lo, r.Hi) {
		if err := hs.syncBlock(ctx, n, nil); err != nil {
			return err
		}
	}
	return nil
}

// resolveAddresses returns the address list to pass to eth_getLogs, and
// whether the caller should skip fetching entirely (a child-address filter
// resolved to zero addresses so no log could possibly match).
func (hs *HistoricalSync) resolveAddresses(ctx context.Context, c filter.AddressConstraint, sub interval.Range) ([]common.Address, bool, error) {
	switch c.Kind {
	case filter.AddressNone:
		return nil, false, nil
	case filter.AddressSingle:
		return []common.Address{c.Single}, false, nil
	case filter.AddressSet:
		return c.Set, false, nil
	case filter.AddressChildFilter:
		addrs, err := hs.syncAddress(ctx, c.Child, sub)
		if err != nil {
			return nil, false, err
		}
		return addrs, len(addrs) == 0, nil
	default:
		return nil, false, fmt.Errorf("historicalsync: unhandled address constraint kind %d", c.Kind)
	}
}

// syncAddress brings the child filter's address discovery up to date for
// sub and returns every address discovered for it to date (not just within
// sub — earlier windows may have discovered addresses too).
func (hs *HistoricalSync) syncAddress(ctx context.Context, child *filter.ChildAddressFilter, sub interval.Range) ([]common.Address, error) {
	childID := filter.ChildFilterID(child)
	required := interval.Difference([]interval.Range{sub}, hs.intervalsCache[childID])

	for _, r := range required {
		parentAddrs, skip, err := hs.resolveAddresses(ctx, child.Address, r)
		if err != nil {
			return nil, fmt.Errorf("resolve parent address: %w", err)
		}

		if !skip {
			query := ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(r.Lo),
				ToBlock:   new(big.Int).SetUint64(r.Hi),
				Addresses: parentAddrs,
				Topics:    [][]common.Hash{{child.EventSelector}},
			}

			logs, err := hs.client.GetLogs(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("sync address: get logs: %w", err)
			}

			discovered := make([]syncstore.AddressDiscovery, 0, len(logs))
			for i := range logs {
				addr, err := filter.ResolveChildAddress(&logs[i], child.Location)
				if err != nil {
					return nil, fmt.Errorf("sync address: resolve child address: %w", err)
				}
				discovered = append(discovered, syncstore.AddressDiscovery{
					Address:     addr,
					BlockNumber: logs[i].BlockNumber,
				})
			}

			if err := hs.store.InsertAddresses(ctx, hs.chainID, childID, discovered); err != nil {
				return nil, fmt.Errorf("sync address: insert addresses: %w", err)
			}
		}

		if err := hs.store.InsertInterval(ctx, hs.chainID, "address", childID, r); err != nil {
			return nil, fmt.Errorf("sync address: insert interval: %w", err)
		}
	}

	return hs.store.GetAddresses(ctx, hs.chainID, childID)
}

// syncBlock fetches block n (memoized in blockCache for this Sync call),
// inserts its row, advances latestBlock, and persists only the transactions
// whose hash is in txHashes.
func (hs *HistoricalSync) syncBlock(ctx context.Context, n uint64, txHashes map[common.Hash]struct{}) error {
	block, ok := hs.blockCache[n]
	if !ok {
		var err error
		block, err = hs.client.GetBlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return fmt.Errorf("get block %d: %w", n, err)
		}
		hs.blockCache[n] = block

		row, err := blockToRow(hs.chainID, block)
		if err != nil {
			return fmt.Errorf("encode block %d: %w", n, err)
		}
		if err := hs.store.InsertBlock(ctx, row); err != nil {
			return fmt.Errorf("insert block %d: %w", n, err)
		}

		if n > hs.latestBlock {
			hs.latestBlock = n
			hs.latestBlockTimestamp = block.Timestamp
		}
	}

	if len(txHashes) == 0 {
		return nil
	}

	for _, tx := range block.Transactions {
		if _, want := txHashes[tx.Hash]; !want {
			continue
		}

		row, err := txToRow(hs.chainID, n, tx)
		if err != nil {
			return fmt.Errorf("encode transaction %s: %w", tx.Hash, err)
		}
		if err := hs.store.InsertTransaction(ctx, row); err != nil {
			return fmt.Errorf("insert transaction %s: %w", tx.Hash, err)
		}
	}

	return nil
}

// filterBounds returns the filter's [fromBlock, toBlock] bound, with an
// open-ended toBlock mapped to the maximum representable block number.
func filterBounds(f filter.Filter) (interval.Range, bool) {
	switch f.Kind {
	case filter.KindLog:
		hi := uint64(math.MaxUint64)
		if f.Log.ToBlock != nil {
			hi = *f.Log.ToBlock
		}
		return interval.Range{Lo: f.Log.FromBlock, Hi: hi}, true
	case filter.KindBlock:
		hi := uint64(math.MaxUint64)
		if f.Block.ToBlock != nil {
			hi = *f.Block.ToBlock
		}
		return interval.Range{Lo: f.Block.FromBlock, Hi: hi}, true
	default:
		return interval.Range{}, false
	}
}

// alignedBlocks returns every block number in [lo, hi] satisfying
// (n - offset) mod interval == 0.
func alignedBlocks(bf *filter.BlockFilter, lo, hi uint64) []uint64 {
	if lo > hi {
		return nil
	}

	first := lo
	if bf.Offset > lo {
		first = bf.Offset
	} else if rem := (lo - bf.Offset) % bf.Interval; rem != 0 {
		first = lo + (bf.Interval - rem)
	}

	var out []uint64
	for n := first; n <= hi; n += bf.Interval {
		out = append(out, n)
	}
	return out
}

type blockBody struct {
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
	Number     uint64      `json:"number"`
	Timestamp  uint64      `json:"timestamp"`
}

func blockToRow(chainID uint64, block *pkgrpc.RawBlock) (syncstore.BlockRow, error) {
	body, err := json.Marshal(blockBody{
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Number:     block.Number,
		Timestamp:  block.Timestamp,
	})
	if err != nil {
		return syncstore.BlockRow{}, err
	}

	return syncstore.BlockRow{
		Hash:      block.Hash,
		ChainID:   chainID,
		Number:    block.Number,
		Timestamp: block.Timestamp,
		Body:      string(body),
	}, nil
}

type transactionBody struct {
	Hash             common.Hash `json:"hash"`
	BlockNumber      uint64      `json:"blockNumber"`
	TransactionIndex uint        `json:"transactionIndex"`
}

func txToRow(chainID, blockNumber uint64, tx pkgrpc.RawTransaction) (syncstore.TransactionRow, error) {
	body, err := json.Marshal(transactionBody{
		Hash:             tx.Hash,
		BlockNumber:      blockNumber,
		TransactionIndex: tx.Index,
	})
	if err != nil {
		return syncstore.TransactionRow{}, err
	}

	return syncstore.TransactionRow{
		Hash:             tx.Hash,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: tx.Index,
		Body:             string(body),
	}, nil
}

func logToRow(chainID uint64, lg types.Log) (syncstore.LogRow, error) {
	body, err := json.Marshal(lg)
	if err != nil {
		return syncstore.LogRow{}, err
	}

	row := syncstore.LogRow{
		BlockHash:       lg.BlockHash,
		LogIndex:        lg.Index,
		ChainID:         chainID,
		BlockNumber:     lg.BlockNumber,
		Address:         lg.Address,
		Data:            common.Bytes2Hex(lg.Data),
		TransactionHash: lg.TxHash,
		Body:            string(body),
	}

	topics := make([]common.Hash, len(lg.Topics))
	copy(topics, lg.Topics)
	if len(topics) > 0 {
		row.Topic0 = &topics[0]
	}
	if len(topics) > 1 {
		row.Topic1 = &topics[1]
	}
	if len(topics) > 2 {
		row.Topic2 = &topics[2]
	}
	if len(topics) > 3 {
		row.Topic3 = &topics[3]
	}

	return row, nil
}
