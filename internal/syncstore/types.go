package syncstore

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/oxSaturn/chainsync/internal/checkpoint"
)

// BlockRow is the raw block table row (C4 §3).
type BlockRow struct {
	Hash      common.Hash `meddler:"hash,hash"`
	ChainID   uint64      `meddler:"chain_id"`
	Number    uint64      `meddler:"number"`
	Timestamp uint64      `meddler:"timestamp"`
	Body      string      `meddler:"body"`
}

// LogRow is the raw log table row. Addresses are stored lowercase; absent
// topic positions are nil.
type LogRow struct {
	BlockHash       common.Hash    `meddler:"block_hash,hash"`
	LogIndex        uint           `meddler:"log_index"`
	ChainID         uint64         `meddler:"chain_id"`
	BlockNumber     uint64         `meddler:"block_number"`
	Address         common.Address `meddler:"address,address"`
	Topic0          *common.Hash   `meddler:"topic0,hash"`
	Topic1          *common.Hash   `meddler:"topic1,hash"`
	Topic2          *common.Hash   `meddler:"topic2,hash"`
	Topic3          *common.Hash   `meddler:"topic3,hash"`
	Data            string         `meddler:"data"`
	TransactionHash common.Hash    `meddler:"transaction_hash,hash"`
	Body            string         `meddler:"body"`
}

// TransactionRow is the raw transaction table row.
type TransactionRow struct {
	Hash             common.Hash `meddler:"hash,hash"`
	ChainID          uint64      `meddler:"chain_id"`
	BlockNumber      uint64      `meddler:"block_number"`
	TransactionIndex uint        `meddler:"transaction_index"`
	Body             string      `meddler:"body"`
}

// TransactionReceiptRow is the raw transaction_receipt table row.
type TransactionReceiptRow struct {
	Hash        common.Hash `meddler:"hash,hash"`
	ChainID     uint64      `meddler:"chain_id"`
	BlockNumber uint64      `meddler:"block_number"`
	Body        string      `meddler:"body"`
}

// AddressRow is a discovered child address.
type AddressRow struct {
	ID          int64          `meddler:"id,pk"`
	ChainID     uint64         `meddler:"chain_id"`
	FilterID    string         `meddler:"filter_id"`
	BlockNumber uint64         `meddler:"block_number"`
	Address     common.Address `meddler:"address,address"`
}

// IntervalRow is a completed block range for a filter.
type IntervalRow struct {
	ID       int64  `meddler:"id,pk"`
	ChainID  uint64 `meddler:"chain_id"`
	Kind     string `meddler:"kind"`
	FilterID string `meddler:"filter_id"`
	Lo       uint64 `meddler:"lo"`
	Hi       uint64 `meddler:"hi"`
}

// EventRow is a materialized filter hit.
type EventRow struct {
	FilterID        string                 `meddler:"filter_id"`
	Checkpoint      checkpoint.Checkpoint  `meddler:"checkpoint"`
	ChainID         uint64                 `meddler:"chain_id"`
	BlockNumber     uint64                 `meddler:"block_number"`
	BlockHash       common.Hash            `meddler:"block_hash,hash"`
	LogIndex        uint                   `meddler:"log_index"`
	TransactionHash common.Hash            `meddler:"transaction_hash,hash"`
	Data            *string                `meddler:"data"`
}

// RpcRequestResultRow caches a deterministic RPC response.
type RpcRequestResultRow struct {
	Request     string `meddler:"request"`
	ChainID     uint64 `meddler:"chain_id"`
	BlockNumber uint64 `meddler:"block_number"`
	Result      string `meddler:"result"`
}

// EventsPage is the result of GetEvents: a page of rows plus a cursor for
// the next call.
type EventsPage struct {
	Events []EventRow
	Cursor checkpoint.Checkpoint
}

// GetEventsQuery selects events by filter id set and checkpoint range
// (from, to], ordered by (checkpoint asc, filter_id asc).
type GetEventsQuery struct {
	Filters []string
	From    checkpoint.Checkpoint
	To      checkpoint.Checkpoint
	Limit   int
}
