// Package rpc defines the chain transport surface consumed by the sync
// engine. Concrete implementations live in internal/rpc.
package rpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RawTransaction is the minimal per-transaction data carried on a RawBlock:
// enough to let historical sync persist only the transactions referenced by
// a matched log, keyed by hash, with their block position for the
// checkpoint's transactionIndex field.
type RawTransaction struct {
	Hash  common.Hash
	Index uint
}

// RawBlock is the minimal block representation the sync engine needs:
// enough to drive the reorg ancestor walk, stamp block-kind events with a
// timestamp, and resolve transaction indices for log-kind events, without
// paying for full transaction bodies on every fetch (includeTx=true in the
// RPC sense means "include the transaction list", not "include receipts").
type RawBlock struct {
	Hash         common.Hash
	ParentHash   common.Hash
	Number       uint64
	Timestamp    uint64
	// Bloom is the block's logs bloom filter, carried so realtime sync can
	// cheaply pre-filter blocks that cannot contain a matching log without
	// an eth_getLogs round trip (spec §4.7).
	Bloom        types.Bloom
	Transactions []RawTransaction
}

// EthClient defines the interface for chain RPC operations the sync engine
// depends on. This abstraction allows for easier testing and alternative
// implementations (direct, cached, batched).
type EthClient interface {
	// Close closes the underlying connection.
	Close()

	// ChainID returns the chain's configured chain id.
	ChainID(ctx context.Context) (uint64, error)

	// GetBlockByNumber retrieves the block at the given height, including
	// its transaction list. A nil number requests the latest block.
	GetBlockByNumber(ctx context.Context, number *big.Int) (*RawBlock, error)

	// GetBlockByHash retrieves the block with the given hash, including its
	// transaction list.
	GetBlockByHash(ctx context.Context, hash common.Hash) (*RawBlock, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// GetTransactionReceipt retrieves a transaction's receipt. Used only by
	// the read-through cached transport (spec §4.9); the core sync engine
	// does not itself populate transaction_receipt rows.
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
