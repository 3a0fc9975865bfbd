package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

// Compile-time check to ensure Client implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Client)(nil)

// Client wraps the Ethereum RPC client with convenience methods for syncing.
// It implements the pkgrpc.EthClient interface.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the chain's configured chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}

	return id.Uint64(), nil
}

// GetBlockByNumber retrieves the block at the given height, with its
// transaction list. A nil number requests the latest block.
func (c *Client) GetBlockByNumber(ctx context.Context, number *big.Int) (*pkgrpc.RawBlock, error) {
	block, err := c.eth.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	return blockToRawBlock(block), nil
}

// GetBlockByHash retrieves the block with the given hash, with its
// transaction list.
func (c *Client) GetBlockByHash(ctx context.Context, hash common.Hash) (*pkgrpc.RawBlock, error) {
	block, err := c.eth.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	return blockToRawBlock(block), nil
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, query)
}

// GetTransactionReceipt retrieves a transaction's receipt.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, hash)
}

// GetFinalizedBlock retrieves the finalized block.
func (c *Client) GetFinalizedBlock(ctx context.Context) (*pkgrpc.RawBlock, error) {
	return c.GetBlockByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
}

// GetSafeBlock retrieves the safe block.
func (c *Client) GetSafeBlock(ctx context.Context) (*pkgrpc.RawBlock, error) {
	return c.GetBlockByNumber(ctx, big.NewInt(int64(rpc.SafeBlockNumber)))
}

// BatchGetLogs retrieves logs for multiple filter queries in a single batch call.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	batch := make([]rpc.BatchElem, len(queries))
	results := make([][]types.Log, len(queries))

	for i, query := range queries {
		batch[i] = rpc.BatchElem{
			Method: "eth_getLogs",
			Args:   []any{toFilterArg(query)},
			Result: &results[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	for _, elem := range batch {
		if elem.Error != nil {
			return nil, elem.Error
		}
	}

	return results, nil
}

// BatchGetBlockHeaders retrieves blocks for multiple block numbers in a single batch call.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*pkgrpc.RawBlock, error) {
	const maxBatch = 100
	var allResults []*pkgrpc.RawBlock

	for i := 0; i < len(blockNums); i += maxBatch {
		end := min(i+maxBatch, len(blockNums))
		chunk := blockNums[i:end]

		batch := make([]rpc.BatchElem, len(chunk))
		headers := make([]*types.Header, len(chunk))

		for j, blockNum := range chunk {
			batch[j] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(blockNum), false}, // false = don't include transactions
				Result: &headers[j],
			}
		}

		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, err
		}

		for _, elem := range batch {
			if elem.Error != nil {
				return nil, elem.Error
			}
		}

		for _, h := range headers {
			allResults = append(allResults, headerToRawBlock(h))
		}
	}

	return allResults, nil
}

func headerToRawBlock(header *types.Header) *pkgrpc.RawBlock {
	if header == nil {
		return nil
	}

	return &pkgrpc.RawBlock{
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Number:     header.Number.Uint64(),
		Timestamp:  header.Time,
		Bloom:      header.Bloom,
	}
}

func blockToRawBlock(block *types.Block) *pkgrpc.RawBlock {
	if block == nil {
		return nil
	}

	raw := headerToRawBlock(block.Header())
	raw.Hash = block.Hash()

	txs := block.Transactions()
	raw.Transactions = make([]pkgrpc.RawTransaction, len(txs))
	for i, tx := range txs {
		raw.Transactions[i] = pkgrpc.RawTransaction{Hash: tx.Hash(), Index: uint(i)}
	}

	return raw
}

// toFilterArg converts ethereum.FilterQuery to the format expected by eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
