package rpc

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/oxSaturn/chainsync/internal/config"
	pkgrpc "github.com/oxSaturn/chainsync/pkg/rpc"
)

var _ pkgrpc.EthClient = (*RetryingClient)(nil)

// RetryingClient decorates an EthClient with exponential-backoff retry and
// per-method Prometheus metrics, following the teacher's separation between
// a bare transport (Client) and its retry policy (retry.go).
type RetryingClient struct {
	inner pkgrpc.EthClient
	cfg   *config.RetryConfig
}

// NewRetryingClient wraps inner with retry behavior governed by cfg. A nil
// cfg disables retrying (each call runs exactly once).
func NewRetryingClient(inner pkgrpc.EthClient, cfg *config.RetryConfig) *RetryingClient {
	return &RetryingClient{inner: inner, cfg: cfg}
}

func (c *RetryingClient) Close() { c.inner.Close() }

func (c *RetryingClient) do(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	RPCMethodInc(method)

	err := retryWithBackoff(ctx, c.cfg, method, fn)

	RPCMethodDuration(method, time.Since(start))
	if err != nil {
		RPCMethodError(method, classifyError(err))
	}

	return err
}

func (c *RetryingClient) ChainID(ctx context.Context) (uint64, error) {
	var id uint64
	err := c.do(ctx, "eth_chainId", func() error {
		var innerErr error
		id, innerErr = c.inner.ChainID(ctx)
		return innerErr
	})
	return id, err
}

func (c *RetryingClient) GetBlockByNumber(ctx context.Context, number *big.Int) (*pkgrpc.RawBlock, error) {
	var block *pkgrpc.RawBlock
	err := c.do(ctx, "eth_getBlockByNumber", func() error {
		var innerErr error
		block, innerErr = c.inner.GetBlockByNumber(ctx, number)
		return innerErr
	})
	return block, err
}

func (c *RetryingClient) GetBlockByHash(ctx context.Context, hash common.Hash) (*pkgrpc.RawBlock, error) {
	var block *pkgrpc.RawBlock
	err := c.do(ctx, "eth_getBlockByHash", func() error {
		var innerErr error
		block, innerErr = c.inner.GetBlockByHash(ctx, hash)
		return innerErr
	})
	return block, err
}

func (c *RetryingClient) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.do(ctx, "eth_getLogs", func() error {
		var innerErr error
		logs, innerErr = c.inner.GetLogs(ctx, q)
		return innerErr
	})
	return logs, err
}

func (c *RetryingClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.do(ctx, "eth_getTransactionReceipt", func() error {
		var innerErr error
		receipt, innerErr = c.inner.GetTransactionReceipt(ctx, hash)
		return innerErr
	})
	return receipt, err
}

func classifyError(err error) string {
	if retryableError(err) {
		return "transient"
	}
	return "fatal"
}
