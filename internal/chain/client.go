// Package chain implements the chain client: a thin wrapper over
// ethclient.Client for eth_getLogs, eth_getBlockByNumber (with
// transactions), and finalized-header resolution, with transient-RPC retry.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/blockcrawl/histsync/internal/fetcher"
	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/pkg/config"
)

// Client wraps ethclient.Client with the three operations the engine needs,
// retrying transient RPC errors with exponential backoff so the work queue's
// own unbounded retry never busy-loops against a flaky endpoint.
type Client struct {
	eth   *ethclient.Client
	rpc   *gethrpc.Client
	log   *logger.Logger
	retry config.RetryConfig
}

// Compile-time check: Client satisfies the fetcher package's narrow
// dependency interface.
var _ fetcher.LogsClient = (*Client)(nil)

// Dial connects to endpoint and builds a Client using retry for transient
// RPC errors.
func Dial(ctx context.Context, endpoint string, retry config.RetryConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc endpoint: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Client{
		eth:   ethclient.NewClient(rpcClient),
		rpc:   rpcClient,
		log:   log,
		retry: retry,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetLogs issues a single eth_getLogs call for criteria over [fromBlock,
// toBlock]. Retried on transient errors; range-oversize errors are left
// unclassified here and surfaced to the caller, which in this engine is
// always internal/fetcher.
func (c *Client) GetLogs(ctx context.Context, criteria fetcher.Criteria, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: criteria.Addresses,
		Topics:    criteria.Topics,
	}

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retry, "eth_getLogs", c.log, func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// GetBlockByNumber fetches the block at number with its full transaction
// list. Returns a BlockNotFound error if the provider has no such block.
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := retryWithBackoff(ctx, c.retry, "eth_getBlockByNumber", c.log, func() error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("block %d: %w", number, ErrBlockNotFound)
		}
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("block %d: %w", number, ErrBlockNotFound)
	}
	return block, nil
}

// FinalizedBlockNumber resolves the current finalized block number via
// eth_getBlockByNumber("finalized", false).
func (c *Client) FinalizedBlockNumber(ctx context.Context) (uint64, error) {
	var header *types.Header
	err := retryWithBackoff(ctx, c.retry, "eth_getBlockByNumber_finalized", c.log, func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(int64(gethrpc.FinalizedBlockNumber)))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("resolve finalized block: %w", err)
	}
	return header.Number.Uint64(), nil
}
