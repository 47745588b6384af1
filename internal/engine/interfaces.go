package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockcrawl/histsync/internal/fetcher"
	"github.com/blockcrawl/histsync/internal/store"
	"github.com/blockcrawl/histsync/pkg/interval"
)

// EventStore is the narrow slice of the event store the scheduler depends
// on, satisfied by *internal/store.Store. Declared here rather than imported
// as a concrete type so scheduler-level tests can supply an in-memory fake.
type EventStore interface {
	GetLogFilterIntervals(ctx context.Context, chainID uint64, criteria store.Criteria) ([]interval.Range, error)
	GetFactoryLogFilterIntervals(ctx context.Context, chainID uint64, factoryCriteria store.Criteria) ([]interval.Range, error)
	GetFactoryChildAddressIntervals(ctx context.Context, chainID uint64, factoryCriteria store.Criteria) ([]interval.Range, error)
	InsertLogFilterInterval(ctx context.Context, chainID uint64, criteria store.Criteria, sourceName string, block *types.Block, transactions []*types.Transaction, logs []types.Log, r interval.Range) error
	InsertFactoryChildAddressLogs(ctx context.Context, chainID uint64, factoryCriteria store.Criteria, childAddressLocation int, logs []types.Log, r interval.Range) error
	InsertFactoryLogFilterInterval(ctx context.Context, chainID uint64, factoryCriteria store.Criteria, sourceName string, block *types.Block, transactions []*types.Transaction, logs []types.Log, r interval.Range) error
	StreamFactoryChildAddresses(ctx context.Context, chainID uint64, factoryCriteria store.Criteria, upToBlock uint64, fn func([]common.Address) error) error
}

// LogFetcher is the resilient remote log fetcher, satisfied by
// *internal/fetcher.Fetcher.
type LogFetcher interface {
	GetLogs(ctx context.Context, criteria fetcher.Criteria, fromBlock, toBlock uint64) ([]types.Log, error)
}

// BlockClient is the chain-client surface the scheduler needs beyond log
// fetching, satisfied by *internal/chain.Client.
type BlockClient interface {
	GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	FinalizedBlockNumber(ctx context.Context) (uint64, error)
}

func toStoreCriteria(c fetcher.Criteria) store.Criteria {
	return store.Criteria{Addresses: c.Addresses, Topics: c.Topics}
}
