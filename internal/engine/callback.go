package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/blockcrawl/histsync/internal/store"
	"github.com/blockcrawl/histsync/pkg/interval"
)

// blockCallback is a persist action captured by value with everything it
// needs except the block body, which is injected at invocation.
// It is idempotent: the store's insert
// operations are idempotent under the same (criteria, [from,to]), so a
// retried block task may safely reinvoke a callback it already ran.
type blockCallback struct {
	kind       TaskKind // TaskLogFilter or TaskFactoryLog
	chainID    uint64
	criteria   store.Criteria
	sourceName string
	rng        interval.Range
	logs       []types.Log
	txHashes   map[common.Hash]struct{}
}

// invoke filters block's transactions down to those this callback's
// interval owns and commits the interval to the event store.
func (cb blockCallback) invoke(ctx context.Context, es EventStore, block *types.Block) error {
	var transactions []*types.Transaction
	if len(cb.txHashes) > 0 {
		for _, tx := range block.Transactions() {
			if _, ok := cb.txHashes[tx.Hash()]; ok {
				transactions = append(transactions, tx)
			}
		}
	}

	switch cb.kind {
	case TaskLogFilter:
		if err := es.InsertLogFilterInterval(ctx, cb.chainID, cb.criteria, cb.sourceName, block, transactions, cb.logs, cb.rng); err != nil {
			return fmt.Errorf("insert log filter interval [%d,%d]: %w", cb.rng.From, cb.rng.To, err)
		}
	case TaskFactoryLog:
		if err := es.InsertFactoryLogFilterInterval(ctx, cb.chainID, cb.criteria, cb.sourceName, block, transactions, cb.logs, cb.rng); err != nil {
			return fmt.Errorf("insert factory log filter interval [%d,%d]: %w", cb.rng.From, cb.rng.To, err)
		}
	default:
		return fmt.Errorf("block callback: unsupported kind %s", cb.kind)
	}
	return nil
}
