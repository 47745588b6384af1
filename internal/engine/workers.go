package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/blockcrawl/histsync/internal/store"
	"github.com/blockcrawl/histsync/pkg/interval"
)

// runTask is the single WorkerFunc[Task] the queue dispatches to, routing
// each task to its kind-specific worker.
func (s *Service) runTask(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskLogFilter:
		return s.logFilterWorker(ctx, task.Source, task.From, task.To)
	case TaskFactoryChild:
		return s.factoryChildWorker(ctx, task.Source, task.From, task.To)
	case TaskFactoryLog:
		return s.factoryLogWorker(ctx, task.Source, task.From, task.To)
	case TaskBlock:
		return s.blockWorker(ctx, task.Number, task.Callbacks)
	default:
		return fmt.Errorf("unknown task kind %d", task.Kind)
	}
}

// logFilterWorker fetches logs, builds log intervals, registers a block
// callback per interval, marks the range completed, and runs the block-task
// gate.
func (s *Service) logFilterWorker(ctx context.Context, src *Source, from, to uint64) error {
	criteria := src.LogFilterCriteria()
	logs, err := s.fetch.GetLogs(ctx, criteria, from, to)
	if err != nil {
		return fmt.Errorf("fetch logs for %s [%d,%d]: %w", src.Name, from, to, err)
	}

	storeCriteria := toStoreCriteria(criteria)
	s.registerLogIntervalCallbacks(TaskLogFilter, src, storeCriteria, buildLogIntervals(from, to, logs))

	s.mu.Lock()
	tracker := s.logFilterTrackers[src.Name]
	tracker.AddCompletedInterval(interval.Range{From: from, To: to})
	s.mu.Unlock()

	s.enqueueBlockTasks()
	return nil
}

// factoryChildWorker fetches discovery logs, persists them unconditionally
// (with coverage) before interval bookkeeping, marks the range completed in
// the child-address tracker, and emits factory-log-filter tasks over
// whatever range the tracker's checkpoint just advanced through, unblocking
// the dependent task kind.
func (s *Service) factoryChildWorker(ctx context.Context, src *Source, from, to uint64) error {
	criteria := src.FactoryChildCriteria()
	logs, err := s.fetch.GetLogs(ctx, criteria, from, to)
	if err != nil {
		return fmt.Errorf("fetch factory child address logs for %s [%d,%d]: %w", src.Name, from, to, err)
	}

	storeCriteria := toStoreCriteria(criteria)
	r := interval.Range{From: from, To: to}
	if err := s.store.InsertFactoryChildAddressLogs(ctx, src.ChainID, storeCriteria, src.ChildAddressLocation, logs, r); err != nil {
		return fmt.Errorf("insert factory child address logs for %s [%d,%d]: %w", src.Name, from, to, err)
	}

	s.mu.Lock()
	tracker := s.factoryChildTrackers[src.Name]
	update := tracker.AddCompletedInterval(r)
	s.mu.Unlock()

	if update.IsUpdated {
		unblocked := interval.Range{From: uint64(update.PrevCheckpoint + 1), To: uint64(update.NewCheckpoint)}
		tasks := chunkRanges(src, []interval.Range{unblocked}, src.MaxBlockRange, TaskFactoryLog)
		s.addTasks(tasks, false)
	}

	s.enqueueBlockTasks()
	return nil
}

// factoryLogWorker streams known child addresses in batches, issuing one
// getLogs call per batch and concatenating results, then proceeds as the
// log-filter worker but against the factory-log tracker and the factory's
// stable store criteria key.
func (s *Service) factoryLogWorker(ctx context.Context, src *Source, from, to uint64) error {
	childCriteria := toStoreCriteria(src.FactoryChildCriteria())

	var allLogs []types.Log
	err := s.store.StreamFactoryChildAddresses(ctx, src.ChainID, childCriteria, to, func(batch []common.Address) error {
		if len(batch) == 0 {
			return nil
		}
		logs, err := s.fetch.GetLogs(ctx, src.FactoryLogCriteria(batch), from, to)
		if err != nil {
			return err
		}
		allLogs = append(allLogs, logs...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch factory log filter logs for %s [%d,%d]: %w", src.Name, from, to, err)
	}

	storeCriteria := toStoreCriteria(src.FactoryLogFilterStoreCriteria())
	s.registerLogIntervalCallbacks(TaskFactoryLog, src, storeCriteria, buildLogIntervals(from, to, allLogs))

	s.mu.Lock()
	tracker := s.factoryLogTrackers[src.Name]
	tracker.AddCompletedInterval(interval.Range{From: from, To: to})
	s.mu.Unlock()

	s.enqueueBlockTasks()
	return nil
}

// registerLogIntervalCallbacks appends one blockCallback per logInterval to
// blockCallbacks, keyed by the interval's terminal block number.
func (s *Service) registerLogIntervalCallbacks(kind TaskKind, src *Source, criteria store.Criteria, intervals []logInterval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, li := range intervals {
		cb := blockCallback{
			kind:       kind,
			chainID:    src.ChainID,
			criteria:   criteria,
			sourceName: src.Name,
			rng:        interval.Range{From: li.Start, To: li.End},
			logs:       li.Logs,
			txHashes:   li.TxHashes,
		}
		s.blockCallbacks[li.End] = append(s.blockCallbacks[li.End], cb)
	}
}

// blockWorker fetches the block with its transactions, invokes every
// registered callback concurrently, then records completion in the block
// tracker and emits a HistoricalCheckpoint if it advanced.
func (s *Service) blockWorker(ctx context.Context, number uint64, callbacks []blockCallback) error {
	block, err := s.chain.GetBlockByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("fetch block %d: %w", number, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cb := range callbacks {
		cb := cb
		g.Go(func() error {
			return cb.invoke(gctx, s.store, block)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run block callbacks for block %d: %w", number, err)
	}

	s.mu.Lock()
	checkpoint, advanced := s.blockTracker.AddCompletedBlock(number, block.Time())
	if advanced {
		// Emitted under mu so concurrent block workers send checkpoints in
		// the order the tracker produced them.
		s.emitHistoricalCheckpoint(checkpoint.Number, checkpoint.Timestamp)
	}
	s.mu.Unlock()

	s.checkCompletion()
	return nil
}
