package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/blockcrawl/histsync/internal/metrics"
	"github.com/blockcrawl/histsync/internal/progress"
	"github.com/blockcrawl/histsync/pkg/interval"
)

// Setup resolves the finalized block number, then for each source either
// skips it (start block past finalized is not an error; the realtime engine
// picks it up) or seeds its tracker(s) from persisted intervals and enqueues
// the initial tasks for whatever remains uncached.
func (s *Service) Setup(ctx context.Context) error {
	finalized, err := s.chain.FinalizedBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("resolve finalized block number: %w", err)
	}
	s.finalizedBlockNumber = finalized
	s.setupAt = time.Now()

	for _, src := range s.sources {
		if src.StartBlock > finalized {
			s.skipSource(src)
			continue
		}
		if src.IsFactory {
			if err := s.setupFactorySource(ctx, src, finalized); err != nil {
				return fmt.Errorf("setup factory source %s: %w", src.Name, err)
			}
		} else {
			if err := s.setupLogFilterSource(ctx, src, finalized); err != nil {
				return fmt.Errorf("setup log filter source %s: %w", src.Name, err)
			}
		}
	}

	return nil
}

// skipSource marks a source whose start block is past the finalized block
// as already fully completed, so it never constrains the block-task gate,
// and logs a warning: realtime sync will cover it instead.
func (s *Service) skipSource(src *Source) {
	s.log.Warnw("source start block is past the finalized block, skipping historical sync",
		"source", src.Name, "startBlock", src.StartBlock, "finalizedBlockNumber", s.finalizedBlockNumber)

	done := interval.Range{From: src.StartBlock, To: src.StartBlock}
	tracker := progress.NewRangeTracker(done, []interval.Range{done})

	s.mu.Lock()
	if src.IsFactory {
		s.factoryChildTrackers[src.Name] = tracker
		s.factoryLogTrackers[src.Name] = tracker
	} else {
		s.logFilterTrackers[src.Name] = tracker
	}
	s.mu.Unlock()

	network, source := s.metricsLabel(src.Name)
	metrics.TotalBlocksSet(network, source, 0)
	metrics.CachedBlocksSet(network, source, 0)
}

func (s *Service) setupLogFilterSource(ctx context.Context, src *Source, finalized uint64) error {
	target := interval.Range{From: src.StartBlock, To: src.EffectiveEndBlock(finalized)}
	criteria := toStoreCriteria(src.LogFilterCriteria())

	cached, err := s.store.GetLogFilterIntervals(ctx, s.chainID, criteria)
	if err != nil {
		return fmt.Errorf("load cached log filter intervals: %w", err)
	}

	tracker := progress.NewRangeTracker(target, cached)
	s.mu.Lock()
	s.logFilterTrackers[src.Name] = tracker
	s.mu.Unlock()

	network, source := s.metricsLabel(src.Name)
	cachedWidth := interval.Sum(tracker.Completed())
	metrics.TotalBlocksSet(network, source, target.Width())
	metrics.CachedBlocksSet(network, source, cachedWidth)
	s.initialCached[src.Name] = cachedWidth

	tasks := chunkRanges(src, tracker.GetRequired(), src.MaxBlockRange, TaskLogFilter)
	s.addTasks(tasks, false)
	return nil
}

func (s *Service) setupFactorySource(ctx context.Context, src *Source, finalized uint64) error {
	target := interval.Range{From: src.StartBlock, To: src.EffectiveEndBlock(finalized)}

	childCriteria := toStoreCriteria(src.FactoryChildCriteria())
	childCached, err := s.store.GetFactoryChildAddressIntervals(ctx, s.chainID, childCriteria)
	if err != nil {
		return fmt.Errorf("load cached factory child address intervals: %w", err)
	}
	childTracker := progress.NewRangeTracker(target, childCached)

	logCriteria := toStoreCriteria(src.FactoryLogFilterStoreCriteria())
	logCached, err := s.store.GetFactoryLogFilterIntervals(ctx, s.chainID, logCriteria)
	if err != nil {
		return fmt.Errorf("load cached factory log filter intervals: %w", err)
	}
	logTracker := progress.NewRangeTracker(target, logCached)

	s.mu.Lock()
	s.factoryChildTrackers[src.Name] = childTracker
	s.factoryLogTrackers[src.Name] = logTracker
	s.mu.Unlock()

	network, source := s.metricsLabel(src.Name)
	cachedWidth := interval.Sum(logTracker.Completed())
	metrics.TotalBlocksSet(network, source, target.Width())
	metrics.CachedBlocksSet(network, source, cachedWidth)
	s.initialCached[src.Name] = cachedWidth

	requiredChild := childTracker.GetRequired()
	requiredLog := logTracker.GetRequired()

	childTasks := chunkRanges(src, requiredChild, src.MaxBlockRange, TaskFactoryChild)
	s.addTasks(childTasks, false)

	// Cover the case where child addresses are already cached but the log
	// filter coverage is not: (required log) \ (required child).
	logOnly := interval.Difference(requiredLog, requiredChild)
	logTasks := chunkRanges(src, logOnly, src.MaxBlockRange, TaskFactoryLog)
	s.addTasks(logTasks, false)

	return nil
}
