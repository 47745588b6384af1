package engine

import (
	"time"

	"github.com/blockcrawl/histsync/internal/metrics"
	"github.com/blockcrawl/histsync/internal/progress"
	"github.com/blockcrawl/histsync/pkg/interval"
)

// ProgressSnapshots reads live tracker state for every source, producing the
// completion_rate/completion_eta samples the metrics collector exposes on
// scrape. The ETA is extrapolated from the throughput observed since Setup;
// it reports 0 while no progress has been made yet. Safe to call from the
// metrics scrape goroutine at any time.
func (s *Service) ProgressSnapshots() []metrics.ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.setupAt).Seconds()

	out := make([]metrics.ProgressSnapshot, 0, len(s.sources))
	for _, src := range s.sources {
		var tracker *progress.RangeTracker
		if src.IsFactory {
			tracker = s.factoryLogTrackers[src.Name]
		} else {
			tracker = s.logFilterTrackers[src.Name]
		}
		if tracker == nil {
			continue
		}

		total := tracker.Target().Width()
		done := interval.Sum(tracker.Completed())

		network, source := s.metricsLabel(src.Name)
		snap := metrics.ProgressSnapshot{Network: network, Source: source}

		if total > 0 {
			snap.CompletionRate = float64(done) / float64(total)
		}

		if synced := done - s.initialCached[src.Name]; synced > 0 && elapsed > 0 && done < total {
			speed := float64(synced) / elapsed
			snap.ETASeconds = float64(total-done) / speed
		}

		out = append(out, snap)
	}
	return out
}
