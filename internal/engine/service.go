package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/blockcrawl/histsync/internal/logger"
	"github.com/blockcrawl/histsync/internal/progress"
	"github.com/blockcrawl/histsync/internal/queue"
	"github.com/blockcrawl/histsync/pkg/config"
)

// Service is one historical sync service instance, composing the interval
// algebra, progress trackers, priority queue, resilient log fetcher, and
// chain client into a single (network, event-source-set) sync run. The zero
// value is not usable; construct with New.
type Service struct {
	chainID     uint64
	networkName string
	network     config.NetworkConfig
	sources     []*Source

	store EventStore
	fetch LogFetcher
	chain BlockClient

	log *logger.Logger

	queue *queue.Queue[Task]

	// mu guards every field below: the three tracker maps, blockCallbacks,
	// blockTracker, and enqueuedUpTo. Held only for the fast in-memory
	// tracker math and the checkpoint send that follows a block-tracker
	// advance; RPC and store I/O always happen outside the lock.
	mu                   sync.Mutex
	logFilterTrackers    map[string]*progress.RangeTracker
	factoryChildTrackers map[string]*progress.RangeTracker
	factoryLogTrackers   map[string]*progress.RangeTracker
	blockCallbacks       map[uint64][]blockCallback
	blockTracker         *progress.BlockTracker
	enqueuedUpTo         int64 // watermark of the block-task gate; -1 before anything is enqueued

	finalizedBlockNumber uint64

	// ETA baseline: blocks already cached per source when Setup ran, and
	// when it ran, so ProgressSnapshots can extrapolate throughput from
	// this run's own progress rather than counting prior runs' coverage.
	setupAt       time.Time
	initialCached map[string]uint64

	events       chan Event
	completeOnce sync.Once
}

// New builds a Service. Call Setup before Start.
func New(network config.NetworkConfig, sources []*Source, es EventStore, fetch LogFetcher, chain BlockClient, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Service{
		chainID:              network.ChainID,
		networkName:          strconv.FormatUint(network.ChainID, 10),
		network:              network,
		sources:              sources,
		store:                es,
		fetch:                fetch,
		chain:                chain,
		log:                  log,
		logFilterTrackers:    make(map[string]*progress.RangeTracker),
		factoryChildTrackers: make(map[string]*progress.RangeTracker),
		factoryLogTrackers:   make(map[string]*progress.RangeTracker),
		blockCallbacks:       make(map[uint64][]blockCallback),
		blockTracker:         progress.NewBlockTracker(),
		enqueuedUpTo:         -1,
		initialCached:        make(map[string]uint64),
		events:               make(chan Event, 64),
	}

	concurrency := int64(network.MaxRPCRequestConcurrency)
	s.queue = queue.New(s.runTask, s.onTaskError, concurrency)
	return s
}

// Events returns the service's output channel: a monotone sequence of
// HistoricalCheckpoint events terminated by exactly one SyncComplete.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Start kicks the work queue. If the queue is already empty (every source
// was fully cached at Setup, or every source was skipped), the service
// emits a HistoricalCheckpoint at the finalized block and SyncComplete
// immediately.
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)

	if s.queue.Size() == 0 && s.queue.Pending() == 0 {
		s.emitHistoricalCheckpoint(s.finalizedBlockNumber, uint64(time.Now().Unix()))
		s.emitSyncComplete()
	}
}

// Kill pauses the queue and drops all queued (not yet started) tasks.
// In-flight tasks are not waited for: the context they run under is
// cancelled, so they end at their next context-aware RPC or store call.
func (s *Service) Kill() {
	s.queue.Pause()
	s.queue.Clear()
}

func (s *Service) emitHistoricalCheckpoint(number, timestamp uint64) {
	s.events <- Event{Kind: EventHistoricalCheckpoint, BlockNumber: number, BlockTimestamp: timestamp}
}

func (s *Service) emitSyncComplete() {
	s.completeOnce.Do(func() {
		s.events <- Event{Kind: EventSyncComplete}
	})
}

// checkCompletion runs at the end of a task worker's body: with no tasks
// queued and at most one running (the caller itself, still counted as
// running by the queue at this point), the sync is done.
func (s *Service) checkCompletion() {
	if s.queue.Size() == 0 && s.queue.Pending() <= 1 {
		s.emitSyncComplete()
	}
}

func (s *Service) addTasks(tasks []Task, retry bool) {
	for _, t := range tasks {
		s.queue.AddTask(t, queue.TaskOptions{Priority: t.priority(), Retry: retry})
	}
}

// onTaskError is the queue's on-error handler: it re-enqueues the
// same task at the same priority, marked as a retry. Retries are unbounded
// at this layer; transient-RPC errors already carry exponential backoff one
// layer down inside the chain client, so this cannot busy-loop.
func (s *Service) onTaskError(err error, task Task, q *queue.Queue[Task]) {
	sourceName := ""
	if task.Source != nil {
		sourceName = task.Source.Name
	}
	s.log.Errorw("task failed, retrying",
		"kind", task.Kind.String(),
		"source", sourceName,
		"from", task.From,
		"to", task.To,
		"blockNumber", task.Number,
		"error", err,
	)
	q.AddTask(task, queue.TaskOptions{Priority: task.priority(), Retry: true})
}

// metricsLabel returns the (network, event_source) label pair used on every
// source-scoped metric.
func (s *Service) metricsLabel(sourceName string) (network, source string) {
	return s.networkName, sourceName
}

// minTrackerCheckpoint returns the lowest checkpoint across every range
// tracker of every kind currently registered, and whether at least one
// tracker exists. Must be called with s.mu held.
func (s *Service) minTrackerCheckpoint() (int64, bool) {
	min := int64(0)
	found := false
	observe := func(cp int64) {
		if !found || cp < min {
			min = cp
			found = true
		}
	}
	for _, t := range s.logFilterTrackers {
		observe(t.GetCheckpoint())
	}
	for _, t := range s.factoryChildTrackers {
		observe(t.GetCheckpoint())
	}
	for _, t := range s.factoryLogTrackers {
		observe(t.GetCheckpoint())
	}
	return min, found
}
