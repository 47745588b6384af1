// Package queue implements the historical sync engine's priority work queue:
// a single worker function over a heterogeneous task variant, fixed
// concurrency bounded by a counting semaphore, and an on-error handler that
// re-enqueues failed tasks at their original priority.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TaskOptions configures how a task is scheduled.
type TaskOptions struct {
	// Priority orders tasks: a standard max-heap pops the largest Priority
	// value first. Callers encode position as a signed negative offset (e.g.
	// -from, -blockNumber) so the lowest block numbers run first.
	Priority int64
	// Retry marks a task re-enqueued by the on-error handler after a worker
	// failure.
	Retry bool
}

// OnErrorFunc is invoked when a worker returns an error for task. It is
// responsible for any re-enqueueing; the queue itself does not retry
// automatically.
type OnErrorFunc[T any] func(err error, task T, q *Queue[T])

// WorkerFunc processes a single task. A non-nil error triggers the queue's
// on-error handler.
type WorkerFunc[T any] func(ctx context.Context, task T) error

type item[T any] struct {
	task     T
	priority int64
	seq      int64
}

type taskHeap[T any] []*item[T]

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	// Ties broken by insertion order: earlier-inserted tasks run first.
	return h[i].seq < h[j].seq
}

func (h taskHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap[T]) Push(x any) {
	*h = append(*h, x.(*item[T]))
}

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded-concurrency priority work queue over task variant T.
//
// Not fair: strictly highest priority first, ties broken by insertion order.
// Zero value is not usable; construct with New.
type Queue[T any] struct {
	mu      sync.Mutex
	heap    taskHeap[T]
	seq     int64
	running int

	sem       *semaphore.Weighted
	worker    WorkerFunc[T]
	onError   OnErrorFunc[T]
	onIdleFns []func()

	paused bool
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

// New builds a queue with the given worker, on-error handler, and maximum
// concurrency (number of tasks that may run simultaneously).
func New[T any](worker WorkerFunc[T], onError OnErrorFunc[T], concurrency int64) *Queue[T] {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue[T]{
		sem:     semaphore.NewWeighted(concurrency),
		worker:  worker,
		onError: onError,
		wake:    make(chan struct{}, 1),
	}
}

// AddTask enqueues task with opts. Safe to call concurrently, including from
// within a worker body or the on-error handler.
func (q *Queue[T]) AddTask(task T, opts TaskOptions) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, &item[T]{task: task, priority: opts.Priority, seq: q.seq})
	q.mu.Unlock()
	q.signal()
}

// Start begins dispatching queued tasks until ctx is cancelled or Pause is
// called. Start is idempotent: calling it again while already running is a
// no-op (the prior goroutine continues dispatching).
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	if q.ctx != nil && q.ctx.Err() == nil {
		q.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.ctx = runCtx
	q.cancel = cancel
	q.paused = false
	q.mu.Unlock()

	go q.dispatchLoop(runCtx)
}

// Pause stops dispatching new tasks and cancels the context handed to
// in-flight tasks; it does not wait for them to return.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	q.paused = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
}

// Clear drops all queued (not yet started) tasks. Running tasks are
// unaffected.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.heap = nil
	q.mu.Unlock()
}

// Size returns the number of tasks currently queued (not yet started).
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Pending returns the number of tasks currently running.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// OnIdle registers fn to be invoked every time the queue transitions into an
// idle state: no queued tasks and no running tasks.
func (q *Queue[T]) OnIdle(fn func()) {
	q.mu.Lock()
	q.onIdleFns = append(q.onIdleFns, fn)
	q.mu.Unlock()
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) dispatchLoop(ctx context.Context) {
	for {
		q.mu.Lock()
		paused := q.paused
		empty := len(q.heap) == 0
		q.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if paused || empty {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}

		q.mu.Lock()
		if len(q.heap) == 0 {
			q.mu.Unlock()
			q.sem.Release(1)
			continue
		}
		it := heap.Pop(&q.heap).(*item[T])
		q.running++
		q.mu.Unlock()

		q.wg.Add(1)
		go q.run(ctx, it)
	}
}

func (q *Queue[T]) run(ctx context.Context, it *item[T]) {
	defer q.wg.Done()
	defer q.sem.Release(1)

	err := q.worker(ctx, it.task)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()

	// The on-error handler runs before the idle check so a synchronous
	// re-enqueue (the default retry behavior) is observed: it must not
	// trigger a spurious idle callback between failure and retry.
	if err != nil && q.onError != nil {
		q.onError(err, it.task, q)
	}

	q.mu.Lock()
	wentIdle := len(q.heap) == 0 && q.running == 0
	callbacks := append([]func(){}, q.onIdleFns...)
	q.mu.Unlock()

	if wentIdle {
		for _, fn := range callbacks {
			fn()
		}
	}

	q.signal()
}
