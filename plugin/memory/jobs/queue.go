// Package jobs is a small in-process task queue for the background memory
// work. Tasks are deduplicated by key while pending, can be deferred with a
// not-before time, and run on a fixed pool of workers so a burst of turns
// never spawns unbounded goroutines.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind names a task handler.
type Kind string

const (
	KindSummarize Kind = "summarize"
	KindExtract   Kind = "extract"
	KindBrief     Kind = "brief"
)

// Task is one unit of background work. Key deduplicates: while a task with
// the same key is pending, further enqueues of that key are dropped.
type Task struct {
	Key       string
	Kind      Kind
	SessionID int32

	// NotBefore delays execution; zero means run as soon as a worker is
	// free.
	NotBefore time.Time
}

// Handler runs one task. Errors are logged, never retried; the periodic
// sweeps re-detect any work a failed task leaves behind.
type Handler func(ctx context.Context, task Task) error

type Queue struct {
	workers  int
	tasks    chan Task
	handlers map[Kind]Handler

	mu      sync.Mutex
	pending map[string]struct{}
	timers  map[string]*time.Timer

	startOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewQueue(workers, buffer int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		workers:  workers,
		tasks:    make(chan Task, buffer),
		handlers: make(map[Kind]Handler),
		pending:  make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Register binds a handler to a task kind. Call before Start.
func (q *Queue) Register(kind Kind, handler Handler) {
	q.handlers[kind] = handler
}

// Start launches the worker pool. Workers stop when ctx is canceled and
// Start returns after they drain.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx)
		}
	})

	<-ctx.Done()
	close(q.done)
	q.mu.Lock()
	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue schedules a task. It returns false when a task with the same key
// is already pending or the queue is saturated.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	if _, ok := q.pending[task.Key]; ok {
		q.mu.Unlock()
		return false
	}
	q.pending[task.Key] = struct{}{}

	delay := time.Until(task.NotBefore)
	if delay > 0 {
		q.timers[task.Key] = time.AfterFunc(delay, func() {
			q.mu.Lock()
			delete(q.timers, task.Key)
			q.mu.Unlock()
			q.deliver(task)
		})
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	if !q.deliver(task) {
		return false
	}
	return true
}

// PendingLen reports how many task keys are outstanding.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) deliver(task Task) bool {
	select {
	case <-q.done:
		q.forget(task.Key)
		return false
	case q.tasks <- task:
		return true
	default:
		slog.Warn("job queue saturated, dropping task", slog.String("key", task.Key))
		q.forget(task.Key)
		return false
	}
}

func (q *Queue) forget(key string) {
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.run(ctx, task)
		}
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	defer q.forget(task.Key)

	handler, ok := q.handlers[task.Kind]
	if !ok {
		slog.Error("no handler registered for task kind", slog.String("kind", string(task.Kind)))
		return
	}
	if err := handler(ctx, task); err != nil {
		slog.Warn("background task failed",
			slog.String("kind", string(task.Kind)),
			slog.String("key", task.Key),
			slog.Any("err", err))
	}
}
