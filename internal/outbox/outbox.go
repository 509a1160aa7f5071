// Package outbox implements a small outbound task queue. Side effects such as
// notification delivery ride the queue so their failure can never roll back
// or block the state transition that produced them.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/openfleet/dispatchd/core/logger"
)

// Handler processes one queued task. A non-nil error triggers a retry until
// the attempt budget is exhausted.
type Handler[T any] func(ctx context.Context, task T) error

// Queue is a bounded asynchronous task queue with retry. Stop is idempotent.
type Queue[T any] struct {
	name       string
	handler    Handler[T]
	log        logger.Logger
	tasks      chan T
	maxRetries int
	backoff    time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	dropped int
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	capacity   int
	maxRetries int
	backoff    time.Duration
}

// WithCapacity sets the queue depth. Default 256.
func WithCapacity(n int) Option { return func(o *options) { o.capacity = n } }

// WithRetry sets the retry budget and the delay between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		o.maxRetries = attempts
		o.backoff = backoff
	}
}

// New creates a stopped queue. Call Start before enqueueing.
func New[T any](name string, handler Handler[T], log logger.Logger, opts ...Option) *Queue[T] {
	o := options{capacity: 256, maxRetries: 2, backoff: 100 * time.Millisecond}
	for _, fn := range opts {
		fn(&o)
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Queue[T]{
		name:       name,
		handler:    handler,
		log:        log,
		tasks:      make(chan T, o.capacity),
		maxRetries: o.maxRetries,
		backoff:    o.backoff,
		done:       make(chan struct{}),
	}
}

// Start launches the worker. Repeated calls are no-ops.
func (q *Queue[T]) Start() {
	q.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		go q.run(ctx)
	})
}

// Stop drains nothing: in-flight work finishes, queued work is abandoned.
// Safe to call repeatedly.
func (q *Queue[T]) Stop() {
	q.stopOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
			<-q.done
		} else {
			close(q.done)
		}
	})
}

// Enqueue adds a task without blocking. When the queue is full the task is
// dropped and counted; the caller is never stalled.
func (q *Queue[T]) Enqueue(task T) bool {
	select {
	case q.tasks <- task:
		return true
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		q.log.Warnf("outbox %s: queue full, task dropped", q.name)
		return false
	}
}

// Dropped reports how many tasks were rejected because the queue was full.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case task := <-q.tasks:
			q.process(ctx, task)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue[T]) process(ctx context.Context, task T) {
	var err error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(q.backoff):
			case <-ctx.Done():
				return
			}
		}
		if err = q.handler(ctx, task); err == nil {
			return
		}
		q.log.Warnf("outbox %s: attempt %d failed: %v", q.name, attempt+1, err)
	}
	q.log.Errorf("outbox %s: task abandoned after %d attempts: %v", q.name, q.maxRetries+1, err)
}
