package histsync

import (
	"context"
	"sync"
)

// ChangeQueue is an input stream into the cache. Any caller may Push an item
// without knowing who consumes it; a single worker applies items in order.
type ChangeQueue[T any] struct {
	name  string
	apply func(ctx context.Context, item T) error
	log   Logger

	mu      sync.Mutex
	items   []T
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	started bool
	closed  bool
}

// NewChangeQueue creates a queue that applies items with apply. Failures are
// logged and do not stop the queue.
func NewChangeQueue[T any](name string, log Logger, apply func(ctx context.Context, item T) error) *ChangeQueue[T] {
	return &ChangeQueue[T]{
		name:  name,
		apply: apply,
		log:   log,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start runs the worker until ctx is done or Close is called.
func (q *ChangeQueue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	go q.run(ctx)
}

// Push enqueues item. Pushing to a closed queue drops the item.
func (q *ChangeQueue[T]) Push(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops the worker after the item being applied, if any.
func (q *ChangeQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	cancel := q.cancel
	q.mu.Unlock()

	if !started {
		close(q.done)
		return
	}
	cancel()
	<-q.done
}

func (q *ChangeQueue[T]) run(ctx context.Context) {
	defer close(q.done)
	for {
		for {
			item, ok := q.pop()
			if !ok {
				break
			}
			if err := q.apply(ctx, item); err != nil {
				q.log.Warn("change queue apply failed", "queue", q.name, "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

func (q *ChangeQueue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}
