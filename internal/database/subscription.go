package database

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Subscription is a running live query.
type Subscription struct {
	id   string
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
	reg  *registry
}

// ID identifies the subscription within its collection.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe stops the live query. No callback starts after it returns;
// a callback already running finishes. Safe to call from inside the callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.reg.remove(s.id)
	})
}

// Done is closed once the query goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

type registry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]*Subscription)}
}

func (r *registry) add(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.id] = s
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// notify wakes every subscriber. Wakes coalesce while a subscriber is busy.
func (r *registry) notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Subscribe runs q and calls fn with the result, then again each time a
// write to the collection changes the result. fn runs on a goroutine owned
// by the subscription, one call at a time.
func (c *Collection[T]) Subscribe(q Query, fn func([]T)) (*Subscription, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	s := &Subscription{
		id:   uuid.New().String(),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		reg:  c.subs,
	}
	c.subs.add(s)
	s.wake <- struct{}{}

	go c.watch(s, q, fn)
	return s, nil
}

// Subscribers is the number of running live queries on the collection.
func (c *Collection[T]) Subscribers() int { return c.subs.len() }

func (c *Collection[T]) watch(s *Subscription, q Query, fn func([]T)) {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	var last string
	emitted := false
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		docs, err := c.Find(ctx, q)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return
			}
			c.store.log.Warn("live query failed", "collection", c.Name(), "error", err)
			continue
		}

		sig := signature(docs)
		if emitted && sig == last {
			continue
		}

		select {
		case <-s.stop:
			return
		default:
		}
		last, emitted = sig, true
		fn(docs)
	}
}

// signature identifies a result by its keys and revisions in order.
func signature[T Entity](docs []T) string {
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.PrimaryKey())
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatInt(d.Revision(), 10))
		sb.WriteByte(';')
	}
	return sb.String()
}
