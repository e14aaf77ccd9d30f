// Package broadcast fans events out to independently paced subscribers.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Hub delivers every emitted value to every subscriber active at the time of
// the emit. Emit never blocks on a subscriber: each one has its own queue,
// drained by its own goroutine.
type Hub[T any] struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*subscriber[T]
	capacity int
	clone    func(T) T
	closed   bool
}

// Option configures a Hub.
type Option[T any] func(*Hub[T])

// WithCapacity bounds each subscriber queue to n values; when full, the
// oldest queued value is dropped. n <= 0 means unbounded.
func WithCapacity[T any](n int) Option[T] {
	return func(h *Hub[T]) {
		h.capacity = n
	}
}

// WithClone gives each subscriber its own copy of every value.
func WithClone[T any](fn func(T) T) Option[T] {
	return func(h *Hub[T]) {
		h.clone = fn
	}
}

// New creates an empty hub.
func New[T any](opts ...Option[T]) *Hub[T] {
	h := &Hub[T]{subs: make(map[uuid.UUID]*subscriber[T])}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber that receives values emitted from now on.
// The subscription ends when ctx is done, when Close or Unsubscribe is
// called, or when the hub is closed; its channel is then closed.
func (h *Hub[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := newSubscriber[T](h.capacity)
	s := &Subscription[T]{id: uuid.New(), hub: h, sub: sub}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.stop()
		return s
	}
	h.subs[s.id] = sub
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.Unsubscribe(s.id)
		case <-sub.done:
		}
	}()
	return s
}

// Unsubscribe removes a subscriber. Values still queued for it are discarded.
// Unknown ids are ignored.
func (h *Hub[T]) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if ok {
		sub.stop()
	}
}

// Emit enqueues v for every current subscriber.
func (h *Hub[T]) Emit(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if h.clone != nil {
			sub.push(h.clone(v))
		} else {
			sub.push(v)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately
// and later emits are dropped.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uuid.UUID]*subscriber[T])
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// Subscription is one consumer's handle on a hub.
type Subscription[T any] struct {
	id  uuid.UUID
	hub *Hub[T]
	sub *subscriber[T]
}

// ID identifies the subscription within its hub.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// Events yields values in emit order. It is closed when the subscription ends.
func (s *Subscription[T]) Events() <-chan T {
	return s.sub.out
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.hub.Unsubscribe(s.id)
}

// Dropped counts values discarded because the queue was full.
func (s *Subscription[T]) Dropped() uint64 {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	return s.sub.dropped
}

type subscriber[T any] struct {
	mu       sync.Mutex
	queue    []T
	capacity int
	dropped  uint64

	notify   chan struct{}
	out      chan T
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscriber[T any](capacity int) *subscriber[T] {
	s := &subscriber[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		out:      make(chan T),
		done:     make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if s.capacity > 0 && len(s.queue) >= s.capacity {
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber[T]) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
