// Package bus fans committed-change signals out to in-process subscribers.
//
// Each subscriber owns a goroutine and a single pending slot: deliveries to
// one subscriber never overlap, and changes that arrive while it is busy
// collapse into one further call. There is no ordering across subscribers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"fundledger/internal/core"
)

type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	fn    func()
	kinds map[core.Kind]struct{} // nil means every kind
	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe calls fn after each change to any of kinds, or to anything when
// kinds is empty. The returned func removes the subscription and may be
// called more than once.
func (b *Bus) Subscribe(fn func(), kinds ...core.Kind) (unsubscribe func()) {
	s := &subscriber{
		fn:    fn,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[core.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ready:
			select {
			case <-s.done:
				return
			default:
			}
			s.call()
		}
	}
}

func (s *subscriber) call() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Bus subscriber panicked", "panic", r)
		}
	}()
	s.fn()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) wants(kinds []core.Kind) bool {
	if s.kinds == nil {
		return true
	}
	for _, k := range kinds {
		if _, ok := s.kinds[k]; ok {
			return true
		}
	}
	return false
}

// Publish signals every subscriber interested in kinds. It never blocks.
func (b *Bus) Publish(kinds ...core.Kind) {
	if len(kinds) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !s.wants(kinds) {
			continue
		}
		select {
		case s.ready <- struct{}{}:
		default:
			// Already pending; the next call will observe this change too.
		}
	}
}

// Notify implements store.Notifier.
func (b *Bus) Notify(_ context.Context, kinds []core.Kind) {
	b.Publish(kinds...)
}

// Close stops every subscriber. Later subscriptions are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
