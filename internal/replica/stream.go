package replica

import (
	"log/slog"
	"sync"

	"github.com/roach88/mudbridge/internal/ir"
)

// Source is anything observers can subscribe to. A component's update
// stream is the Source the bridge consumes.
type Source interface {
	Subscribe(obs Observer, opts ...SubscribeOption) (*Subscription, error)
}

// Stream fans updates out to its subscriptions. Emit order is delivery
// order for every subscription.
type Stream struct {
	name string

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// NewStream creates an empty stream labelled name.
func NewStream(name string) *Stream {
	return &Stream{name: name}
}

// Name returns the stream label.
func (s *Stream) Name() string {
	return s.name
}

// Subscribe registers obs and starts its delivery goroutine. Only updates
// emitted after Subscribe returns are delivered.
func (s *Stream) Subscribe(obs Observer, opts ...SubscribeOption) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	sub := newSubscription(s, obs, opts...)
	s.subs = append(s.subs, sub)
	go sub.run()
	return sub, nil
}

// Emit enqueues u on every subscription. It never blocks on observers.
func (s *Stream) Emit(u ir.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, sub := range s.subs {
		if !sub.enqueue(u) {
			slog.Debug("update dropped for stopped subscription", "stream", s.name, "seq", u.Seq)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close unsubscribes everyone and rejects future subscriptions.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := append([]*Subscription(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (s *Stream) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, other := range s.subs {
		if other == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
