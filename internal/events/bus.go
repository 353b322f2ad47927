package events

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 128

// Filter selects the events a subscription receives. nil accepts everything.
type Filter func(Event) bool

// OfKind accepts only events of the given kinds.
func OfKind(kinds ...Kind) Filter {
	return func(ev Event) bool {
		for _, k := range kinds {
			if ev.Kind() == k {
				return true
			}
		}
		return false
	}
}

// Bus fans events out to subscribers. Publish never blocks: every subscriber owns an
// overwrite-oldest buffer. Subscribe and Unsubscribe may be called from any goroutine.
type Bus struct {
	subs   *hashmap.Map[uint64, *Subscription]
	nextID atomic.Uint64
	buffer int
	logger *logrus.Logger
}

func NewBus(buffer int, logger *logrus.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subs:   hashmap.New[uint64, *Subscription](),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	s := &Subscription{
		id:     b.nextID.Add(1),
		bus:    b,
		filter: filter,
		ring:   NewRingChannel[Event](b.buffer),
	}
	b.subs.Set(s.id, s)
	return s
}

// Publish delivers ev to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.subs.Range(func(_ uint64, s *Subscription) bool {
		if s.filter != nil && !s.filter(ev) {
			return true
		}
		if s.ring.ForceSend(ev) {
			b.logger.WithFields(logrus.Fields{
				"subscriber": s.id,
				"kind":       ev.Kind(),
			}).Warn("Subscriber buffer full, dropped oldest event")
		}
		return true
	})
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	return b.subs.Len()
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.subs.Range(func(_ uint64, s *Subscription) bool {
		s.Close()
		return true
	})
}

// Subscription is a lazily consumed, unbounded event sequence. It ends when Close is
// called, by the subscriber or by the publisher side.
type Subscription struct {
	id     uint64
	bus    *Bus
	filter Filter
	ring   *RingChannel[Event]
}

// C returns the event channel; it is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ring.C()
}

// All yields events until the subscription ends or ctx is done.
func (s *Subscription) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			select {
			case ev, ok := <-s.ring.C():
				if !ok || !yield(ev) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// Dropped returns how many events were overwritten before being consumed.
func (s *Subscription) Dropped() int64 {
	return s.ring.GetMetrics().Overwritten
}

// Close unsubscribes and closes the channel. Idempotent.
func (s *Subscription) Close() {
	s.bus.subs.Del(s.id)
	s.ring.Close()
}
