package events

import (
	"sync"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Broadcaster fans location views out to in-process subscribers (WebSocket
// connections). Delivery is best effort: a subscriber whose buffer is full
// misses the event. A subscriber never receives a view for a subject that is
// older than one it already received.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped prometheus.Counter
}

func NewBroadcaster(dropped prometheus.Counter) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[uint64]*Subscription),
		dropped: dropped,
	}
}

type Subscription struct {
	id     uint64
	ch     chan models.CurrentLocationView
	mu     sync.Mutex
	latest map[uuid.UUID]time.Time
}

// Events is closed when the subscription is removed.
func (s *Subscription) Events() <-chan models.CurrentLocationView {
	return s.ch
}

func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		ch:     make(chan models.CurrentLocationView, buffer),
		latest: make(map[uuid.UUID]time.Time),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Deliver never blocks on a slow subscriber.
func (b *Broadcaster) Deliver(view models.CurrentLocationView) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.offer(view) && b.dropped != nil {
			b.dropped.Inc()
		}
	}
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// offer returns false only when the event was dropped for a full buffer. Stale
// views are skipped silently.
func (s *Subscription) offer(view models.CurrentLocationView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := view.Sample.Timestamp
	if last, ok := s.latest[view.SubjectID]; ok && !ts.After(last) {
		return true
	}

	select {
	case s.ch <- view:
		s.latest[view.SubjectID] = ts
		return true
	default:
		return false
	}
}
