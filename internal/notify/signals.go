package notify

import (
	"sync"

	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// Signals fans accepted notifications out to in-process subscribers.
// A subscriber whose buffer is full misses the event; Publish never blocks.
type Signals struct {
	mu   sync.Mutex
	subs map[int]chan protocol.NotificationEvent
	next int
}

func NewSignals() *Signals {
	return &Signals{subs: make(map[int]chan protocol.NotificationEvent)}
}

// Subscribe returns a channel of events and a func that ends the subscription.
func (s *Signals) Subscribe(buffer int) (<-chan protocol.NotificationEvent, func()) {
	ch := make(chan protocol.NotificationEvent, buffer)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Signals) Publish(ev protocol.NotificationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
