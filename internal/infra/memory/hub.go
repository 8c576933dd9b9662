package memory

import (
	"context"
	"sync"

	"quizroom-service/internal/domain"
)

const subscriberBuffer = 32

// Hub is an in-process pub/sub of room events. Publish never blocks: when a
// subscriber's buffer is full its oldest queued event is dropped.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.Event]struct{})}
}

// Publish implements app.Broadcaster.
func (h *Hub) Publish(roomID string, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[roomID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of the room's events. The caller must invoke
// the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(_ context.Context, roomID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[chan domain.Event]struct{})
	}
	h.subs[roomID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[roomID], ch)
			if len(h.subs[roomID]) == 0 {
				delete(h.subs, roomID)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Subscribers returns the number of subscribers of a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roomID])
}
