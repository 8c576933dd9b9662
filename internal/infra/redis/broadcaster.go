package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/domain"
)

// ErrQueueFull is returned when the publish queue cannot take another event.
var ErrQueueFull = errors.New("broadcast queue full")

var errClosed = errors.New("broadcaster closed")

const subscriberBuffer = 32

// Broadcaster fans room events out over Redis pub/sub so every instance can
// serve the room's subscribers. Publish only enqueues; a single goroutine
// sends in enqueue order, which keeps each room's events ordered.
type Broadcaster struct {
	client *redis.Client
	queue  chan outbound

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type outbound struct {
	roomID string
	event  domain.Event
}

// wireEvent is the decoded form of an event; the payload is kept raw.
type wireEvent struct {
	Type    domain.EventType `json:"type"`
	RoomID  string           `json:"roomId"`
	Seq     uint64           `json:"seq"`
	Payload json.RawMessage  `json:"payload"`
}

func NewBroadcaster(client *redis.Client, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1024
	}
	b := &Broadcaster{
		client: client,
		queue:  make(chan outbound, queueSize),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish implements app.Broadcaster. It never blocks.
func (b *Broadcaster) Publish(roomID string, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	select {
	case b.queue <- outbound{roomID: roomID, event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	ctx := context.Background()
	for msg := range b.queue {
		data, err := json.Marshal(msg.event)
		if err != nil {
			log.Printf("redis: encode %s for room %s: %v", msg.event.Type, msg.roomID, err)
			continue
		}
		if err := b.client.Publish(ctx, eventsChannel(msg.roomID), data).Err(); err != nil {
			log.Printf("redis: publish %s for room %s: %v", msg.event.Type, msg.roomID, err)
		}
	}
}

// Subscribe returns a channel of the room's events as seen by every
// instance. Payloads arrive as json.RawMessage. The caller must invoke the
// returned cancel function to avoid leaks.
func (b *Broadcaster) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, eventsChannel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Event, subscriberBuffer)
	stopped := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("redis: decode event on %s: %v", msg.Channel, err)
				continue
			}
			event := domain.Event{Type: ev.Type, RoomID: ev.RoomID, Seq: ev.Seq, Payload: ev.Payload}
			select {
			case out <- event:
			case <-stopped:
				return
			default:
				// slow consumer: drop the oldest queued event
				select {
				case <-out:
				default:
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stopped)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

// Close stops accepting events and waits for queued ones to be sent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

func eventsChannel(roomID string) string {
	return "quiz:room:" + roomID + ":events"
}
