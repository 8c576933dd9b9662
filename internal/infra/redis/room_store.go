package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Notes:
//   - Game state lives in the local map; a room is owned by one instance.
//   - Redis holds a directory entry per room (quiz, host, owning instance) so
//     a load balancer or another instance can find the owner.
//   - Entries expire unless KeepAlive refreshes them.
type RoomStore struct {
	client   *redis.Client
	ttl      time.Duration
	instance string

	mu    sync.RWMutex
	rooms map[string]*app.GameSession
}

// RoomInfo is the directory entry of a room.
type RoomInfo struct {
	RoomID   string
	QuizID   string
	HostID   string
	Instance string
}

func NewRoomStore(client *redis.Client, ttl time.Duration, instance string) *RoomStore {
	return &RoomStore{
		client:   client,
		ttl:      ttl,
		instance: instance,
		rooms:    make(map[string]*app.GameSession),
	}
}

// GetOrCreate returns the local session, creating it when missing. The
// directory entry is written after the room table lock is released.
func (s *RoomStore) GetOrCreate(roomID, quizID, hostID string) (*app.GameSession, bool) {
	s.mu.Lock()
	if session, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return session, false
	}
	session := app.NewGameSession(roomID, quizID, hostID)
	s.rooms[roomID] = session
	s.mu.Unlock()

	s.register(context.Background(), roomID, quizID, hostID)
	return session, true
}

// register writes the best-effort directory entry of a room.
func (s *RoomStore) register(ctx context.Context, roomID, quizID, hostID string) {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID), "quizId", quizID, "hostId", hostID, "instance", s.instance)
	if s.ttl > 0 {
		pipe.Expire(ctx, roomKey(roomID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("redis: register room %s: %v", roomID, err)
	}
}

func (s *RoomStore) Get(roomID string) (*app.GameSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.rooms[roomID]
	return session, ok
}

func (s *RoomStore) Delete(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if err := s.client.Del(context.Background(), roomKey(roomID)).Err(); err != nil {
		log.Printf("redis: unregister room %s: %v", roomID, err)
	}
}

// Lookup reads a room's directory entry, which may belong to another instance.
func (s *RoomStore) Lookup(ctx context.Context, roomID string) (RoomInfo, bool, error) {
	fields, err := s.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RoomInfo{}, false, nil
		}
		return RoomInfo{}, false, err
	}
	if len(fields) == 0 {
		return RoomInfo{}, false, nil
	}
	return RoomInfo{
		RoomID:   roomID,
		QuizID:   fields["quizId"],
		HostID:   fields["hostId"],
		Instance: fields["instance"],
	}, true, nil
}

// KeepAlive refreshes the directory TTL of every local room until ctx is done.
func (s *RoomStore) KeepAlive(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *RoomStore) refresh(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Expire(ctx, roomKey(id), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && len(ids) > 0 {
		log.Printf("redis: refresh %d rooms: %v", len(ids), err)
	}
}

func roomKey(roomID string) string {
	return "quiz:room:" + roomID
}
