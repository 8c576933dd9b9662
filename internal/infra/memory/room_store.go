package memory

import (
	"sync"

	"quizroom-service/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomRepository.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.GameSession
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.GameSession),
	}
}

func (s *RoomStore) GetOrCreate(roomID, quizID, hostID string) (*app.GameSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.rooms[roomID]; ok {
		return session, false
	}
	session := app.NewGameSession(roomID, quizID, hostID)
	s.rooms[roomID] = session
	return session, true
}

func (s *RoomStore) Get(roomID string) (*app.GameSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.rooms[roomID]
	return session, ok
}

func (s *RoomStore) Delete(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Len returns the number of live rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
