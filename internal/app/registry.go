package app

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/metrics"
)

// ErrConnectionNotFound is returned for connection IDs the registry does not know.
var ErrConnectionNotFound = errors.New("connection not registered")

// Registry maps network connections to identities and rooms and runs the
// disconnect grace timers. It never holds its lock while calling onTimeout.
type Registry struct {
	grace     time.Duration
	sched     Scheduler
	now       func() time.Time
	onTimeout func(roomID, participantID string)

	mu         sync.Mutex
	conns      map[string]*connection
	pending    map[graceKey]*graceTimer
	generation uint64
}

type connection struct {
	id             string
	identity       domain.Identity
	rooms          map[string]struct{}
	connectedAt    time.Time
	lastDisconnect time.Time
	disconnected   bool
}

type graceKey struct {
	roomID        string
	participantID string
}

type graceTimer struct {
	generation   uint64
	connectionID string
	timer        Timer
}

// NewRegistry builds a registry. onTimeout runs once per expired grace
// period, on the scheduler's goroutine.
func NewRegistry(grace time.Duration, sched Scheduler, onTimeout func(roomID, participantID string)) *Registry {
	if sched == nil {
		sched = RealScheduler
	}
	return &Registry{
		grace:     grace,
		sched:     sched,
		now:       time.Now,
		onTimeout: onTimeout,
		conns:     make(map[string]*connection),
		pending:   make(map[graceKey]*graceTimer),
	}
}

// Connect registers a connection. Any grace timer running for the same
// identity, in any room, is cancelled.
func (r *Registry) Connect(connectionID string, identity domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity.Key()
	for k, gt := range r.pending {
		if k.participantID == key {
			gt.timer.Stop()
			delete(r.pending, k)
		}
	}
	for id, c := range r.conns {
		if c.disconnected && c.identity.Key() == key {
			delete(r.conns, id)
		}
	}
	r.conns[connectionID] = &connection{
		id:          connectionID,
		identity:    identity,
		rooms:       make(map[string]struct{}),
		connectedAt: r.now(),
	}
}

// Subscribe records that the connection participates in a room and cancels
// a grace timer for that identity in that room.
func (r *Registry) Subscribe(connectionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok || c.disconnected {
		return ErrConnectionNotFound
	}
	c.rooms[roomID] = struct{}{}
	r.cancelLocked(graceKey{roomID: roomID, participantID: c.identity.Key()})
	return nil
}

// Disconnect starts a grace timer for every room the connection was in and
// returns the participant key and those rooms. Rooms where the identity still
// has another live connection get no timer. Unknown or already disconnected
// connections are a no-op.
func (r *Registry) Disconnect(connectionID string) (string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok || c.disconnected {
		return "", nil
	}
	c.disconnected = true
	c.lastDisconnect = r.now()
	key := c.identity.Key()

	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)

	for _, roomID := range rooms {
		if r.liveElsewhereLocked(key, roomID, connectionID) {
			continue
		}
		gk := graceKey{roomID: roomID, participantID: key}
		r.cancelLocked(gk)
		r.generation++
		gen := r.generation
		gt := &graceTimer{generation: gen, connectionID: connectionID}
		gt.timer = r.sched.AfterFunc(r.grace, func() { r.expire(gk, gen) })
		r.pending[gk] = gt
	}
	if !r.hasPendingLocked(connectionID) {
		delete(r.conns, connectionID)
	}
	return key, rooms
}

// Logout removes a connection immediately, without a grace period. Grace
// timers the connection started are stopped. It returns the participant key
// and the rooms the connection followed.
func (r *Registry) Logout(connectionID string) (string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return "", nil
	}
	for gk, gt := range r.pending {
		if gt.connectionID == connectionID {
			gt.timer.Stop()
			delete(r.pending, gk)
		}
	}
	delete(r.conns, connectionID)

	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return c.identity.Key(), rooms
}

// CancelGrace stops the grace timer for a participant in a room.
func (r *Registry) CancelGrace(roomID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(graceKey{roomID: roomID, participantID: participantID})
}

// PendingGrace reports whether a grace timer is running for the participant.
func (r *Registry) PendingGrace(roomID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[graceKey{roomID: roomID, participantID: participantID}]
	return ok
}

// Identity returns the identity registered for a connection.
func (r *Registry) Identity(connectionID string) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connectionID]
	if !ok {
		return domain.Identity{}, false
	}
	return c.identity, true
}

// Rooms lists the rooms a connection subscribed to.
func (r *Registry) Rooms(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connectionID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// Len returns the number of registered connections, disconnected ones awaiting their grace period included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) expire(gk graceKey, generation uint64) {
	r.mu.Lock()
	gt, ok := r.pending[gk]
	if !ok || gt.generation != generation {
		r.mu.Unlock()
		return
	}
	delete(r.pending, gk)
	if c, ok := r.conns[gt.connectionID]; ok && c.disconnected && !r.hasPendingLocked(gt.connectionID) {
		delete(r.conns, gt.connectionID)
	}
	onTimeout := r.onTimeout
	r.mu.Unlock()

	metrics.GraceTimeout()
	log.Printf("registry: grace period expired for %s in room %s", gk.participantID, gk.roomID)
	if onTimeout != nil {
		onTimeout(gk.roomID, gk.participantID)
	}
}

func (r *Registry) cancelLocked(gk graceKey) bool {
	gt, ok := r.pending[gk]
	if !ok {
		return false
	}
	gt.timer.Stop()
	delete(r.pending, gk)
	if c, ok := r.conns[gt.connectionID]; ok && c.disconnected && !r.hasPendingLocked(gt.connectionID) {
		delete(r.conns, gt.connectionID)
	}
	return true
}

func (r *Registry) hasPendingLocked(connectionID string) bool {
	for _, gt := range r.pending {
		if gt.connectionID == connectionID {
			return true
		}
	}
	return false
}

func (r *Registry) liveElsewhereLocked(participantID, roomID, exceptConnectionID string) bool {
	for id, c := range r.conns {
		if id == exceptConnectionID || c.disconnected || c.identity.Key() != participantID {
			continue
		}
		if _, ok := c.rooms[roomID]; ok {
			return true
		}
	}
	return false
}
