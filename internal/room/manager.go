package room

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyRooms is returned when room creation would exceed max_rooms
// and no idle room could be reclaimed.
var ErrTooManyRooms = errors.New("too many rooms")

// Manager owns the map of live rooms, keyed by room_id, and enforces the
// global max_rooms cap from §4.5. It does not touch any Room's internal
// state directly — every interaction goes through that Room's own
// single-writer inbox.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg      Config
	maxRooms int
	pipeline Pipeline

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(ctx context.Context, cfg Config, maxRooms int, p Pipeline) *Manager {
	mgrCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		maxRooms: maxRooms,
		pipeline: p,
		ctx:      mgrCtx,
		cancel:   cancel,
	}
}

// GetOrCreate returns the existing room for roomID, or creates it if
// this is the first join to that id. A brand-new room only counts
// against max_rooms; re-joining an existing (possibly idle) room never
// does (§S6: a join inside the grace period reuses the same room).
//
// The mu lock is never held across a round trip into a Room's inbox
// (IsEmpty below): a Room's own Run loop can call back into
// Manager.onEmpty, which needs mu, so holding mu while waiting on that
// same Room would deadlock.
func (m *Manager) GetOrCreate(roomID string) (*Room, error) {
	m.mu.Lock()
	if r, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return r, nil
	}
	full := len(m.rooms) >= m.maxRooms
	candidates := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		candidates = append(candidates, r)
	}
	m.mu.Unlock()

	if full && !m.evictOneIdle(candidates) {
		return nil, ErrTooManyRooms
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		return r, nil // another goroutine created it while we evicted
	}
	r := New(roomID, m.cfg, m.pipeline, m.onEmpty)
	m.rooms[roomID] = r
	go r.Run(m.ctx)
	return r, nil
}

// onEmpty is called by a Room's own Run loop once its idle grace period
// elapses with zero participants; it removes the room from the registry
// so the next join to that id creates a fresh room with a fresh
// participant counter (§S6).
func (m *Manager) onEmpty(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

// evictOneIdle tries to reclaim capacity under max_rooms pressure by
// shutting down one currently-empty room before rejecting a new one
// outright (§4.5's "MAY reclaim" idle-eviction policy). Queries each
// candidate's emptiness without holding mu (see GetOrCreate), then
// re-acquires mu only for the map mutation.
func (m *Manager) evictOneIdle(candidates []*Room) bool {
	for _, r := range candidates {
		if !r.IsEmpty() {
			continue
		}
		m.mu.Lock()
		cur, ok := m.rooms[r.ID]
		if ok && cur == r {
			delete(m.rooms, r.ID)
		}
		m.mu.Unlock()
		if ok && cur == r {
			r.Shutdown()
			return true
		}
	}
	return false
}

// Shutdown tears down every live room, used on process exit.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		select {
		case <-time.After(time.Second):
		case <-r.Done():
		}
	}
}
