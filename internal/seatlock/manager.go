// Package seatlock holds the in-memory seat reservations made while viewers
// pick seats for a showtime. A lock belongs to one realtime connection, lives
// for a fixed TTL and is released explicitly, on disconnect, or by expiry.
package seatlock

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iliyamo/movieflix-seatlock/internal/metrics"
)

// DefaultTTL is how long a seat stays locked without being booked or released.
const DefaultTTL = 10 * time.Minute

// Manager enforces the lock lifecycle over a Table. All operations are
// in-memory, never block on I/O, and are serialized by a single mutex, so a
// Manager is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	table Table
	clock clockwork.Clock
	ttl   time.Duration
	locks int
}

// Stats is a point-in-time count of the table contents.
type Stats struct {
	Rooms int
	Locks int
}

// NewManager returns a Manager that owns table. A nil table gets a fresh
// MemoryTable, a nil clock the real clock, and a non-positive ttl DefaultTTL.
func NewManager(table Table, clock clockwork.Clock, ttl time.Duration) *Manager {
	if table == nil {
		table = NewMemoryTable()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{table: table, clock: clock, ttl: ttl}
	for _, room := range table.Rooms() {
		m.locks += len(table.RoomSeatIDs(room))
	}
	return m
}

// TTL returns the lock lifetime used by Acquire.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire locks seatID in room for owner using the manager's TTL.
func (m *Manager) Acquire(room, seatID, owner string) (Outcome, error) {
	return m.AcquireFor(room, seatID, owner, m.ttl)
}

// AcquireFor is Acquire with an explicit ttl. An expired lock held by anyone
// is overwritten. A live lock held by owner is left untouched: repeating the
// request does not extend its expiry.
func (m *Manager) AcquireFor(room, seatID, owner string, ttl time.Duration) (Outcome, error) {
	if err := validate(room, seatID, owner); err != nil {
		return 0, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	existing, ok := m.table.Get(room, seatID)
	if ok && !existing.expired(now) {
		if existing.Owner == owner {
			metrics.SeatLockOutcomes.WithLabelValues("acquire", AlreadyOwned.String()).Inc()
			return AlreadyOwned, nil
		}
		metrics.SeatLockOutcomes.WithLabelValues("acquire", Denied.String()).Inc()
		return Denied, nil
	}
	if ok {
		// stale lock, taken over in place
		metrics.SeatLocksExpired.WithLabelValues("overwrite").Inc()
	} else {
		m.locks++
	}
	m.table.Set(room, seatID, Lock{SeatID: seatID, Owner: owner, ExpiresAt: now.Add(ttl)})
	m.publishGauge()
	metrics.SeatLockOutcomes.WithLabelValues("acquire", Acquired.String()).Inc()
	return Acquired, nil
}

// Release removes owner's lock on seatID. Locks held by other connections are
// never touched. The room entry is dropped once its last lock is gone.
func (m *Manager) Release(room, seatID, owner string) (Outcome, error) {
	if err := validate(room, seatID, owner); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.table.Get(room, seatID)
	if !ok {
		metrics.SeatLockOutcomes.WithLabelValues("release", NotFound.String()).Inc()
		return NotFound, nil
	}
	if existing.Owner != owner {
		metrics.SeatLockOutcomes.WithLabelValues("release", NotOwner.String()).Inc()
		return NotOwner, nil
	}
	m.remove(room, seatID)
	m.table.DeleteRoomIfEmpty(room)
	m.publishGauge()
	metrics.SeatLockOutcomes.WithLabelValues("release", Released.String()).Inc()
	return Released, nil
}

// Clear removes the lock on seatID whoever owns it, expired or not, and
// returns the removed lock. It is used once a seat is sold: no later release
// may report the seat as free again.
func (m *Manager) Clear(room, seatID string) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.table.Get(room, seatID)
	if !ok {
		metrics.SeatLockOutcomes.WithLabelValues("clear", NotFound.String()).Inc()
		return Lock{}, false
	}
	m.remove(room, seatID)
	m.table.DeleteRoomIfEmpty(room)
	m.publishGauge()
	metrics.SeatLockOutcomes.WithLabelValues("clear", Released.String()).Inc()
	return existing, true
}

// ReleaseAllForConnection removes every lock owned by owner across all rooms
// and returns what was removed. Calling it for a connection without locks is
// a no-op.
func (m *Manager) ReleaseAllForConnection(owner string) []RoomSeat {
	if strings.TrimSpace(owner) == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sweep(func(l Lock) bool { return l.Owner == owner })
}

// ExpireSweep removes every lock whose expiry is at or before now, whoever
// owns it, and returns what was removed.
func (m *Manager) ExpireSweep(now time.Time) []RoomSeat {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := m.sweep(func(l Lock) bool { return l.expired(now) })
	if len(expired) > 0 {
		metrics.SeatLocksExpired.WithLabelValues("sweep").Add(float64(len(expired)))
	}
	return expired
}

// Snapshot returns the seat ids with a live lock in room, sorted. Owners are
// not exposed.
func (m *Manager) Snapshot(room string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	ids := make([]string, 0)
	for _, id := range m.table.RoomSeatIDs(room) {
		if l, ok := m.table.Get(room, id); ok && !l.expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// HeldBy reports whether owner holds a live lock on seatID in room.
func (m *Manager) HeldBy(room, seatID, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.table.Get(room, seatID)
	return ok && l.Owner == owner && !l.expired(m.clock.Now())
}

// Lookup returns the lock on seatID in room, expired or not.
func (m *Manager) Lookup(room, seatID string) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Get(room, seatID)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Rooms: len(m.table.Rooms()), Locks: m.locks}
}

// sweep deletes every lock matching fn and garbage-collects emptied rooms.
// Callers hold m.mu.
func (m *Manager) sweep(fn func(Lock) bool) []RoomSeat {
	var removed []RoomSeat
	for _, room := range m.table.Rooms() {
		for _, id := range m.table.RoomSeatIDs(room) {
			l, ok := m.table.Get(room, id)
			if !ok || !fn(l) {
				continue
			}
			m.remove(room, id)
			removed = append(removed, RoomSeat{Room: room, SeatID: id})
		}
		m.table.DeleteRoomIfEmpty(room)
	}
	if len(removed) > 0 {
		m.publishGauge()
	}
	return removed
}

func (m *Manager) remove(room, seatID string) {
	m.table.Delete(room, seatID)
	m.locks--
}

func (m *Manager) publishGauge() {
	metrics.SeatLocksActive.Set(float64(m.locks))
}

func validate(room, seatID, owner string) error {
	switch {
	case strings.TrimSpace(room) == "":
		return ErrInvalidRoom
	case strings.TrimSpace(owner) == "":
		return ErrInvalidOwner
	}
	return ValidateSeatID(seatID)
}
