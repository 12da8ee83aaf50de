package seatlock

import "time"

// Outcome is the typed result of a lock operation. Contention and ownership
// mismatches are outcomes, not errors.
type Outcome int

const (
	// Acquired means the caller now holds the seat.
	Acquired Outcome = iota + 1
	// AlreadyOwned means the caller already held a live lock; nothing changed.
	AlreadyOwned
	// Denied means another connection holds a live lock on the seat.
	Denied
	// Released means the caller's lock was removed.
	Released
	// NotOwner means the seat is locked by someone else; nothing changed.
	NotOwner
	// NotFound means there was no lock on the seat.
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyOwned:
		return "already_owned"
	case Denied:
		return "denied"
	case Released:
		return "released"
	case NotOwner:
		return "not_owner"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Lock is one seat held by one connection until ExpiresAt.
type Lock struct {
	SeatID    string
	Owner     string
	ExpiresAt time.Time
}

// expired reports whether l is no longer valid at now. A lock is invalid at
// or after its expiry instant.
func (l Lock) expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// RoomSeat names a seat inside a room. Bulk operations return these so the
// gateway can broadcast one event per seat.
type RoomSeat struct {
	Room   string
	SeatID string
}
