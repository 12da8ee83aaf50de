package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

// Client to server events.
const (
	EventJoinShowtime    = "join_showtime"
	EventRequestSeatLock = "request_seat_lock"
	EventReleaseSeatLock = "release_seat_lock"
)

// Server to client events.
const (
	EventConnected    = "connected"
	EventInitialLocks = "initial_locks"
	EventSeatLocked   = "seat_locked_update"
	EventLockFailed   = "lock_failed"
	EventSeatReleased = "seat_released_update"
	EventSeatBooked   = "seat_booked_update"
	EventError        = "error"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SeatRequest is the payload of request_seat_lock and release_seat_lock.
type SeatRequest struct {
	seatlock.Showtime
	SeatID string `json:"seatId"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type InitialLocksPayload struct {
	SeatIDs []string `json:"seatIds"`
}

// SeatPayload carries a single seat id. It is the body of seat_locked_update,
// seat_released_update and seat_booked_update.
type SeatPayload struct {
	SeatID string `json:"seatId"`
}

type LockFailedPayload struct {
	SeatID  string `json:"seatId"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// encode builds an outbound frame. Payloads are plain structs, so a marshal
// failure is a programming error; it is logged and an empty frame returned.
func encode(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal realtime payload", "event", event, "error", err)
		return nil
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		slog.Error("Failed to marshal realtime envelope", "event", event, "error", err)
		return nil
	}
	return msg
}
