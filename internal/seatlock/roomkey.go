package seatlock

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// roomKeySep joins the showtime components. Mongo-style ids, ISO dates and
// HH:MM times never contain it.
const roomKeySep = "_"

// Widths of the booking columns. Longer values could be locked in memory but
// never sold, so they are rejected where requests enter.
const (
	MaxMovieIDLen   = 64
	MaxTheaterIDLen = 64
	MaxDateLen      = 10
	MaxTimeLen      = 8
	MaxSeatIDLen    = 32
)

// RoomKey derives the room identifier for one showtime. It is pure and
// deterministic. An empty theaterID is kept as an empty component, so every
// request that omits the theater lands in the same per-movie/date/time room.
func RoomKey(movieID, theaterID, date, time string) string {
	return strings.Join([]string{movieID, theaterID, date, time}, roomKeySep)
}

// Showtime is the composite identity of a room as clients send it.
type Showtime struct {
	MovieID   string `json:"movieId"`
	TheaterID string `json:"theaterId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

// Key returns the room key for s.
func (s Showtime) Key() string {
	return RoomKey(s.MovieID, s.TheaterID, s.Date, s.Time)
}

// Validate reports whether the required components are present and every
// component fits its column. TheaterID is optional.
func (s Showtime) Validate() error {
	switch {
	case strings.TrimSpace(s.MovieID) == "":
		return fmt.Errorf("%w: movieId is required", ErrInvalidRoom)
	case strings.TrimSpace(s.Date) == "":
		return fmt.Errorf("%w: date is required", ErrInvalidRoom)
	case strings.TrimSpace(s.Time) == "":
		return fmt.Errorf("%w: time is required", ErrInvalidRoom)
	}
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"movieId", s.MovieID, MaxMovieIDLen},
		{"theaterId", s.TheaterID, MaxTheaterIDLen},
		{"date", s.Date, MaxDateLen},
		{"time", s.Time, MaxTimeLen},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > f.max {
			return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidRoom, f.name, f.max)
		}
	}
	return nil
}

// ValidateSeatID rejects empty seat ids and ids wider than MaxSeatIDLen.
func ValidateSeatID(seatID string) error {
	if strings.TrimSpace(seatID) == "" {
		return ErrInvalidSeat
	}
	if utf8.RuneCountInString(seatID) > MaxSeatIDLen {
		return fmt.Errorf("%w: seatId must be at most %d characters", ErrInvalidSeat, MaxSeatIDLen)
	}
	return nil
}
