// Package queue defines message payloads exchanged over the message broker
// and the background consumer of booking events.
package queue

import (
	"time"

	"github.com/iliyamo/movieflix-seatlock/internal/model"
)

// BookingConfirmedQueue is the durable queue booking events are routed to.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when a booking has been persisted and
// its seat locks converted. It carries enough for downstream consumers to
// log or notify without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        uint64   `json:"booking_id"`
	UserID           uint64   `json:"user_id"`
	MovieID          string   `json:"movie_id"`
	TheaterID        string   `json:"theater_id"`
	Date             string   `json:"date"`
	Time             string   `json:"time"`
	Seats            []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// NewBookingConfirmedEvent builds the event for a stored booking.
func NewBookingConfirmedEvent(b *model.Booking) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:        b.ID,
		UserID:           b.UserID,
		MovieID:          b.MovieID,
		TheaterID:        b.TheaterID,
		Date:             b.Date,
		Time:             b.Time,
		Seats:            b.Seats,
		TotalAmountCents: b.TotalAmountCents,
		ConfirmedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
	}
}
