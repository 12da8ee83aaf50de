package model

import "time"

// BookingStatusConfirmed is the only status this service writes. Cancellation
// belongs to the payment side.
const BookingStatusConfirmed = "CONFIRMED"

// Booking is a confirmed purchase of one or more seats of a showtime. Seats
// are the opaque seat ids the realtime clients lock.
type Booking struct {
	ID               uint64    `json:"id"`
	UserID           uint64    `json:"user_id"`
	MovieID          string    `json:"movie_id"`
	TheaterID        string    `json:"theater_id"`
	Date             string    `json:"date"`
	Time             string    `json:"time"`
	Seats            []string  `json:"seats"`
	Quantity         int       `json:"quantity"`
	TotalAmountCents uint32    `json:"total_amount_cents"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}
