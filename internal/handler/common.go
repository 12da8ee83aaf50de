// Package handler holds the HTTP and websocket handlers. Handlers depend on
// the small interfaces below so they can be tested without MySQL, RabbitMQ
// or a live gateway.
package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movieflix-seatlock/internal/middleware"
	"github.com/iliyamo/movieflix-seatlock/internal/model"
	q "github.com/iliyamo/movieflix-seatlock/internal/queue"
	"github.com/iliyamo/movieflix-seatlock/internal/realtime"
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

// BookingStore is the persistence used by the booking endpoints.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetForUser(ctx context.Context, id, userID uint64) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	BookedSeats(ctx context.Context, room string) ([]string, error)
}

// SeatGateway is the part of the realtime gateway the HTTP side needs.
type SeatGateway interface {
	Snapshot(st seatlock.Showtime) ([]string, error)
	VerifyHolds(st seatlock.Showtime, connID string, seats []string) error
	CompleteBooking(st seatlock.Showtime, connID string, seats []string) error
	Stats() realtime.Stats
}

// BookingPublisher announces confirmed bookings.
type BookingPublisher interface {
	PublishBookingConfirmed(ctx context.Context, event q.BookingConfirmedEvent) error
}

var errNoUser = errors.New("user id missing from context")

// getUserID extracts the user id stored by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.ContextUserID).(type) {
	case uint64:
		if t != 0 {
			return t, nil
		}
	case float64:
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64); err == nil && n != 0 {
			return n, nil
		}
	}
	return 0, errNoUser
}
