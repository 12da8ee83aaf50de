package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movieflix-seatlock/internal/metrics"
	"github.com/iliyamo/movieflix-seatlock/internal/model"
	q "github.com/iliyamo/movieflix-seatlock/internal/queue"
	"github.com/iliyamo/movieflix-seatlock/internal/realtime"
	"github.com/iliyamo/movieflix-seatlock/internal/repository"
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

const publishTimeout = 5 * time.Second

// BookingHandler turns seats a realtime connection holds into a confirmed
// booking. All methods assume JWTAuth and RequireRole already ran.
type BookingHandler struct {
	Bookings  BookingStore
	Seats     SeatGateway
	Publisher BookingPublisher // optional
	MaxSeats  int
}

// NewBookingHandler panics when a required dependency is nil. publisher
// may be nil, in which case no booking events are emitted.
func NewBookingHandler(bookings BookingStore, seats SeatGateway, publisher BookingPublisher, maxSeats int) *BookingHandler {
	if bookings == nil || seats == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	if maxSeats < 1 {
		maxSeats = 10
	}
	return &BookingHandler{Bookings: bookings, Seats: seats, Publisher: publisher, MaxSeats: maxSeats}
}

type createBookingRequest struct {
	seatlock.Showtime
	Seats            []string `json:"seats"`
	ConnectionID     string   `json:"connectionId"`
	TotalAmountCents uint32   `json:"totalAmountCents"`
}

// Create handles POST /v1/bookings. The caller must hold a live lock on
// every requested seat through the realtime connection named in the body.
// Responses: 201 with the booking, 400 on invalid input, 409 when a seat is
// not held or already sold, 503 when the gateway is shutting down.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return h.reject(c, http.StatusBadRequest, "invalid", echo.Map{"error": "invalid request body"})
	}
	if err := body.Showtime.Validate(); err != nil {
		return h.reject(c, http.StatusBadRequest, "invalid", echo.Map{"error": err.Error()})
	}
	seats, msg := normalizeSeats(body.Seats, h.MaxSeats)
	if msg != "" {
		return h.reject(c, http.StatusBadRequest, "invalid", echo.Map{"error": msg})
	}
	connID := strings.TrimSpace(body.ConnectionID)
	if connID == "" {
		return h.reject(c, http.StatusBadRequest, "invalid", echo.Map{"error": "connectionId is required"})
	}

	if err := h.Seats.VerifyHolds(body.Showtime, connID, seats); err != nil {
		var notHeld *realtime.NotHeldError
		switch {
		case errors.As(err, &notHeld):
			return h.reject(c, http.StatusConflict, "not_held", echo.Map{"error": "seats not held", "seats": notHeld.Seats})
		case errors.Is(err, realtime.ErrGatewayStopped):
			return h.reject(c, http.StatusServiceUnavailable, "error", echo.Map{"error": "shutting down"})
		default:
			return h.reject(c, http.StatusBadRequest, "invalid", echo.Map{"error": err.Error()})
		}
	}

	b := &model.Booking{
		UserID:           userID,
		MovieID:          body.MovieID,
		TheaterID:        body.TheaterID,
		Date:             body.Date,
		Time:             body.Time,
		Seats:            seats,
		TotalAmountCents: body.TotalAmountCents,
	}
	ctx := c.Request().Context()
	if err := h.Bookings.Create(ctx, b); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return h.reject(c, http.StatusConflict, "conflict", echo.Map{"error": "seats already booked"})
		}
		slog.Error("Failed to store booking", "user_id", userID, "room", body.Showtime.Key(), "error", err)
		return h.reject(c, http.StatusInternalServerError, "error", echo.Map{"error": "database error"})
	}

	// The booking is committed; lock cleanup failures only delay the
	// release until the connection leaves or the lock expires.
	if err := h.Seats.CompleteBooking(body.Showtime, connID, seats); err != nil {
		slog.Warn("Failed to clear booked seat locks", "booking_id", b.ID, "error", err)
	}
	h.publish(ctx, b)

	metrics.BookingsTotal.WithLabelValues("created").Inc()
	return c.JSON(http.StatusCreated, b)
}

// ListMine handles GET /v1/bookings/my.
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.Bookings.ListByUser(c.Request().Context(), userID)
	if err != nil {
		slog.Error("Failed to list bookings", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, list)
}

// Get handles GET /v1/bookings/:id. Bookings of other users are reported
// as not found.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	b, err := h.Bookings.GetForUser(c.Request().Context(), id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	}
	if err != nil {
		slog.Error("Failed to load booking", "booking_id", id, "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) publish(ctx context.Context, b *model.Booking) {
	if h.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := h.Publisher.PublishBookingConfirmed(ctx, q.NewBookingConfirmedEvent(b)); err != nil {
		slog.Warn("Failed to publish booking event", "booking_id", b.ID, "error", err)
	}
}

func (h *BookingHandler) reject(c echo.Context, status int, result string, body echo.Map) error {
	metrics.BookingsTotal.WithLabelValues(result).Inc()
	return c.JSON(status, body)
}

// normalizeSeats trims and deduplicates seats keeping first-seen order. It
// returns an error message for the client when the list is unusable.
func normalizeSeats(in []string, maxSeats int) ([]string, string) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, "seat ids must not be empty"
		}
		if utf8.RuneCountInString(s) > seatlock.MaxSeatIDLen {
			return nil, fmt.Sprintf("seat ids must be at most %d characters", seatlock.MaxSeatIDLen)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	switch {
	case len(out) == 0:
		return nil, "seats is required"
	case len(out) > maxSeats:
		return nil, "too many seats in one booking"
	}
	return out, ""
}
