package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

// ShowtimeHandler serves the seat availability a client paints before its
// websocket has joined the room.
type ShowtimeHandler struct {
	Bookings BookingStore
	Seats    SeatGateway
}

func NewShowtimeHandler(bookings BookingStore, seats SeatGateway) *ShowtimeHandler {
	if bookings == nil || seats == nil {
		panic("nil dependency passed to NewShowtimeHandler")
	}
	return &ShowtimeHandler{Bookings: bookings, Seats: seats}
}

// SeatStatus handles GET /v1/showtimes/seats?movieId=&theaterId=&date=&time=
// and returns {"locked": [...], "booked": [...]}. Lock owners are never
// exposed.
func (h *ShowtimeHandler) SeatStatus(c echo.Context) error {
	st := seatlock.Showtime{
		MovieID:   c.QueryParam("movieId"),
		TheaterID: c.QueryParam("theaterId"),
		Date:      c.QueryParam("date"),
		Time:      c.QueryParam("time"),
	}
	locked, err := h.Seats.Snapshot(st)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	booked, err := h.Bookings.BookedSeats(c.Request().Context(), st.Key())
	if err != nil {
		slog.Error("Failed to load booked seats", "room", st.Key(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"locked": locked, "booked": booked})
}
