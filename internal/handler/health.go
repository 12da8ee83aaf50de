package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"
)

// BreakerStater exposes the circuit breaker guarding the booking event
// publisher.
type BreakerStater interface {
	State() gobreaker.State
}

// HealthHandler reports liveness together with a gateway snapshot.
type HealthHandler struct {
	Gateway   SeatGateway
	Publisher BreakerStater // optional
}

// NewHealthHandler panics on a nil gateway. publisher may be nil, in which
// case the publisher field is left out of the response.
func NewHealthHandler(gw SeatGateway, publisher BreakerStater) *HealthHandler {
	if gw == nil {
		panic("nil gateway passed to NewHealthHandler")
	}
	return &HealthHandler{Gateway: gw, Publisher: publisher}
}

// Health handles GET /healthz. It is used by load balancers and always
// answers 200 while the process is serving; an open publisher breaker only
// means booking events are being dropped.
func (h *HealthHandler) Health(c echo.Context) error {
	s := h.Gateway.Stats()
	body := echo.Map{
		"status":       "ok",
		"connections":  s.Connections,
		"rooms":        s.Rooms,
		"locked_seats": s.Locks.Locks,
	}
	if h.Publisher != nil {
		body["publisher"] = h.Publisher.State().String()
	}
	return c.JSON(http.StatusOK, body)
}
