package router // package router defines how HTTP routes are registered for the API

import (
	"log/slog" // structured logging for the request logger

	"github.com/labstack/echo/v4"                             // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware"           // Echo's bundled recover and request logger middleware
	"github.com/prometheus/client_golang/prometheus/promhttp" // handler that serves the Prometheus registry

	"github.com/iliyamo/movieflix-seatlock/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/movieflix-seatlock/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Health    *handler.HealthHandler
	WebSocket *handler.WebSocketHandler
	Bookings  *handler.BookingHandler
	Showtimes *handler.ShowtimeHandler
}

// New returns an Echo instance with recovery and request logging installed.
func New() *echo.Echo {
	e := echo.New()
	// The process logs its own listen address, so Echo's banner is noise.
	e.HideBanner = true
	e.HidePort = true
	// Turn handler panics into 500 responses instead of crashing the server.
	e.Use(echomw.Recover())
	// Log every request through slog so HTTP lines share the format of the
	// rest of the service.
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		Skipper: func(c echo.Context) bool {
			// websocket sessions are logged by the gateway
			return c.Path() == "/ws" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			// Failed requests are raised to warn; successful ones stay at
			// debug to keep production logs small.
			if v.Error != nil {
				slog.Warn("HTTP request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("HTTP request", attrs...)
			return nil
		},
	}))
	return e
}

// RegisterRoutes mounts public endpoints, the websocket and the
// authenticated booking API. rateLimit guards the seat status endpoint and
// the booking group.
func RegisterRoutes(e *echo.Echo, h Handlers, jwtSecret string, rateLimit echo.MiddlewareFunc) {
	// Map GET /healthz to the health handler. Load balancers poll it and it
	// also reports gateway counters.
	e.GET("/healthz", h.Health.Health)
	// Expose the Prometheus registry for scraping.
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	// Upgrade to the realtime seat-lock protocol. Viewers are anonymous, so
	// no JWT is required here.
	e.GET("/ws", h.WebSocket.Serve)
	// Public seat map for a showtime: locked and already booked seats.
	e.GET("/v1/showtimes/seats", h.Showtimes.SeatStatus, rateLimit)

	// Create a group for the booking API. Every route runs JWTAuth first,
	// then the role check, then the shared rate limiter.
	g := e.Group(
		"/v1/bookings",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleUser, middleware.RoleAdmin),
		rateLimit,
	)
	// Register a POST endpoint that turns held seats into a booking.
	g.POST("", h.Bookings.Create)
	// List the caller's own bookings. Echo matches the static /my before
	// the /:id parameter.
	g.GET("/my", h.Bookings.ListMine)
	// Fetch one of the caller's bookings by id.
	g.GET("/:id", h.Bookings.Get)
}
