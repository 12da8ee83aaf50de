package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/movieflix-seatlock/internal/config"
	"github.com/iliyamo/movieflix-seatlock/internal/handler"
	"github.com/iliyamo/movieflix-seatlock/internal/middleware"
	"github.com/iliyamo/movieflix-seatlock/internal/model"
	"github.com/iliyamo/movieflix-seatlock/internal/realtime"
	"github.com/iliyamo/movieflix-seatlock/internal/repository"
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
	"github.com/iliyamo/movieflix-seatlock/internal/utils"
)

const secret = "router-secret"

type memStore struct{}

func (memStore) Create(_ context.Context, b *model.Booking) error { b.ID = 1; return nil }
func (memStore) GetForUser(context.Context, uint64, uint64) (*model.Booking, error) {
	return nil, repository.ErrNotFound
}
func (memStore) ListByUser(context.Context, uint64) ([]model.Booking, error) {
	return []model.Booking{}, nil
}
func (memStore) BookedSeats(context.Context, string) ([]string, error) { return []string{}, nil }

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	gw := realtime.NewGateway(seatlock.NewManager(nil, nil, 0), nil, 0)
	t.Cleanup(gw.Stop)

	e := New()
	RegisterRoutes(e, Handlers{
		Health:    handler.NewHealthHandler(gw, nil),
		WebSocket: handler.NewWebSocketHandler(gw, nil, realtime.ServeOptions{}),
		Bookings:  handler.NewBookingHandler(memStore{}, gw, nil, 10),
		Showtimes: handler.NewShowtimeHandler(memStore{}, gw),
	}, secret, middleware.NewTokenBucket(config.RateLimitConfig{}, nil, nil))
	return e
}

func serve(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Public(t *testing.T) {
	e := newTestEcho(t)

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/v1/showtimes/seats?movieId=m&date=d&time=t", "").Code)

	metrics := serve(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "seat_locks_active")
}

func TestRoutes_BookingsRequireAuth(t *testing.T) {
	e := newTestEcho(t)

	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/v1/bookings/my", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodPost, "/v1/bookings", "").Code)

	owner, err := utils.NewAccessToken(secret, 3, "OWNER", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(e, http.MethodGet, "/v1/bookings/my", owner.Token).Code)

	user, err := utils.NewAccessToken(secret, 3, middleware.RoleUser, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/v1/bookings/my", user.Token).Code)
	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodPost, "/v1/bookings", user.Token).Code)
	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/v1/bookings/12", user.Token).Code)
}
