package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/movieflix-seatlock/internal/middleware"
	"github.com/iliyamo/movieflix-seatlock/internal/model"
	q "github.com/iliyamo/movieflix-seatlock/internal/queue"
	"github.com/iliyamo/movieflix-seatlock/internal/realtime"
	"github.com/iliyamo/movieflix-seatlock/internal/repository"
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	created   []*model.Booking
	createErr error
	list      []model.Booking
	listErr   error
	booked    map[string][]string
}

func (s *fakeStore) Create(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	b.ID = uint64(len(s.created) + 1)
	b.Status = model.BookingStatusConfirmed
	b.Quantity = len(b.Seats)
	b.CreatedAt = time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)
	s.created = append(s.created, b)
	return nil
}

func (s *fakeStore) GetForUser(_ context.Context, id, userID uint64) (*model.Booking, error) {
	for _, b := range s.list {
		if b.ID == id && b.UserID == userID {
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []model.Booking{}
	for _, b := range s.list {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeStore) BookedSeats(_ context.Context, room string) ([]string, error) {
	if seats, ok := s.booked[room]; ok {
		return seats, nil
	}
	return []string{}, nil
}

type fakeGateway struct {
	locked    []string
	verifyErr error
	completed []string
	stats     realtime.Stats
}

func (g *fakeGateway) Snapshot(st seatlock.Showtime) ([]string, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return g.locked, nil
}

func (g *fakeGateway) VerifyHolds(seatlock.Showtime, string, []string) error { return g.verifyErr }

func (g *fakeGateway) CompleteBooking(_ seatlock.Showtime, _ string, seats []string) error {
	g.completed = append(g.completed, seats...)
	return nil
}

func (g *fakeGateway) Stats() realtime.Stats { return g.stats }

type fakePublisher struct {
	events []q.BookingConfirmedEvent
	err    error
}

func (p *fakePublisher) PublishBookingConfirmed(_ context.Context, ev q.BookingConfirmedEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

// --- helpers ---

func request(method, target, body string, userID any) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != nil {
		c.Set(middleware.ContextUserID, userID)
	}
	return c, rec
}

const validBody = `{"movieId":"movie1","theaterId":"theaterA","date":"2024-01-01","time":"18:00",
	"seats":["A1"," A2","A1"],"connectionId":"conn-1","totalAmountCents":2400}`

func newBookingFixture(maxSeats int) (*BookingHandler, *fakeStore, *fakeGateway, *fakePublisher) {
	store := &fakeStore{}
	gw := &fakeGateway{}
	pub := &fakePublisher{}
	return NewBookingHandler(store, gw, pub, maxSeats), store, gw, pub
}

// --- booking ---

func TestBookingCreate_Success(t *testing.T) {
	h, store, gw, pub := newBookingFixture(10)
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(1), got.ID)
	assert.Equal(t, uint64(7), got.UserID)
	assert.Equal(t, []string{"A1", "A2"}, got.Seats)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, uint32(2400), got.TotalAmountCents)

	require.Len(t, store.created, 1)
	assert.Equal(t, []string{"A1", "A2"}, gw.completed)
	require.Len(t, pub.events, 1)
	assert.Equal(t, uint64(1), pub.events[0].BookingID)
	assert.Equal(t, "theaterA", pub.events[0].TheaterID)
}

func TestBookingCreate_NotHeld(t *testing.T) {
	h, store, gw, pub := newBookingFixture(10)
	gw.verifyErr = &realtime.NotHeldError{Seats: []string{"A2"}}
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"seats not held","seats":["A2"]}`, rec.Body.String())
	assert.Empty(t, store.created)
	assert.Empty(t, gw.completed)
	assert.Empty(t, pub.events)
}

func TestBookingCreate_GatewayStopped(t *testing.T) {
	h, _, gw, _ := newBookingFixture(10)
	gw.verifyErr = realtime.ErrGatewayStopped
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBookingCreate_AlreadyBooked(t *testing.T) {
	h, store, gw, pub := newBookingFixture(10)
	store.createErr = repository.ErrConflict
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "seats already booked")
	assert.Empty(t, gw.completed)
	assert.Empty(t, pub.events)
}

func TestBookingCreate_DatabaseError(t *testing.T) {
	h, store, _, _ := newBookingFixture(10)
	store.createErr = errors.New("connection reset")
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestBookingCreate_PublishFailureIsNotFatal(t *testing.T) {
	h, _, _, pub := newBookingFixture(10)
	pub.err = errors.New("broker down")
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBookingCreate_WithoutPublisher(t *testing.T) {
	h := NewBookingHandler(&fakeStore{}, &fakeGateway{}, nil, 10)
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, uint64(7))

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBookingCreate_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed json", `{"movieId":`, "invalid request body"},
		{"missing date", `{"movieId":"m","time":"18:00","seats":["A1"],"connectionId":"c"}`, "date is required"},
		{"no seats", `{"movieId":"m","date":"d","time":"t","seats":[],"connectionId":"c"}`, "seats is required"},
		{"blank seat", `{"movieId":"m","date":"d","time":"t","seats":["A1"," "],"connectionId":"c"}`, "seat ids must not be empty"},
		{"too many", `{"movieId":"m","date":"d","time":"t","seats":["A1","A2","A3"],"connectionId":"c"}`, "too many seats"},
		{"no connection", `{"movieId":"m","date":"d","time":"t","seats":["A1"]}`, "connectionId is required"},
		{"seat too long", `{"movieId":"m","date":"d","time":"t","seats":["` + strings.Repeat("S", 33) + `"],"connectionId":"c"}`, "seat ids must be at most 32 characters"},
		{"date too long", `{"movieId":"m","date":"2024-01-01T00:00","time":"t","seats":["A1"],"connectionId":"c"}`, "date must be at most 10 characters"},
		{"movie too long", `{"movieId":"` + strings.Repeat("m", 65) + `","date":"d","time":"t","seats":["A1"],"connectionId":"c"}`, "movieId must be at most 64 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store, _, _ := newBookingFixture(2)
			c, rec := request(http.MethodPost, "/v1/bookings", tt.body, uint64(7))

			require.NoError(t, h.Create(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
			assert.Empty(t, store.created)
		})
	}
}

func TestBookingCreate_Unauthorized(t *testing.T) {
	h, _, _, _ := newBookingFixture(10)
	c, rec := request(http.MethodPost, "/v1/bookings", validBody, nil)

	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookingListMine(t *testing.T) {
	h, store, _, _ := newBookingFixture(10)
	store.list = []model.Booking{
		{ID: 1, UserID: 7, MovieID: "m1", Seats: []string{"A1"}},
		{ID: 2, UserID: 8, MovieID: "m1", Seats: []string{"A2"}},
	}
	c, rec := request(http.MethodGet, "/v1/bookings/my", "", uint64(7))

	require.NoError(t, h.ListMine(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
}

func TestBookingListMine_Empty(t *testing.T) {
	h, _, _, _ := newBookingFixture(10)
	c, rec := request(http.MethodGet, "/v1/bookings/my", "", uint64(7))

	require.NoError(t, h.ListMine(c))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBookingGet(t *testing.T) {
	h, store, _, _ := newBookingFixture(10)
	store.list = []model.Booking{{ID: 5, UserID: 7, MovieID: "m1", Seats: []string{"A1"}}}

	tests := []struct {
		name   string
		id     string
		userID uint64
		want   int
	}{
		{"own booking", "5", 7, http.StatusOK},
		{"someone else's", "5", 8, http.StatusNotFound},
		{"missing", "6", 7, http.StatusNotFound},
		{"bad id", "x", 7, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := request(http.MethodGet, "/v1/bookings/"+tt.id, "", tt.userID)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			require.NoError(t, h.Get(c))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestNormalizeSeats(t *testing.T) {
	seats, msg := normalizeSeats([]string{"B2", "A1", "B2", " A1 "}, 10)
	assert.Empty(t, msg)
	assert.Equal(t, []string{"B2", "A1"}, seats)

	_, msg = normalizeSeats(nil, 10)
	assert.Equal(t, "seats is required", msg)

	seats, msg = normalizeSeats([]string{strings.Repeat("é", 32)}, 10)
	assert.Empty(t, msg)
	assert.Len(t, seats, 1)

	_, msg = normalizeSeats([]string{strings.Repeat("é", 33)}, 10)
	assert.Equal(t, "seat ids must be at most 32 characters", msg)
}

// --- showtime ---

func TestSeatStatus(t *testing.T) {
	store := &fakeStore{booked: map[string][]string{"movie1_theaterA_2024-01-01_18:00": {"C1"}}}
	gw := &fakeGateway{locked: []string{"A1", "A2"}}
	h := NewShowtimeHandler(store, gw)
	c, rec := request(http.MethodGet, "/v1/showtimes/seats?movieId=movie1&theaterId=theaterA&date=2024-01-01&time=18:00", "", nil)

	require.NoError(t, h.SeatStatus(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"locked":["A1","A2"],"booked":["C1"]}`, rec.Body.String())
}

func TestSeatStatus_InvalidShowtime(t *testing.T) {
	h := NewShowtimeHandler(&fakeStore{}, &fakeGateway{})
	c, rec := request(http.MethodGet, "/v1/showtimes/seats?movieId=movie1", "", nil)

	require.NoError(t, h.SeatStatus(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- health and identity ---

func TestHealth(t *testing.T) {
	gw := &fakeGateway{stats: realtime.Stats{Connections: 3, Rooms: 1, Locks: seatlock.Stats{Rooms: 1, Locks: 4}}}
	c, rec := request(http.MethodGet, "/healthz", "", nil)

	require.NoError(t, NewHealthHandler(gw, nil).Health(c))
	assert.JSONEq(t, `{"status":"ok","connections":3,"rooms":1,"locked_seats":4}`, rec.Body.String())
}

type fakeBreaker gobreaker.State

func (b fakeBreaker) State() gobreaker.State { return gobreaker.State(b) }

func TestHealth_PublisherBreaker(t *testing.T) {
	gw := &fakeGateway{}
	for state, want := range map[gobreaker.State]string{
		gobreaker.StateClosed:   "closed",
		gobreaker.StateHalfOpen: "half-open",
		gobreaker.StateOpen:     "open",
	} {
		c, rec := request(http.MethodGet, "/healthz", "", nil)
		require.NoError(t, NewHealthHandler(gw, fakeBreaker(state)).Health(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"publisher":"`+want+`"`)
	}
}

func TestGetUserID(t *testing.T) {
	tests := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{uint64(5), 5, true},
		{float64(6), 6, true},
		{"7", 7, true},
		{uint64(0), 0, false},
		{"abc", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		c, _ := request(http.MethodGet, "/", "", tt.in)
		got, err := getUserID(c)
		if tt.ok {
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err)
		}
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewBookingHandler(nil, &fakeGateway{}, nil, 1) })
	assert.Panics(t, func() { NewShowtimeHandler(&fakeStore{}, nil) })
	assert.Panics(t, func() { NewHealthHandler(nil, nil) })
	assert.Panics(t, func() { NewWebSocketHandler(nil, nil, realtime.ServeOptions{}) })
}
