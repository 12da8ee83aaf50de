package repository

import (
	"context"      // context for cancellation and timeouts
	"database/sql" // database/sql for DB access
	"errors"       // errors.Is for sql.ErrNoRows
	"fmt"          // error wrapping
	"strings"      // building multi-row statements

	"github.com/iliyamo/movieflix-seatlock/internal/model"    // booking model definitions
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock" // room key derivation
)

// BookingRepo persists confirmed bookings and their seats. A seat appears
// in booking_seats at most once per showtime room key.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo {
	if db == nil {
		panic("repository: nil db")
	}
	return &BookingRepo{db: db}
}

// Create inserts b and its seats in one transaction and fills in the
// generated ID and CreatedAt. If any seat is already booked for the showtime
// nothing is written and ErrConflict is returned.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	// Start a transaction so the booking row and its seats land together.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	// Rollback is a no-op once Commit has succeeded.
	defer func() { _ = tx.Rollback() }()

	// Insert the bookings row first; its id keys the seat rows.
	if err := r.CreateTx(ctx, tx, b); err != nil {
		return err
	}
	// Insert the seats. The unique (room_key, seat_id) index rejects a seat
	// that another booking already sold for this showtime.
	if err := r.CreateSeatsTx(ctx, tx, b.ID, roomOf(b), b.Seats); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking tx: %w", err)
	}
	return nil
}

// CreateTx inserts the bookings row within an existing transaction. The
// caller must commit or rollback.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if b.Status == "" {
		b.Status = model.BookingStatusConfirmed // default status when none is provided
	}
	b.Quantity = len(b.Seats) // quantity always mirrors the seat list

	const q = `INSERT INTO bookings (user_id, movie_id, theater_id, show_date, show_time, quantity, total_amount_cents, status)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.UserID, b.MovieID, b.TheaterID, b.Date, b.Time, b.Quantity, b.TotalAmountCents, b.Status)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	b.ID = uint64(id)

	// read back defaults
	const sel = `SELECT created_at FROM bookings WHERE id = ?`
	if err := tx.QueryRowContext(ctx, sel, b.ID).Scan(&b.CreatedAt); err != nil {
		return fmt.Errorf("load booking: %w", err)
	}
	return nil
}

// CreateSeatsTx inserts one booking_seats row per seat in a single
// statement. A duplicate (room, seat) pair maps to ErrConflict.
func (r *BookingRepo) CreateSeatsTx(ctx context.Context, tx *sql.Tx, bookingID uint64, room string, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	q, args := seatsInsert(bookingID, room, seats)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		if isDuplicateKey(err) {
			return ErrConflict // seat already sold for this showtime
		}
		return fmt.Errorf("insert booking seats: %w", err)
	}
	return nil
}

func seatsInsert(bookingID uint64, room string, seats []string) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO booking_seats (booking_id, room_key, seat_id) VALUES `)
	args := make([]any, 0, len(seats)*3)
	for i, s := range seats {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, bookingID, room, s)
	}
	return sb.String(), args
}

// GetForUser returns one booking of userID with its seats, or ErrNotFound.
func (r *BookingRepo) GetForUser(ctx context.Context, id, userID uint64) (*model.Booking, error) {
	const q = `SELECT id, user_id, movie_id, theater_id, show_date, show_time, quantity, total_amount_cents, status, created_at
	           FROM bookings WHERE id = ? AND user_id = ?`
	var b model.Booking
	err := r.db.QueryRowContext(ctx, q, id, userID).Scan(
		&b.ID, &b.UserID, &b.MovieID, &b.TheaterID, &b.Date, &b.Time,
		&b.Quantity, &b.TotalAmountCents, &b.Status, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound // missing, or owned by another user
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	seats, err := r.seatsOf(ctx, []uint64{b.ID})
	if err != nil {
		return nil, err
	}
	b.Seats = seats[b.ID]
	if b.Seats == nil {
		b.Seats = []string{}
	}
	return &b, nil
}

// ListByUser returns userID's bookings, newest first, each with its seats.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	const q = `SELECT id, user_id, movie_id, theater_id, show_date, show_time, quantity, total_amount_cents, status, created_at
	           FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := []model.Booking{}
	var ids []uint64
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.MovieID, &b.TheaterID, &b.Date, &b.Time,
			&b.Quantity, &b.TotalAmountCents, &b.Status, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	// Load all seats in one query and attach them to their bookings.
	seats, err := r.seatsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Seats = seats[out[i].ID]
		if out[i].Seats == nil {
			out[i].Seats = []string{}
		}
	}
	return out, nil
}

func (r *BookingRepo) seatsOf(ctx context.Context, bookingIDs []uint64) (map[uint64][]string, error) {
	out := make(map[uint64][]string, len(bookingIDs))
	if len(bookingIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(bookingIDs)), ",")
	args := make([]any, len(bookingIDs))
	for i, id := range bookingIDs {
		args[i] = id
	}
	q := `SELECT booking_id, seat_id FROM booking_seats WHERE booking_id IN (` + placeholders + `) ORDER BY booking_id, seat_id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list booking seats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var seat string
		if err := rows.Scan(&id, &seat); err != nil {
			return nil, fmt.Errorf("scan booking seat: %w", err)
		}
		out[id] = append(out[id], seat)
	}
	return out, rows.Err()
}

// BookedSeats returns the seat ids already sold for a showtime room, sorted.
func (r *BookingRepo) BookedSeats(ctx context.Context, room string) ([]string, error) {
	const q = `SELECT seat_id FROM booking_seats WHERE room_key = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, q, room)
	if err != nil {
		return nil, fmt.Errorf("list booked seats: %w", err)
	}
	defer rows.Close()

	seats := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan booked seat: %w", err)
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

func roomOf(b *model.Booking) string {
	return seatlock.RoomKey(b.MovieID, b.TheaterID, b.Date, b.Time)
}
