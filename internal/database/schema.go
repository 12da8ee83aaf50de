package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the booking tables. booking_seats carries the showtime room
// key so a seat can be sold at most once per showtime.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id                 BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		user_id            BIGINT UNSIGNED NOT NULL,
		movie_id           VARCHAR(64)     NOT NULL,
		theater_id         VARCHAR(64)     NOT NULL DEFAULT '',
		show_date          VARCHAR(10)     NOT NULL,
		show_time          VARCHAR(8)      NOT NULL,
		quantity           INT UNSIGNED    NOT NULL,
		total_amount_cents INT UNSIGNED    NOT NULL DEFAULT 0,
		status             VARCHAR(16)     NOT NULL DEFAULT 'CONFIRMED',
		created_at         DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_bookings_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS booking_seats (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		booking_id BIGINT UNSIGNED NOT NULL,
		room_key   VARCHAR(191)    NOT NULL,
		seat_id    VARCHAR(32)     NOT NULL,
		created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY uq_booking_seats_room_seat (room_key, seat_id),
		KEY idx_booking_seats_booking (booking_id),
		CONSTRAINT fk_booking_seats_booking FOREIGN KEY (booking_id) REFERENCES bookings (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema. Statements are idempotent, so it runs on every
// start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
