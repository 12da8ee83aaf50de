package seatlock

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomKey_Deterministic(t *testing.T) {
	a := RoomKey("movie1", "theaterA", "2024-01-01", "18:00")
	b := RoomKey("movie1", "theaterA", "2024-01-01", "18:00")
	assert.Equal(t, "movie1_theaterA_2024-01-01_18:00", a)
	assert.Equal(t, a, b)
}

func TestRoomKey_DistinctShowtimes(t *testing.T) {
	keys := map[string]struct{}{
		RoomKey("m1", "t1", "2024-01-01", "18:00"): {},
		RoomKey("m1", "t2", "2024-01-01", "18:00"): {},
		RoomKey("m1", "t1", "2024-01-02", "18:00"): {},
		RoomKey("m1", "t1", "2024-01-01", "21:00"): {},
		RoomKey("m2", "t1", "2024-01-01", "18:00"): {},
	}
	assert.Len(t, keys, 5)
}

func TestRoomKey_MissingTheaterPools(t *testing.T) {
	a := Showtime{MovieID: "m1", Date: "2024-01-01", Time: "18:00"}
	b := Showtime{MovieID: "m1", Date: "2024-01-01", Time: "18:00"}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "m1__2024-01-01_18:00", a.Key())
}

func TestShowtime_Validate(t *testing.T) {
	tests := []struct {
		name    string
		st      Showtime
		wantErr bool
	}{
		{"complete", Showtime{MovieID: "m", TheaterID: "t", Date: "d", Time: "h"}, false},
		{"no theater", Showtime{MovieID: "m", Date: "d", Time: "h"}, false},
		{"no movie", Showtime{TheaterID: "t", Date: "d", Time: "h"}, true},
		{"no date", Showtime{MovieID: "m", Time: "h"}, true},
		{"blank time", Showtime{MovieID: "m", Date: "d", Time: "  "}, true},
		{"movie too long", Showtime{MovieID: strings.Repeat("m", MaxMovieIDLen+1), Date: "d", Time: "h"}, true},
		{"theater too long", Showtime{MovieID: "m", TheaterID: strings.Repeat("t", MaxTheaterIDLen+1), Date: "d", Time: "h"}, true},
		{"time with seconds and zone", Showtime{MovieID: "m", Date: "2024-01-01", Time: "18:00:00Z"}, true},
		{"widest accepted", Showtime{MovieID: strings.Repeat("m", MaxMovieIDLen), TheaterID: strings.Repeat("t", MaxTheaterIDLen), Date: "2024-01-01", Time: "18:00:00"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.st.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.True(t, errors.Is(err, ErrInvalidRoom))
		})
	}
}

func TestValidateSeatID(t *testing.T) {
	require.NoError(t, ValidateSeatID("A1"))
	require.NoError(t, ValidateSeatID(strings.Repeat("9", MaxSeatIDLen)))

	for _, id := range []string{"", "   ", strings.Repeat("9", MaxSeatIDLen+1)} {
		err := ValidateSeatID(id)
		assert.ErrorIs(t, err, ErrInvalidSeat, "%q", id)
		assert.ErrorIs(t, err, ErrValidation, "%q", id)
	}
}
