package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalSchedule_Next(t *testing.T) {
	s := NewIntervalSchedule(10 * time.Minute)
	from := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, from.Add(10*time.Minute), s.Next(from))
	assert.Equal(t, "@every 10m0s", s.String())
}

func TestDailySchedule_Next(t *testing.T) {
	s := NewDailySchedule(3, 30, time.UTC)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			name: "before today's slot",
			from: time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 16, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "after today's slot rolls to tomorrow",
			from: time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 17, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "exactly at the slot rolls to tomorrow",
			from: time.Date(2026, 3, 16, 3, 30, 0, 0, time.UTC),
			want: time.Date(2026, 3, 17, 3, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.Next(tt.from)))
		})
	}
}

func TestDailySchedule_NextHonorsLocation(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*3600)
	s := NewDailySchedule(3, 0, almaty)

	// 23:00 UTC on the 16th is already 04:00 on the 17th in Almaty,
	// so the next run is 03:00 Almaty on the 18th.
	from := time.Date(2026, 3, 16, 23, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 18, 3, 0, 0, 0, almaty)

	assert.True(t, want.Equal(s.Next(from)))
}

func TestWeeklySchedule_Next(t *testing.T) {
	s := NewWeeklySchedule(time.Monday, 3, 0, time.UTC)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			// 2026-03-16 is a Monday.
			name: "monday before the slot fires same day",
			from: time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "monday after the slot waits a full week",
			from: time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 23, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "midweek fires next monday",
			from: time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 23, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday fires the following day",
			from: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 16, 3, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Next(tt.from)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.Monday, got.Weekday())
		})
	}
}

func TestNilLocationDefaultsToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, NewDailySchedule(3, 0, nil).Location)
	assert.Equal(t, time.UTC, NewWeeklySchedule(time.Monday, 3, 0, nil).Location)
}
