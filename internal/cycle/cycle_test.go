package cycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dengwilliam/cashiq/internal/cycle"
)

// 2024-07-15 is a Monday.
var monday = time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

func TestCalculator_WeekStart(t *testing.T) {
	c := cycle.New(time.UTC)

	tests := map[string]struct {
		in   time.Time
		want time.Time
	}{
		"monday midnight is its own week start":  {in: monday, want: monday},
		"monday evening":                         {in: monday.Add(19 * time.Hour), want: monday},
		"wednesday":                              {in: monday.AddDate(0, 0, 2), want: monday},
		"sunday belongs to the preceding monday": {in: monday.AddDate(0, 0, 6).Add(23 * time.Hour), want: monday},
		"next monday starts a new week":          {in: monday.AddDate(0, 0, 7), want: monday.AddDate(0, 0, 7)},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.WeekStart(tt.in))
		})
	}
}

func TestCalculator_WeekID(t *testing.T) {
	c := cycle.New(time.UTC)
	require.Equal(t, "2024-07-15", c.WeekID(monday.AddDate(0, 0, 3)))
}

func TestCalculator_CanPlayWeekly(t *testing.T) {
	c := cycle.New(time.UTC)
	now := monday.AddDate(0, 0, 2).Add(12 * time.Hour) // Wednesday noon

	tests := map[string]struct {
		last *time.Time
		want bool
	}{
		"never played":                     {last: nil, want: true},
		"played earlier the same week":     {last: ptr(monday.Add(8 * time.Hour)), want: false},
		"played the same day":              {last: ptr(now.Add(-time.Hour)), want: false},
		"played the sunday before":         {last: ptr(monday.Add(-time.Hour)), want: true},
		"played last week":                 {last: ptr(monday.AddDate(0, 0, -3)), want: true},
		"played months ago":                {last: ptr(monday.AddDate(0, -2, 0)), want: true},
		"played the following week (skew)": {last: ptr(monday.AddDate(0, 0, 8)), want: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CanPlayWeekly(tt.last, now))
		})
	}
}

func TestCalculator_CanPlayDaily(t *testing.T) {
	c := cycle.New(time.UTC)
	now := monday.Add(15 * time.Hour)

	tests := map[string]struct {
		last *time.Time
		want bool
	}{
		"never played":               {last: nil, want: true},
		"played this morning":        {last: ptr(monday.Add(time.Hour)), want: false},
		"played just before":         {last: ptr(now.Add(-time.Minute)), want: false},
		"played yesterday":           {last: ptr(monday.Add(-time.Hour)), want: true},
		"played a week ago same day": {last: ptr(monday.AddDate(0, 0, -7).Add(15 * time.Hour)), want: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CanPlayDaily(tt.last, now))
		})
	}
}

func TestCalculator_ZoneBoundaries(t *testing.T) {
	loc, err := time.LoadLocation("Africa/Nairobi") // UTC+3, no DST
	require.NoError(t, err)
	c := cycle.New(loc)

	// 21:30 UTC Sunday is already Monday 00:30 in Nairobi.
	sundayUTC := monday.AddDate(0, 0, 6).Add(21*time.Hour + 30*time.Minute)
	assert.Equal(t, "2024-07-22", c.WeekID(sundayUTC))

	// The same instant and Monday morning Nairobi time share a week.
	assert.False(t, c.CanPlayWeekly(ptr(sundayUTC), monday.AddDate(0, 0, 7).Add(6*time.Hour)))
}

func TestCalculator_PreviousWeek(t *testing.T) {
	c := cycle.New(time.UTC)

	assert.True(t, c.PreviousWeek(monday.AddDate(0, 0, -1), monday))
	assert.True(t, c.PreviousWeek(monday.AddDate(0, 0, -7), monday.Add(48*time.Hour)))
	assert.False(t, c.PreviousWeek(monday, monday))
	assert.False(t, c.PreviousWeek(monday.AddDate(0, 0, -14), monday))
}

func ptr(t time.Time) *time.Time { return &t }
