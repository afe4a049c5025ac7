package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_TodayYesterday(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	cal := NewCalendar(loc)

	// 20:30 UTC is already the next day at UTC+5.
	now := time.Date(2024, time.March, 1, 20, 30, 0, 0, time.UTC)

	assert.Equal(t, NewDate(2024, time.March, 2), cal.Today(now))
	assert.Equal(t, NewDate(2024, time.March, 1), cal.Yesterday(now))
	assert.Equal(t, NewDate(2024, time.March, 1), NewCalendar(nil).Today(now))
}

func TestDate_Arithmetic(t *testing.T) {
	d := NewDate(2024, time.February, 28)

	assert.Equal(t, NewDate(2024, time.February, 29), d.AddDays(1))
	assert.Equal(t, NewDate(2024, time.March, 1), d.AddDays(2))
	assert.Equal(t, 2, d.DaysUntil(NewDate(2024, time.March, 1)))
	assert.Equal(t, -28, d.DaysUntil(NewDate(2024, time.January, 31)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.False(t, d.Before(d))
}

func TestDate_TextRoundTrip(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalText([]byte("2023-12-31")))
	assert.Equal(t, NewDate(2023, time.December, 31), d)

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", string(b))

	var zero Date
	require.NoError(t, zero.UnmarshalText(nil))
	assert.True(t, zero.IsZero())
	assert.Equal(t, "", zero.String())

	assert.Error(t, d.UnmarshalText([]byte("31/12/2023")))
}

func TestCalendar_DaysBetween(t *testing.T) {
	cal := NewCalendar(time.UTC)
	a := time.Date(2024, time.January, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, time.January, 2, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 1, cal.DaysBetween(a, b))
	assert.Equal(t, -1, cal.DaysBetween(b, a))
	assert.Equal(t, 0, cal.DaysBetween(a, a.Add(-time.Hour)))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
}
