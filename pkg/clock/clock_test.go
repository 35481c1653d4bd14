package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayBoundary_ZeroValueIsUTCMidnight(t *testing.T) {
	var b DayBoundary
	ts := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-10", b.Key(ts))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), b.Start(ts))
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), b.Next(ts))
	assert.Equal(t, "2026-03-11", b.Key(ts.Add(time.Minute)))
}

func TestDayBoundary_StartHour(t *testing.T) {
	b, err := NewDayBoundary("UTC", 6)
	require.NoError(t, err)

	before := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	after := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-09", b.Key(before))
	assert.Equal(t, "2026-03-10", b.Key(after))
	assert.Equal(t, after, b.Next(before))
}

func TestDayBoundary_Timezone(t *testing.T) {
	b, err := NewDayBoundary("America/New_York", 0)
	require.NoError(t, err)

	// 03:00 UTC on March 10 is still March 9 in New York.
	ts := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-09", b.Key(ts))
	assert.True(t, b.Next(ts).After(ts))
}

func TestNewDayBoundary_Invalid(t *testing.T) {
	_, err := NewDayBoundary("UTC", 24)
	assert.Error(t, err)

	_, err = NewDayBoundary("Not/AZone", 0)
	assert.Error(t, err)
}

func TestMock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(start)
	m.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), m.Now())

	m.Set(start)
	assert.Equal(t, start, m.Now())
}
