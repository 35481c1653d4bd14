// Package clock provides the time source and day-boundary arithmetic used by the
// daily limits, cooldowns and connection quotas.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// DayKeyLayout is the storage format of a day key.
const DayKeyLayout = "2006-01-02"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock, always in UTC.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Mock is a settable clock for tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a mock clock pinned at t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t.UTC()}
}

// Now returns the pinned time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the clock at t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// DayBoundary decides where one accounting day ends and the next begins.
// The zero value is UTC midnight.
type DayBoundary struct {
	Location  *time.Location
	StartHour int
}

// NewDayBoundary builds a boundary from a timezone name and a start hour (0-23).
func NewDayBoundary(timezone string, startHour int) (DayBoundary, error) {
	if startHour < 0 || startHour > 23 {
		return DayBoundary{}, fmt.Errorf("invalid day start hour %d", startHour)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return DayBoundary{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return DayBoundary{Location: loc, StartHour: startHour}, nil
}

func (b DayBoundary) location() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

// Start returns the beginning of the accounting day containing t, in UTC.
func (b DayBoundary) Start(t time.Time) time.Time {
	local := t.In(b.location())
	start := time.Date(local.Year(), local.Month(), local.Day(), b.StartHour, 0, 0, 0, b.location())
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start.UTC()
}

// Next returns the beginning of the following accounting day, in UTC.
func (b DayBoundary) Next(t time.Time) time.Time {
	start := b.Start(t).In(b.location())
	return time.Date(start.Year(), start.Month(), start.Day()+1, b.StartHour, 0, 0, 0, b.location()).UTC()
}

// Key returns the storage key of the accounting day containing t.
func (b DayBoundary) Key(t time.Time) string {
	return b.Start(t).In(b.location()).Format(DayKeyLayout)
}
