package clock

import (
	"sync"
	"time"
)

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Monotonic hands out strictly increasing timestamps even when the wall clock
// stalls or steps backwards.
type Monotonic struct {
	mu   sync.Mutex
	last time.Time
}

// Next returns max(Now(), last+1µs). Microsecond resolution matches Postgres
// timestamptz so both stores order entries identically.
func (m *Monotonic) Next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}
