package log

import (
	"sync"
	"time"
)

// Every rate-limits log lines for errors that repeat on every tick. ShouldLog
// returns true at most once per interval.
type Every struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewEvery(interval time.Duration) *Every {
	return &Every{interval: interval}
}

// ShouldLog returns true if the interval has elapsed since the last true result.
func (e *Every) ShouldLog() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if now.Sub(e.last) >= e.interval {
		e.last = now
		return true
	}
	return false
}
