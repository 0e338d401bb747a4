package contacts

import (
	"sync"
	"time"
)

// InsertStats remembers the outcome of the most recent insert. It is safe for concurrent use.
type InsertStats struct {
	mu           sync.RWMutex
	lastDuration time.Duration
	lastInsertAt time.Time
	lastError    string
}

// InsertSnapshot is a point-in-time copy of InsertStats.
type InsertSnapshot struct {
	LastDuration time.Duration
	LastInsertAt time.Time
	LastError    string
}

// NewInsertStats returns an empty stats holder.
func NewInsertStats() *InsertStats {
	return &InsertStats{}
}

// RecordSuccess stores the latency and time of a successful insert and clears the last error.
func (s *InsertStats) RecordSuccess(duration time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDuration = duration
	s.lastInsertAt = at
	s.lastError = ""
}

// RecordFailure keeps the error message of a failed insert.
func (s *InsertStats) RecordFailure(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// Snapshot returns the current values.
func (s *InsertStats) Snapshot() InsertSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return InsertSnapshot{
		LastDuration: s.lastDuration,
		LastInsertAt: s.lastInsertAt,
		LastError:    s.lastError,
	}
}
