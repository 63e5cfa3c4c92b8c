// Package lockout counts failed authentication attempts per identifier and
// enforces a timed lock once the limit is reached. Login flows track both
// the account email and the source address so rotating either dimension
// alone cannot dodge the lock.
package lockout

import (
	"sync"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 15 * time.Minute

	// Untouched failure records older than this are dropped by Sweep.
	staleAfter = time.Hour
)

type record struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  time.Time
}

type Tracker struct {
	mu           sync.Mutex
	maxAttempts  int
	lockDuration time.Duration
	records      map[string]*record
	now          func() time.Time
}

func NewTracker(maxAttempts int, lockDuration time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockDuration
	}
	return &Tracker{
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		records:      make(map[string]*record),
		now:          time.Now,
	}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// IsLocked reports whether the identifier is currently locked out and how
// long until it may retry. An expired lock is cleared lazily here.
func (t *Tracker) IsLocked(id string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.lockedUntil.IsZero() {
		return false, 0
	}

	now := t.now().UTC()
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}

	delete(t.records, id)
	return false, 0
}

// RecordFailure increments the failure count, locking the identifier once
// the configured maximum is reached. Returns the lock state.
func (t *Tracker) RecordFailure(id string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	rec, ok := t.records[id]
	if !ok {
		rec = &record{firstAttempt: now}
		t.records[id] = rec
	}

	rec.count++
	rec.lastAttempt = now

	if rec.count >= t.maxAttempts {
		rec.lockedUntil = now.Add(t.lockDuration)
		return true, rec.lockedUntil
	}

	return false, time.Time{}
}

// Reset clears the identifier's record, called on successful
// authentication.
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
}

// Sweep removes expired locks and stale failure counts, returning how many
// records were dropped.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, rec := range t.records {
		expired := !rec.lockedUntil.IsZero() && now.After(rec.lockedUntil)
		stale := rec.lockedUntil.IsZero() && now.Sub(rec.lastAttempt) > staleAfter
		if expired || stale {
			delete(t.records, id)
			removed++
		}
	}

	return removed
}
