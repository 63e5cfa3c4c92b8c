package admission

import (
	"sync"
	"time"
)

// SpeedLimiter inserts a growing artificial delay instead of rejecting.
// A small quota of requests per window is free; each request past it adds
// one step of delay, up to a cap. Backpressure for brute-force probing
// that still lets legitimate occasional retries through.
type SpeedLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	freeQuota int
	step      time.Duration
	maxDelay  time.Duration
	seen      map[string]*window2
	now       func() time.Time
}

type window2 struct {
	count int
	start time.Time
}

// NewAuthSpeedLimiter is the profile for authentication endpoints: three
// free requests per 15 minutes, then one extra second per request, capped
// at 30 seconds.
func NewAuthSpeedLimiter() *SpeedLimiter {
	return NewSpeedLimiter(15*time.Minute, 3, time.Second, 30*time.Second)
}

// NewGenericSpeedLimiter is the profile for other sensitive high-traffic
// endpoints: fifty free requests, 500ms steps, 20 second cap.
func NewGenericSpeedLimiter() *SpeedLimiter {
	return NewSpeedLimiter(15*time.Minute, 50, 500*time.Millisecond, 20*time.Second)
}

func NewSpeedLimiter(windowSize time.Duration, freeQuota int, step, maxDelay time.Duration) *SpeedLimiter {
	return &SpeedLimiter{
		window:    windowSize,
		freeQuota: freeQuota,
		step:      step,
		maxDelay:  maxDelay,
		seen:      make(map[string]*window2),
		now:       time.Now,
	}
}

func (s *SpeedLimiter) WithClock(now func() time.Time) *SpeedLimiter {
	s.now = now
	return s
}

// Delay records the request against the key and returns how long it should
// be held before proceeding.
func (s *SpeedLimiter) Delay(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	w := s.seen[key]
	if w == nil || now.Sub(w.start) >= s.window {
		s.seen[key] = &window2{count: 1, start: now}
		return 0
	}

	w.count++
	over := w.count - s.freeQuota
	if over <= 0 {
		return 0
	}

	delay := time.Duration(over) * s.step
	if delay > s.maxDelay {
		delay = s.maxDelay
	}
	return delay
}

// Sweep drops entries whose window has passed.
func (s *SpeedLimiter) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.seen {
		if now.Sub(w.start) >= s.window {
			delete(s.seen, key)
			removed++
		}
	}

	return removed
}
