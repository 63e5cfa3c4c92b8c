// Package admission decides whether an inbound request is admitted before
// any authentication work happens. Each request is classified, counted
// against a fixed per-class window, optionally slowed down, and sources
// that keep tripping limits are escalated to an outright block.
package admission

import (
	"sync"
	"time"

	"github.com/223-Media/223media-website/internal/identity"
)

const (
	suspiciousThreshold = 5
	hitIdleRetention    = time.Hour
	suspiciousRetention = 24 * time.Hour
)

type window struct {
	count int
	start time.Time
}

type hitRecord struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Code       string
	Class      Class
	Message    string
	RetryAfter time.Duration
}

// Limiter owns all admission state: window counters, limit-hit tracking,
// the suspicious-source set, and the whitelist.
type Limiter struct {
	mu         sync.Mutex
	policies   map[Class]Policy
	windows    map[Class]map[string]*window
	hits       map[string]*hitRecord
	suspicious map[string]time.Time
	whitelist  map[string]struct{}
	now        func() time.Time
}

func NewLimiter(whitelistedIPs []string) *Limiter {
	whitelist := make(map[string]struct{}, len(whitelistedIPs))
	for _, ip := range whitelistedIPs {
		if ip != "" {
			whitelist[ip] = struct{}{}
		}
	}

	return &Limiter{
		policies:   defaultPolicies(),
		windows:    make(map[Class]map[string]*window),
		hits:       make(map[string]*hitRecord),
		suspicious: make(map[string]time.Time),
		whitelist:  whitelist,
		now:        time.Now,
	}
}

func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Whitelisted(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.whitelist[ip]
	return ok
}

// Blocked reports whether the source has been escalated into the
// suspicious set. Whitelisted sources are never blocked.
func (l *Limiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.whitelist[ip]; ok {
		return false
	}
	_, ok := l.suspicious[ip]
	return ok
}

// Check classifies the request and counts it against the (class, key)
// window. A rejection itself counts as a limit hit against the source;
// past the threshold the source is escalated and blocked outright.
func (l *Limiter) Check(method, path, ip string, user *identity.User) Decision {
	class, limited := Classify(method, path)
	if !limited {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.whitelist[ip]; ok {
		return Decision{Allowed: true, Class: class}
	}

	now := l.now().UTC()
	if _, ok := l.suspicious[ip]; ok {
		return Decision{
			Allowed: false,
			Code:    "IP_BLOCKED",
			Class:   class,
			Message: "IP temporarily blocked due to suspicious activity.",
		}
	}

	policy := l.policies[class]
	max := maxFor(class, policy, user)
	key := keyFor(class, user, ip)

	byKey := l.windows[class]
	if byKey == nil {
		byKey = make(map[string]*window)
		l.windows[class] = byKey
	}

	w := byKey[key]
	if w == nil || now.Sub(w.start) >= policy.Window {
		byKey[key] = &window{count: 1, start: now}
		return Decision{Allowed: true, Class: class}
	}

	if w.count < max {
		w.count++
		return Decision{Allowed: true, Class: class}
	}

	retryAfter := w.start.Add(policy.Window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	l.recordHit(ip, class, now)

	return Decision{
		Allowed:    false,
		Code:       "RATE_LIMIT_EXCEEDED",
		Class:      class,
		Message:    policy.Message,
		RetryAfter: retryAfter,
	}
}

// recordHit tracks limit rejections per ip:class and escalates the source
// once its cumulative hits pass the threshold. Caller holds l.mu.
func (l *Limiter) recordHit(ip string, class Class, now time.Time) {
	key := ip + ":" + string(class)
	rec, ok := l.hits[key]
	if !ok {
		rec = &hitRecord{firstSeen: now}
		l.hits[key] = rec
	}
	rec.count++
	rec.lastSeen = now

	if rec.count > suspiciousThreshold {
		if _, flagged := l.suspicious[ip]; !flagged {
			l.suspicious[ip] = now
		}
	}
}

// BlockIP manually escalates a source.
func (l *Limiter) BlockIP(ip string) {
	l.mu.Lock()
	l.suspicious[ip] = l.now().UTC()
	l.mu.Unlock()
}

// UnblockIP clears a source from the suspicious set and its hit history.
func (l *Limiter) UnblockIP(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.suspicious, ip)
	for key := range l.hits {
		if len(key) > len(ip) && key[:len(ip)] == ip && key[len(ip)] == ':' {
			delete(l.hits, key)
		}
	}
}

// WhitelistIP adds a source to the bypass list and clears any block.
func (l *Limiter) WhitelistIP(ip string) {
	l.mu.Lock()
	l.whitelist[ip] = struct{}{}
	delete(l.suspicious, ip)
	l.mu.Unlock()
}

// Status is a point-in-time snapshot for the admin dashboard.
type Status struct {
	SuspiciousIPs  []string       `json:"suspiciousIps"`
	WhitelistedIPs []string       `json:"whitelistedIps"`
	LimitHits      map[string]int `json:"limitHits"`
}

func (l *Limiter) Snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := Status{
		SuspiciousIPs:  make([]string, 0, len(l.suspicious)),
		WhitelistedIPs: make([]string, 0, len(l.whitelist)),
		LimitHits:      make(map[string]int, len(l.hits)),
	}
	for ip := range l.suspicious {
		status.SuspiciousIPs = append(status.SuspiciousIPs, ip)
	}
	for ip := range l.whitelist {
		status.WhitelistedIPs = append(status.WhitelistedIPs, ip)
	}
	for key, rec := range l.hits {
		status.LimitHits[key] = rec.count
	}

	return status
}

// Sweep drops idle hit records, ages out suspicious sources, and removes
// window counters whose window has long passed. Returns how many entries
// were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.hits {
		if now.Sub(rec.lastSeen) > hitIdleRetention {
			delete(l.hits, key)
			removed++
		}
	}

	for ip, flaggedAt := range l.suspicious {
		if now.Sub(flaggedAt) > suspiciousRetention {
			delete(l.suspicious, ip)
			removed++
		}
	}

	for class, byKey := range l.windows {
		policy := l.policies[class]
		for key, w := range byKey {
			if now.Sub(w.start) >= 2*policy.Window {
				delete(byKey, key)
				removed++
			}
		}
	}

	return removed
}
