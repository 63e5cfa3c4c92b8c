package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/223-Media/223media-website/internal/identity"
)

func newTestLimiter(whitelist ...string) (*Limiter, *time.Time) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLimiter(whitelist).WithClock(func() time.Time { return current })
	return limiter, &current
}

func TestAuthWindowLimit(t *testing.T) {
	limiter, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		decision := limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil)
		require.True(t, decision.Allowed, "request %d", i+1)
	}

	decision := limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil)
	require.False(t, decision.Allowed)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", decision.Code)
	require.Equal(t, ClassAuth, decision.Class)
	require.Equal(t, 15*time.Minute, decision.RetryAfter)
}

func TestWindowRollover(t *testing.T) {
	limiter, clock := newTestLimiter()

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil).Allowed)
	}
	require.False(t, limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil).Allowed)

	*clock = clock.Add(15*time.Minute + time.Second)

	require.True(t, limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil).Allowed)
}

func TestRetryAfterShrinksWithinWindow(t *testing.T) {
	limiter, clock := newTestLimiter()

	for i := 0; i < 10; i++ {
		limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil)
	}

	*clock = clock.Add(10 * time.Minute)
	decision := limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil)
	require.False(t, decision.Allowed)
	require.Equal(t, 5*time.Minute, decision.RetryAfter)
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil)
	}
	require.False(t, limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil).Allowed)

	// A different source still has its own budget.
	require.True(t, limiter.Check("POST", "/api/auth/login", "198.51.100.7", nil).Allowed)
}

func TestPackageScaledCeilings(t *testing.T) {
	limiter, _ := newTestLimiter()

	enterprise := &identity.User{ID: "u1", Package: identity.PackageEnterprise}
	growth := &identity.User{ID: "u2", Package: identity.PackageGrowth}

	// Growth tier caps uploads at 20 per hour.
	for i := 0; i < 20; i++ {
		require.True(t, limiter.Check("POST", "/api/files/upload", "203.0.113.9", growth).Allowed)
	}
	require.False(t, limiter.Check("POST", "/api/files/upload", "203.0.113.9", growth).Allowed)

	// Enterprise still has headroom at the same point.
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Check("POST", "/api/files/upload", "203.0.113.9", enterprise).Allowed)
	}
	require.False(t, limiter.Check("POST", "/api/files/upload", "203.0.113.9", enterprise).Allowed)

	// Unauthenticated upload budget is tiny.
	for i := 0; i < 5; i++ {
		require.True(t, limiter.Check("POST", "/api/files/upload", "198.51.100.7", nil).Allowed)
	}
	require.False(t, limiter.Check("POST", "/api/files/upload", "198.51.100.7", nil).Allowed)
}

func TestSuspiciousEscalation(t *testing.T) {
	limiter, _ := newTestLimiter()
	ip := "203.0.113.9"

	for i := 0; i < 10; i++ {
		limiter.Check("POST", "/api/auth/login", ip, nil)
	}

	// Five rejections are tolerated; the sixth escalates the source.
	for i := 0; i < 5; i++ {
		decision := limiter.Check("POST", "/api/auth/login", ip, nil)
		require.Equal(t, "RATE_LIMIT_EXCEEDED", decision.Code)
	}
	decision := limiter.Check("POST", "/api/auth/login", ip, nil)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", decision.Code)
	require.True(t, limiter.Blocked(ip))

	// Once suspicious, every class is blocked outright, fresh windows or not.
	decision = limiter.Check("GET", "/pricing", ip, nil)
	require.False(t, decision.Allowed)
	require.Equal(t, "IP_BLOCKED", decision.Code)

	limiter.UnblockIP(ip)
	require.False(t, limiter.Blocked(ip))
	require.True(t, limiter.Check("GET", "/pricing", ip, nil).Allowed)
}

func TestWhitelistBypassesEverything(t *testing.T) {
	limiter, _ := newTestLimiter("203.0.113.9")

	for i := 0; i < 500; i++ {
		require.True(t, limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil).Allowed)
	}

	limiter.BlockIP("203.0.113.9")
	require.False(t, limiter.Blocked("203.0.113.9"))
	require.True(t, limiter.Check("POST", "/api/auth/login", "203.0.113.9", nil).Allowed)
}

func TestManualBlockAndSnapshot(t *testing.T) {
	limiter, _ := newTestLimiter("10.0.0.1")

	limiter.BlockIP("203.0.113.9")
	require.True(t, limiter.Blocked("203.0.113.9"))

	status := limiter.Snapshot()
	require.Contains(t, status.SuspiciousIPs, "203.0.113.9")
	require.Contains(t, status.WhitelistedIPs, "10.0.0.1")
}

func TestSweepAgesOutTrackingData(t *testing.T) {
	limiter, clock := newTestLimiter()
	ip := "203.0.113.9"

	for i := 0; i < 16; i++ {
		limiter.Check("POST", "/api/auth/login", ip, nil)
	}
	require.True(t, limiter.Blocked(ip))

	// After a day the suspicious flag and idle hit records age out.
	removed := limiter.Sweep(clock.Add(25 * time.Hour))
	require.Greater(t, removed, 0)
	require.False(t, limiter.Blocked(ip))
}
