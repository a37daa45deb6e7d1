package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// failedAuthMaxTracked bounds the failed-auth table per design note §9
// ("bounded capacity with LRU eviction restricted to non-locked
// entries"), preventing unbounded growth from an address-rotating
// attacker.
const failedAuthMaxTracked = 8192

// failedAuthEntry counts failures for one remote address with a
// rate.Limiter burst of maxFailures-1; once the burst is exhausted the
// address is locked explicitly for lockoutWindow, independent of the
// limiter's own gradual refill.
type failedAuthEntry struct {
	limiter     *rate.Limiter
	lockedUntil time.Time
	lastSeen    time.Time
}

// FailedAuthTable implements the authentication failure-rate-limit
// invariant of spec.md §4.4/§8: after N failures from one address, the
// address is locked for T minutes; attempts during the lock window
// never consult the token and never reset the window.
type FailedAuthTable struct {
	mu            sync.Mutex
	entries       map[string]*failedAuthEntry
	maxFailures   int
	lockoutWindow time.Duration
}

func NewFailedAuthTable(maxFailures int, lockoutMinutes int) *FailedAuthTable {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if lockoutMinutes <= 0 {
		lockoutMinutes = 15
	}
	return &FailedAuthTable{
		entries:       make(map[string]*failedAuthEntry),
		maxFailures:   maxFailures,
		lockoutWindow: time.Duration(lockoutMinutes) * time.Minute,
	}
}

func (t *FailedAuthTable) newLimiter() *rate.Limiter {
	// Burst of maxFailures-1 tokens: the Nth failure is the one that
	// finds the bucket empty and trips the lock, so exactly maxFailures
	// failures (not maxFailures+1) are required, per spec.md §8. Refills
	// over the lockout window so a freshly unlocked address doesn't
	// immediately re-arm at full burst.
	return rate.NewLimiter(rate.Every(t.lockoutWindow/time.Duration(t.maxFailures)), t.maxFailures-1)
}

// Locked reports whether addr is currently within its lockout window,
// without recording an attempt.
func (t *FailedAuthTable) Locked(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return false
	}
	return time.Now().Before(e.lockedUntil)
}

// RecordFailure registers one failed auth attempt for addr; the failure
// that finds the burst exhausted starts the lockout window.
func (t *FailedAuthTable) RecordFailure(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictIfFull(addr)

	e, ok := t.entries[addr]
	if !ok {
		e = &failedAuthEntry{limiter: t.newLimiter()}
		t.entries[addr] = e
	}
	e.lastSeen = time.Now()

	if !e.limiter.Allow() {
		e.lockedUntil = time.Now().Add(t.lockoutWindow)
	}
}

// Reset clears an address's failure count, used after a successful auth.
func (t *FailedAuthTable) Reset(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

// evictIfFull drops the oldest non-locked entry when at capacity,
// leaving locked entries untouched so an attacker can't free their own
// slot by rotating once the table fills.
func (t *FailedAuthTable) evictIfFull(addr string) {
	if _, exists := t.entries[addr]; exists {
		return
	}
	if len(t.entries) < failedAuthMaxTracked {
		return
	}
	var oldestAddr string
	var oldestSeen time.Time
	now := time.Now()
	for a, e := range t.entries {
		if now.Before(e.lockedUntil) {
			continue
		}
		if oldestAddr == "" || e.lastSeen.Before(oldestSeen) {
			oldestAddr, oldestSeen = a, e.lastSeen
		}
	}
	if oldestAddr != "" {
		delete(t.entries, oldestAddr)
	}
}

// Sweep expires stale non-locked entries, run every 5 minutes per
// spec.md §4.4.
func (t *FailedAuthTable) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for a, e := range t.entries {
		if now.After(e.lockedUntil) && now.Sub(e.lastSeen) > t.lockoutWindow {
			delete(t.entries, a)
		}
	}
}

// RPCLimiter bounds per-client RPC throughput with a token bucket,
// grounded on the teacher's gateway.RateLimiter (internal/gateway
// /server.go's `rateLimiter`), generalized from a single shared limiter
// to one bucket per connected client.
type RPCLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
}

func NewRPCLimiter(rpm int) *RPCLimiter {
	return &RPCLimiter{limiters: make(map[string]*rate.Limiter), rpm: rpm}
}

func (l *RPCLimiter) Enabled() bool { return l.rpm > 0 }

func (l *RPCLimiter) Allow(clientID string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.rpm)
		l.limiters[clientID] = lim
	}
	return lim.Allow()
}

func (l *RPCLimiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}
