package keystore

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UnlockLimiter applies a token bucket per account id and periodically evicts
// idle entries. A nil *UnlockLimiter allows everything.
type UnlockLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byID    map[string]*limiterEntry
	hits    uint64
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUnlockLimiter returns nil (throttling disabled) if rps or burst is not
// positive.
func NewUnlockLimiter(rps float64, burst int, idleTTL time.Duration) *UnlockLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &UnlockLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byID:    make(map[string]*limiterEntry),
		idleTTL: idleTTL,
	}
}

// Allow reports whether one unlock attempt for id may proceed at now.
func (l *UnlockLimiter) Allow(id string, now time.Time) bool {
	if l == nil {
		return true
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byID[id] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byID {
			if v.lastSeen.Before(cutoff) {
				delete(l.byID, k)
			}
		}
	}

	return allowed
}
