package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llmproxy/credpool/internal/credential"
)

type bucketKey struct {
	userID   int64
	provider credential.Provider
}

type bucket struct {
	limiter *rate.Limiter
	rpm     int
}

// Limiter gates requests per (user, provider) pair. Each provider namespace
// has its own RPM knobs, so a user's Gemini traffic never consumes their
// Anthropic budget.
type Limiter struct {
	mutex   sync.RWMutex
	buckets map[bucketKey]*bucket
}

func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[bucketKey]*bucket),
	}
}

// Admit consumes one token from the user's bucket for the provider,
// returning false when the bucket is empty. The rpm argument is the limit
// currently applicable to the user (base or contributor rate); when it
// differs from the bucket's previous rate the bucket is rebuilt, which is
// how reward upgrades and config changes take effect. An rpm of zero or
// below disables the gate.
func (l *Limiter) Admit(userID int64, provider credential.Provider, rpm int, now time.Time) bool {
	if rpm <= 0 {
		return true
	}

	b := l.getBucket(userID, provider, rpm)
	return b.limiter.AllowN(now, 1)
}

func (l *Limiter) getBucket(userID int64, provider credential.Provider, rpm int) *bucket {
	k := bucketKey{userID, provider}

	l.mutex.RLock()
	b, exists := l.buckets[k]
	l.mutex.RUnlock()

	if exists && b.rpm == rpm {
		return b
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	// Double-check after acquiring the write lock
	if b, exists = l.buckets[k]; exists && b.rpm == rpm {
		return b
	}

	// Rate per minute converted to a continuous per-second refill; burst
	// capacity equals the per-minute limit.
	b = &bucket{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		rpm:     rpm,
	}
	l.buckets[k] = b
	return b
}

// Reset drops all buckets.
func (l *Limiter) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.buckets = make(map[bucketKey]*bucket)
}
