// File: internal/server/limiter.go
package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL = 10 * time.Minute
	// limiterMaxKeys bounds the number of buckets held at once.
	limiterMaxKeys = 4096
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address. A zero rate
// disables it.
type clientLimiter struct {
	rate    rate.Limit
	burst   int
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	return &clientLimiter{
		rate:    rate.Limit(perSecond),
		burst:   burst,
		maxKeys: limiterMaxKeys,
		now:     time.Now,
		clients: make(map[string]*limiterEntry),
	}
}

// Allow reports whether the client identified by key may make another request now.
func (l *clientLimiter) Allow(key string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.maxKeys {
			l.prune(now)
		}
		if len(l.clients) >= l.maxKeys {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune drops buckets idle longer than limiterIdleTTL. Callers hold mu.
func (l *clientLimiter) prune(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
}

// evictOldest drops the least recently seen bucket. Callers hold mu.
func (l *clientLimiter) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, entry := range l.clients {
		if !found || entry.lastSeen.Before(oldest) {
			oldestKey, oldest, found = key, entry.lastSeen, true
		}
	}
	if found {
		delete(l.clients, oldestKey)
	}
}

func (l *clientLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientKey identifies the caller by address. middleware.RealIP has already
// replaced RemoteAddr with the forwarded address when one was sent.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
