package middleware

import (
	apperrors "allotment/pkg/errors"
	"allotment/pkg/logger"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const ClaimantHeader = "X-Claimant-ID"

var errRateLimited = apperrors.New(apperrors.KindContention, "RATE_LIMITED", "Rate limit exceeded")

type KeyExtractor func(r *http.Request) string

// KeyedRateLimiter keeps one token bucket per key and drops buckets idle for
// longer than idleTTL.
type KeyedRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	extractor KeyExtractor
	log       *logger.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewKeyedRateLimiter(rps float64, burst int, extractor KeyExtractor, log *logger.Logger) *KeyedRateLimiter {
	if extractor == nil {
		extractor = DefaultKeyExtractor
	}
	if burst < 1 {
		burst = 1
	}
	limiter := &KeyedRateLimiter{
		entries:   make(map[string]*limiterEntry),
		rps:       rate.Limit(rps),
		burst:     burst,
		idleTTL:   15 * time.Minute,
		extractor: extractor,
		log:       log,
		stopCh:    make(chan struct{}),
	}

	go limiter.cleanup(2 * time.Minute)

	return limiter
}

func (rl *KeyedRateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.idleTTL)
			rl.mu.Lock()
			for key, ent := range rl.entries {
				if ent.lastSeen.Before(cutoff) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *KeyedRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *KeyedRateLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}

	rl.mu.Lock()
	ent, ok := rl.entries[key]
	if !ok {
		ent = &limiterEntry{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.entries[key] = ent
	}
	ent.lastSeen = time.Now()
	rl.mu.Unlock()

	return ent.lim.Allow()
}

func RateLimit(limiter *KeyedRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.extractor(r)
			if !limiter.Allow(key) {
				limiter.log.Warn("Rate limit exceeded",
					"request_id", RequestID(r.Context()),
					"key", key,
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write(errRateLimited.ToJSON())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor limits per claimant when the caller names one and per
// client address otherwise.
func DefaultKeyExtractor(r *http.Request) string {
	if claimant := r.Header.Get(ClaimantHeader); claimant != "" {
		return "claimant:" + claimant
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}
