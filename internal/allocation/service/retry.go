package service

import (
	"context"
	"math/rand/v2"
	"time"
)

// MaxBackoff caps a single wait between attempts.
const MaxBackoff = 2 * time.Second

// RetryPolicy bounds the optimistic read-decide-write loop.
type RetryPolicy struct {
	Attempts    int
	BaseBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseBackoff: 15 * time.Millisecond}
}

// backoff returns the jittered wait after failed attempt n (1-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	base := min(p.BaseBackoff, MaxBackoff)
	ceiling := base
	for i := 1; i < n && ceiling < MaxBackoff; i++ {
		ceiling <<= 1
	}
	ceiling = min(ceiling, MaxBackoff)
	return time.Duration(rand.Int64N(int64(ceiling))) + base/2
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
