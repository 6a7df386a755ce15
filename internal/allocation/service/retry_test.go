package service

import (
	"testing"
	"time"
)

func TestRetryPolicy_BackoffBounds(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "first attempt", policy: RetryPolicy{BaseBackoff: 10 * time.Millisecond}, attempt: 1, wantMin: 5 * time.Millisecond, wantMax: 15 * time.Millisecond},
		{name: "third attempt doubles twice", policy: RetryPolicy{BaseBackoff: 10 * time.Millisecond}, attempt: 3, wantMin: 5 * time.Millisecond, wantMax: 45 * time.Millisecond},
		{name: "shift past int64", policy: RetryPolicy{BaseBackoff: 15 * time.Millisecond}, attempt: 100, wantMin: 7500 * time.Microsecond, wantMax: MaxBackoff + 7500*time.Microsecond},
		{name: "base above cap", policy: RetryPolicy{BaseBackoff: time.Hour}, attempt: 2, wantMin: MaxBackoff / 2, wantMax: MaxBackoff + MaxBackoff/2},
		{name: "no backoff", policy: RetryPolicy{}, attempt: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 50 {
				got := tt.policy.backoff(tt.attempt)
				if got < tt.wantMin || got > tt.wantMax {
					t.Fatalf("backoff(%d) = %v, want within [%v, %v]", tt.attempt, got, tt.wantMin, tt.wantMax)
				}
			}
		})
	}
}
