package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"eoddump/internal/provider"
)

// TokenBucket is a call quota shared by every endpoint of one account. It
// refills at rate tokens per second up to burst.
type TokenBucket struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu     sync.Mutex
	tokens float64
	at     time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = math.SmallestNonzeroFloat32
	}
	burst = max(burst, 1)
	tb := &TokenBucket{rate: tokensPerSecond, burst: float64(burst), now: time.Now}
	tb.tokens = tb.burst
	tb.at = tb.now()
	return tb
}

// PerMinute converts a per-minute quota. n <= 0 means unlimited and returns
// nil.
func PerMinute(n, burst int) *TokenBucket {
	if n <= 0 {
		return nil
	}
	return NewTokenBucket(float64(n)/60, burst)
}

// take refills the bucket and either consumes a token, returning 0, or
// reports how long until one is available.
func (tb *TokenBucket) take() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	if dt := now.Sub(tb.at).Seconds(); dt > 0 {
		tb.tokens = math.Min(tb.burst, tb.tokens+dt*tb.rate)
		tb.at = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	d := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
	return max(d, time.Millisecond)
}

// Wait blocks until a token is consumed or ctx is done; time spent waiting
// is booked against name. A nil bucket never waits.
func (tb *TokenBucket) Wait(ctx context.Context, name string) error {
	if tb == nil {
		return nil
	}
	for {
		d := tb.take()
		if d == 0 {
			return nil
		}
		if err := pause(ctx, d, name, "quota"); err != nil {
			return err
		}
	}
}

// TokenBucketProvider charges each call against TB. A nil TB disables the
// gate.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *TokenBucket
}

func (t *TokenBucketProvider) Name() string { return t.P.Name() }

func (t *TokenBucketProvider) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	if err := t.TB.Wait(ctx, t.Name()); err != nil {
		return nil, err
	}
	return t.P.Fetch(ctx, u)
}
