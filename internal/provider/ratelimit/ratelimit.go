// Package ratelimit gates provider calls so upstream quotas are respected.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"eoddump/internal/metrics"
	"eoddump/internal/provider"
)

// pause sleeps for d unless ctx ends first, and books the time slept against
// the provider's throttle counter.
func pause(ctx context.Context, d time.Duration, name, gate string) error {
	if d <= 0 {
		return nil
	}
	start := time.Now()
	t := time.NewTimer(d)
	defer t.Stop()
	defer func() {
		metrics.ThrottleSeconds.WithLabelValues(name, gate).Add(time.Since(start).Seconds())
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MinInterval spaces calls to one endpoint: the next call starts no sooner
// than Interval after the previous one returned.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	mu       sync.Mutex
	finished time.Time
}

func NewMinInterval(p provider.Provider, interval time.Duration) *MinInterval {
	return &MinInterval{P: p, Interval: interval}
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	if m.Interval <= 0 {
		return m.P.Fetch(ctx, u)
	}
	m.mu.Lock()
	next := m.finished.Add(m.Interval)
	m.mu.Unlock()
	if err := pause(ctx, time.Until(next), m.Name(), "interval"); err != nil {
		return nil, err
	}

	f, err := m.P.Fetch(ctx, u)

	m.mu.Lock()
	m.finished = time.Now()
	m.mu.Unlock()
	return f, err
}
