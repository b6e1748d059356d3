// Package chain drives a prioritized list of providers for one trading unit at
// a time: the primary is retried, fallbacks are tried once each, and the first
// response that normalizes to at least one row wins.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"eoddump/internal/aggregate"
	"eoddump/internal/canonical"
	"eoddump/internal/metrics"
	"eoddump/internal/normalize"
	"eoddump/internal/provider"
	"eoddump/internal/timeout"
)

// ErrAllProvidersExhausted is the terminal failure of a unit.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Status is the terminal state of a unit.
type Status int

const (
	StatusSuccess Status = iota
	StatusEmpty
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmpty:
		return "empty"
	case StatusExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Attempt records one provider call.
type Attempt struct {
	Provider string
	N        int
	Err      error
}

// Outcome is the result of acquiring one unit.
type Outcome struct {
	Unit     provider.Unit
	Status   Status
	Rows     []canonical.Record
	Provider string
	Attempts []Attempt
}

// Err maps a non-success status to its sentinel.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusEmpty:
		return fmt.Errorf("%s: %w", o.Unit, provider.ErrEmptyResult)
	}
	return fmt.Errorf("%s: %w after %d attempts", o.Unit, ErrAllProvidersExhausted, len(o.Attempts))
}

// RetryPolicy bounds retries of the primary provider.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is three primary attempts one second apart.
func DefaultRetryPolicy() RetryPolicy { return RetryPolicy{MaxAttempts: 3, Backoff: time.Second} }

// Member is a provider together with its static descriptor.
type Member struct {
	Descriptor provider.Descriptor
	Provider   provider.Provider
}

func (m Member) name() string {
	if m.Descriptor.Name != "" {
		return m.Descriptor.Name
	}
	return m.Provider.Name()
}

// Normalizer is satisfied by *normalize.Normalizer.
type Normalizer interface {
	Normalize(providerName string, f *provider.Frame, u provider.Unit) ([]canonical.Record, error)
}

// Chain is a fallback chain for a single capability.
type Chain struct {
	capability provider.Capability
	members    []Member
	norm       Normalizer
	retry      RetryPolicy
	timeout    time.Duration
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Chain.
type Option func(*Chain)

// WithRetry replaces the default retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Chain) { c.retry = p }
}

// WithTimeout sets the call deadline for members without their own.
func WithTimeout(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Chain) { c.log = log }
}

// New builds a chain for capability. Members serving another capability are
// ignored; the rest are ordered by Rank.
func New(capability provider.Capability, members []Member, norm Normalizer, opts ...Option) *Chain {
	c := &Chain{
		capability: capability,
		norm:       norm,
		retry:      DefaultRetryPolicy(),
		timeout:    timeout.DefaultSeconds * time.Second,
		log:        zerolog.Nop(),
		sleep:      sleep,
	}
	for _, m := range members {
		if m.Provider == nil {
			continue
		}
		if m.Descriptor.Capability != "" && m.Descriptor.Capability != capability {
			continue
		}
		c.members = append(c.members, m)
	}
	sort.SliceStable(c.members, func(i, j int) bool { return c.members[i].Descriptor.Rank < c.members[j].Descriptor.Rank })
	for _, o := range opts {
		o(c)
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry.MaxAttempts = 1
	}
	return c
}

// Capability returns the capability the chain serves.
func (c *Chain) Capability() provider.Capability { return c.capability }

// Providers lists member names in the order they are tried.
func (c *Chain) Providers() []string {
	out := make([]string, len(c.members))
	for i, m := range c.members {
		out[i] = m.name()
	}
	return out
}

// Acquire runs the fallback policy for u. It never returns an error; failures
// are reported through the outcome's status.
func (c *Chain) Acquire(ctx context.Context, u provider.Unit) Outcome {
	out := Outcome{Unit: u, Status: StatusExhausted}
	defer func() {
		metrics.UnitOutcomes.WithLabelValues(string(u.Capability), out.Status.String()).Inc()
	}()

	for rank, m := range c.members {
		tries := 1
		if rank == 0 {
			tries = c.retry.MaxAttempts
		}
		name := m.name()
		for n := 1; n <= tries; n++ {
			if ctx.Err() != nil {
				return out
			}
			if n > 1 && c.retry.Backoff > 0 {
				if err := c.sleep(ctx, c.retry.Backoff); err != nil {
					return out
				}
			}
			rows, err := c.try(ctx, m, u)
			out.Attempts = append(out.Attempts, Attempt{Provider: name, N: n, Err: err})
			metrics.ProviderAttempts.WithLabelValues(name, resultLabel(err)).Inc()
			if err == nil {
				out.Status = StatusSuccess
				out.Rows = rows
				out.Provider = name
				return out
			}
			c.log.Warn().Err(err).Str("provider", name).Int("attempt", n).Str("unit", u.Key()).Msg("provider attempt failed")
		}
	}
	return out
}

func (c *Chain) try(ctx context.Context, m Member, u provider.Unit) ([]canonical.Record, error) {
	d := m.Descriptor.Timeout
	if d <= 0 {
		d = c.timeout
	}
	f, err := timeout.Call(ctx, d, func(ctx context.Context) (*provider.Frame, error) {
		return m.Provider.Fetch(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	if f.Empty() {
		return nil, provider.ErrEmptyResult
	}
	rows, err := c.norm.Normalize(m.name(), f, u)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d raw rows, none usable", provider.ErrEmptyResult, f.Len())
	}
	return rows, nil
}

// Window is an inclusive date range of one batch sub-unit.
type Window struct {
	Start string
	End   string
}

// Split cuts an ascending date list into windows of at most size dates.
func Split(dates []string, size int) []Window {
	if len(dates) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(dates)
	}
	out := make([]Window, 0, (len(dates)+size-1)/size)
	for i := 0; i < len(dates); i += size {
		j := min(i+size, len(dates)) - 1
		out = append(out, Window{Start: dates[i], End: dates[j]})
	}
	return out
}

// AcquireWindows acquires code over dates in sub-windows of at most size
// dates, each under the full fallback policy. Successful windows are merged,
// de-duplicated last-write-wins and sorted by (trade_date, code).
func (c *Chain) AcquireWindows(ctx context.Context, code string, dates []string, size int) Outcome {
	windows := Split(dates, size)
	whole := provider.Unit{Capability: c.capability, Code: code}
	if len(windows) == 0 {
		return Outcome{Unit: whole, Status: StatusEmpty}
	}
	whole.Start, whole.End = windows[0].Start, windows[len(windows)-1].End

	out := Outcome{Unit: whole, Status: StatusExhausted}
	var all []canonical.Record
	for _, w := range windows {
		if ctx.Err() != nil {
			break
		}
		sub := c.Acquire(ctx, provider.Unit{Capability: c.capability, Code: code, Start: w.Start, End: w.End})
		out.Attempts = append(out.Attempts, sub.Attempts...)
		if sub.Status != StatusSuccess {
			c.log.Warn().Str("unit", sub.Unit.Key()).Str("status", sub.Status.String()).Msg("window skipped")
			continue
		}
		all = append(all, sub.Rows...)
		out.Status = StatusSuccess
		if out.Provider == "" {
			out.Provider = sub.Provider
		}
	}
	if out.Status == StatusSuccess {
		out.Rows = aggregate.LastWins(all)
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, timeout.ErrTimedOut):
		return "timeout"
	case errors.Is(err, provider.ErrEmptyResult):
		return "empty"
	case errors.Is(err, normalize.ErrSchemaMismatch):
		return "schema"
	}
	return "error"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
