// Package calendar resolves the trading days of a date range.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"eoddump/internal/timeout"
)

// Layout is the 8-digit date format used throughout.
const Layout = "20060102"

// Source is an authoritative exchange calendar.
type Source interface {
	TradeDays(ctx context.Context, start, end string) ([]string, error)
}

// Resolver returns trading days from Source, falling back to Mon-Fri days
// when the source fails. Only source answers are memoised; an empty answer is
// a closed range, not a failure.
type Resolver struct {
	source  Source
	timeout time.Duration
	log     zerolog.Logger

	sf   singleflight.Group
	mu   sync.RWMutex
	memo map[string][]string
}

// NewResolver builds a resolver. A nil source always uses the fallback.
func NewResolver(src Source, d time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{source: src, timeout: d, log: log, memo: make(map[string][]string)}
}

type resolved struct {
	days     []string
	fallback bool
}

// Resolve returns the ascending, de-duplicated trading days in [start, end].
func (r *Resolver) Resolve(ctx context.Context, start, end string) ([]string, error) {
	s, err := time.Parse(Layout, start)
	if err != nil {
		return nil, fmt.Errorf("start date %q: %w", start, err)
	}
	e, err := time.Parse(Layout, end)
	if err != nil {
		return nil, fmt.Errorf("end date %q: %w", end, err)
	}
	if s.After(e) {
		return nil, fmt.Errorf("start %s after end %s", start, end)
	}

	key := start + "-" + end
	r.mu.RLock()
	days, ok := r.memo[key]
	r.mu.RUnlock()
	if ok {
		return append([]string(nil), days...), nil
	}

	v, _, _ := r.sf.Do(key, func() (any, error) {
		days, err := r.primary(ctx, start, end)
		if err != nil {
			r.log.Warn().Err(err).Str("start", start).Str("end", end).Msg("trade calendar unavailable, approximating with business days")
			return resolved{days: BusinessDays(s, e), fallback: true}, nil
		}
		return resolved{days: days}, nil
	})
	res := v.(resolved)
	if !res.fallback {
		r.mu.Lock()
		r.memo[key] = res.days
		r.mu.Unlock()
	}
	return append([]string(nil), res.days...), nil
}

func (r *Resolver) primary(ctx context.Context, start, end string) ([]string, error) {
	if r.source == nil {
		return nil, errors.New("no calendar source")
	}
	days, err := timeout.Call(ctx, r.timeout, func(ctx context.Context) ([]string, error) {
		return r.source.TradeDays(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	return clean(days, start, end), nil
}

// clean sorts, de-duplicates and clips days to [start, end].
func clean(days []string, start, end string) []string {
	seen := make(map[string]struct{}, len(days))
	out := make([]string, 0, len(days))
	for _, d := range days {
		if _, err := time.Parse(Layout, d); err != nil {
			continue
		}
		if d < start || d > end {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// BusinessDays lists Monday to Friday dates in [start, end]. Exchange holidays
// are not known here.
func BusinessDays(start, end time.Time) []string {
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		out = append(out, d.Format(Layout))
	}
	return out
}
