// Package job turns a date range into trading units and drives each one
// through its chain and sink, one unit at a time.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eoddump/internal/calendar"
	"eoddump/internal/chain"
	"eoddump/internal/provider"
	"eoddump/internal/sink"
)

// Calendar is satisfied by *calendar.Resolver.
type Calendar interface {
	Resolve(ctx context.Context, start, end string) ([]string, error)
}

// Acquirer is satisfied by *chain.Chain.
type Acquirer interface {
	Acquire(ctx context.Context, u provider.Unit) chain.Outcome
	AcquireWindows(ctx context.Context, code string, dates []string, size int) chain.Outcome
}

// Summary counts unit results of a run.
type Summary struct {
	Persisted int
	Skipped   int
	Empty     int
	Exhausted int
	Rows      int
}

func (s Summary) String() string {
	return fmt.Sprintf("persisted=%d skipped=%d empty=%d exhausted=%d rows=%d",
		s.Persisted, s.Skipped, s.Empty, s.Exhausted, s.Rows)
}

// market is the exchange's local time, UTC+8 all year.
var market = time.FixedZone("CST", 8*60*60)

func today(now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	return now().In(market).Format(calendar.Layout)
}

// runner holds what every job needs to process one unit.
type runner struct {
	sink       sink.Sink
	skipExists bool
	log        zerolog.Logger
}

// unit skips u when the sink already holds it, otherwise acquires and
// persists it. Only persistence failures are returned.
func (r runner) unit(ctx context.Context, sum *Summary, u provider.Unit, acquire func() chain.Outcome) error {
	log := r.log.With().Str("unit", u.String()).Logger()
	if r.skipExists {
		ok, err := r.sink.Exists(ctx, u)
		if err != nil {
			return err
		}
		if ok {
			sum.Skipped++
			log.Debug().Msg("already persisted, skipping")
			return nil
		}
	}

	out := acquire()
	switch out.Status {
	case chain.StatusEmpty:
		sum.Empty++
		log.Info().Msg("no trading data")
		return nil
	case chain.StatusExhausted:
		if ctx.Err() != nil {
			return nil
		}
		sum.Exhausted++
		log.Warn().Err(out.Err()).Int("attempts", len(out.Attempts)).Msg("unit skipped")
		return nil
	}

	n, err := r.sink.Persist(ctx, u, out.Rows)
	if err != nil {
		return err
	}
	sum.Persisted++
	sum.Rows += n
	log.Info().Str("provider", out.Provider).Int("rows", n).Msg("unit persisted")
	return nil
}

// StockDaily fetches market-wide daily bars, one unit per trading day.
type StockDaily struct {
	Calendar   Calendar
	Chain      Acquirer
	Sink       sink.Sink
	SkipExists bool
	Log        zerolog.Logger
}

func (j *StockDaily) Run(ctx context.Context, start, end string) (Summary, error) {
	var sum Summary
	days, err := j.Calendar.Resolve(ctx, start, end)
	if err != nil {
		return sum, fmt.Errorf("resolve calendar: %w", err)
	}
	j.Log.Info().Str("start", start).Str("end", end).Int("days", len(days)).Msg("stock daily run")

	r := runner{sink: j.Sink, skipExists: j.SkipExists, log: j.Log}
	for _, d := range days {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		u := provider.Day(d)
		if err := r.unit(ctx, &sum, u, func() chain.Outcome { return j.Chain.Acquire(ctx, u) }); err != nil {
			return sum, err
		}
	}
	return sum, ctx.Err()
}

// IndexDaily fetches daily bars per index over the range, split into windows.
type IndexDaily struct {
	Calendar     Calendar
	Chain        Acquirer
	Sink         sink.Sink
	Codes        []string
	WindowRows   int
	LookbackDays int
	SkipExists   bool
	Log          zerolog.Logger
	Now          func() time.Time
}

// Run defaults end to today and start to LookbackDays before end.
func (j *IndexDaily) Run(ctx context.Context, start, end string) (Summary, error) {
	var sum Summary
	if end == "" {
		end = today(j.Now)
	}
	if start == "" {
		e, err := time.Parse(calendar.Layout, end)
		if err != nil {
			return sum, fmt.Errorf("end date %q: %w", end, err)
		}
		start = e.AddDate(0, 0, -j.LookbackDays).Format(calendar.Layout)
	}
	days, err := j.Calendar.Resolve(ctx, start, end)
	if err != nil {
		return sum, fmt.Errorf("resolve calendar: %w", err)
	}
	j.Log.Info().Str("start", start).Str("end", end).Strs("codes", j.Codes).Msg("index daily run")

	r := runner{sink: j.Sink, skipExists: j.SkipExists, log: j.Log}
	for _, code := range j.Codes {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		u := provider.Unit{Capability: provider.IndexPrices, Code: code, Start: start, End: end}
		if err := r.unit(ctx, &sum, u, func() chain.Outcome {
			return j.Chain.AcquireWindows(ctx, code, days, j.WindowRows)
		}); err != nil {
			return sum, err
		}
	}
	return sum, ctx.Err()
}

// ListDater is satisfied by *tushare.Client.
type ListDater interface {
	ListDate(ctx context.Context, code string) (string, error)
}

// IndexWeight fetches constituent weights per index, from the index's list
// date unless a start is given.
type IndexWeight struct {
	Calendar   Calendar
	Chain      Acquirer
	Sink       sink.Sink
	ListDates  ListDater
	Codes      []string
	WindowRows int
	SkipExists bool
	Log        zerolog.Logger
	Now        func() time.Time
}

func (j *IndexWeight) Run(ctx context.Context, start, end string) (Summary, error) {
	var sum Summary
	if end == "" {
		end = today(j.Now)
	}
	r := runner{sink: j.Sink, skipExists: j.SkipExists, log: j.Log}
	for _, code := range j.Codes {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		from := start
		if from == "" {
			if j.ListDates == nil {
				return sum, errors.New("no start date and no list date source")
			}
			ld, err := j.ListDates.ListDate(ctx, code)
			if err != nil {
				sum.Exhausted++
				j.Log.Warn().Err(err).Str("code", code).Msg("list date unavailable, index skipped")
				continue
			}
			from = ld
		}
		days, err := j.Calendar.Resolve(ctx, from, end)
		if err != nil {
			return sum, fmt.Errorf("resolve calendar for %s: %w", code, err)
		}
		u := provider.Unit{Capability: provider.Weights, Code: code, Start: from, End: end}
		if err := r.unit(ctx, &sum, u, func() chain.Outcome {
			return j.Chain.AcquireWindows(ctx, code, days, j.WindowRows)
		}); err != nil {
			return sum, err
		}
	}
	return sum, ctx.Err()
}

// Watermarker is satisfied by *sink.TableSink.
type Watermarker interface {
	Watermark(ctx context.Context) (string, error)
}

// UpdateLatest appends every trading day after the sink's watermark up to
// today. The watermark date itself is already complete and is skipped.
type UpdateLatest struct {
	Calendar  Calendar
	Chain     Acquirer
	Sink      sink.Sink
	Watermark Watermarker
	// Since is the start used when the table has no complete date yet.
	Since string
	Log   zerolog.Logger
	Now   func() time.Time
}

func (j *UpdateLatest) Run(ctx context.Context) (Summary, error) {
	wm, err := j.Watermark.Watermark(ctx)
	if err != nil {
		return Summary{}, err
	}
	start := wm
	if start == "" {
		start = j.Since
	}
	end := today(j.Now)
	if start > end {
		return Summary{}, nil
	}
	j.Log.Info().Str("watermark", wm).Str("end", end).Msg("update to latest")

	daily := &StockDaily{Calendar: j.Calendar, Chain: j.Chain, Sink: j.Sink, SkipExists: true, Log: j.Log}
	return daily.Run(ctx, start, end)
}
