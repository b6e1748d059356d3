// Command eoddump downloads end-of-day A-share data: daily stock bars, index
// bars and index constituent weights.
//
// Usage:
//
//	eoddump stock  [-start YYYYMMDD] [-end YYYYMMDD] [-config path] [-skip-exists]
//	eoddump index  [-start YYYYMMDD] [-end YYYYMMDD] [-config path] [-skip-exists]
//	eoddump weight [-start YYYYMMDD] [-end YYYYMMDD] [-config path] [-skip-exists]
//	eoddump update [-config path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"eoddump/internal/canonical"
	"eoddump/internal/config"
	"eoddump/internal/job"
	"eoddump/internal/logx"
	"eoddump/internal/metrics"
	"eoddump/internal/provider"
	"eoddump/internal/sink"
)

const usage = `usage: eoddump <stock|index|weight|update> [flags]`

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

type options struct {
	cmd        string
	start      string
	end        string
	configPath string
	skipExists *bool
}

func parse(args []string, stderr io.Writer) (options, error) {
	if len(args) == 0 {
		return options{}, errors.New(usage)
	}
	o := options{cmd: args[0]}
	switch o.cmd {
	case "stock", "index", "weight", "update":
	default:
		return o, fmt.Errorf("unknown command %q\n%s", o.cmd, usage)
	}

	fs := flag.NewFlagSet(o.cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.start, "start", "", "first date, YYYYMMDD")
	fs.StringVar(&o.end, "end", "", "last date, YYYYMMDD (default today)")
	fs.StringVar(&o.configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
	skip := fs.Bool("skip-exists", false, "skip units already persisted (default from config)")
	if err := fs.Parse(args[1:]); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "skip-exists" {
			o.skipExists = skip
		}
	})
	if o.cmd == "stock" && o.start == "" {
		return o, errors.New("stock: -start is required")
	}
	return o, nil
}

func run(args []string, stderr io.Writer) int {
	o, err := parse(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	log := logx.New(stderr, cfg.LogLevel).With().
		Str("run_id", uuid.NewString()).
		Str("cmd", o.cmd).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
	}

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return 1
	}

	started := time.Now()
	sum, err := a.dispatch(ctx, o)
	ev := log.Info()
	code := 0
	switch {
	case errors.Is(err, context.Canceled):
		ev = log.Warn()
		code = 130
	case err != nil:
		ev = log.Error().Err(err)
		code = 1
	}
	ev.Int("persisted", sum.Persisted).
		Int("skipped", sum.Skipped).
		Int("empty", sum.Empty).
		Int("exhausted", sum.Exhausted).
		Int("rows", sum.Rows).
		Dur("elapsed", time.Since(started)).
		Msg("run finished")
	return code
}

func skipOr(o options, def bool) bool {
	if o.skipExists != nil {
		return *o.skipExists
	}
	return def
}

func (a *app) dispatch(ctx context.Context, o options) (job.Summary, error) {
	switch o.cmd {
	case "stock":
		return a.stock(ctx, o)
	case "index":
		ch, err := a.chain(provider.IndexPrices)
		if err != nil {
			return job.Summary{}, err
		}
		j := &job.IndexDaily{
			Calendar:     a.calendar,
			Chain:        ch,
			Sink:         a.fileSink("index", canonical.KindPrice, true),
			Codes:        a.cfg.Index.Codes,
			WindowRows:   a.cfg.Index.WindowRows,
			LookbackDays: a.cfg.Index.LookbackDays,
			SkipExists:   skipOr(o, a.cfg.Index.SkipExists),
			Log:          a.log,
		}
		return j.Run(ctx, o.start, o.end)
	case "weight":
		ch, err := a.chain(provider.Weights)
		if err != nil {
			return job.Summary{}, err
		}
		j := &job.IndexWeight{
			Calendar:   a.calendar,
			Chain:      ch,
			Sink:       a.fileSink("weight", canonical.KindWeight, true),
			Codes:      a.cfg.Weight.Codes,
			WindowRows: a.cfg.Weight.WindowRows,
			SkipExists: skipOr(o, a.cfg.Weight.SkipExists),
			Log:        a.log,
		}
		if a.lookups != nil {
			j.ListDates = a.lookups
		}
		return j.Run(ctx, o.start, o.end)
	case "update":
		ts, closeDB, err := a.tableSink(ctx)
		if err != nil {
			return job.Summary{}, err
		}
		defer closeDB()
		ch, err := a.chain(provider.Prices)
		if err != nil {
			return job.Summary{}, err
		}
		j := &job.UpdateLatest{
			Calendar:  a.calendar,
			Chain:     ch,
			Sink:      ts,
			Watermark: ts,
			Since:     a.cfg.Database.Since,
			Log:       a.log,
		}
		return j.Run(ctx)
	}
	return job.Summary{}, fmt.Errorf("unknown command %q", o.cmd)
}

// stock writes to the table when a database is configured, otherwise one CSV
// per day.
func (a *app) stock(ctx context.Context, o options) (job.Summary, error) {
	var s sink.Sink = a.fileSink("stock", canonical.KindPrice, false)
	if a.cfg.Database.URL != "" {
		ts, closeDB, err := a.tableSink(ctx)
		if err != nil {
			return job.Summary{}, err
		}
		defer closeDB()
		s = ts
	}
	ch, err := a.chain(provider.Prices)
	if err != nil {
		return job.Summary{}, err
	}
	end := o.end
	if end == "" {
		end = time.Now().In(time.FixedZone("CST", 8*60*60)).Format("20060102")
	}
	j := &job.StockDaily{
		Calendar:   a.calendar,
		Chain:      ch,
		Sink:       s,
		SkipExists: skipOr(o, a.cfg.Stock.SkipExists),
		Log:        a.log,
	}
	return j.Run(ctx, o.start, end)
}
