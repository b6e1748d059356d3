package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"eoddump/internal/calendar"
	"eoddump/internal/canonical"
	"eoddump/internal/chain"
	"eoddump/internal/config"
	"eoddump/internal/httpx"
	"eoddump/internal/normalize"
	"eoddump/internal/provider"
	"eoddump/internal/provider/csindex"
	"eoddump/internal/provider/eastmoney"
	"eoddump/internal/provider/ratelimit"
	"eoddump/internal/provider/tushare"
	"eoddump/internal/provider/yahoo"
	"eoddump/internal/sink"
	"eoddump/internal/timeout"
)

// app holds the clients shared by every chain of a run.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	http     *httpx.Client
	tushare  *tushare.Client
	lookups  *gatedTushare
	quota    *ratelimit.TokenBucket
	norm     *normalize.Normalizer
	calendar *calendar.Resolver
	universe *universe
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{
		cfg:   cfg,
		log:   log,
		http:  httpx.New(cfg.Timeout()),
		quota: ratelimit.PerMinute(cfg.Tushare.MaxRequestsPerMinute, cfg.Tushare.Burst),
		norm:  normalize.New(log),
	}

	var src calendar.Source
	if cfg.Tushare.Token != "" {
		ts, err := tushare.NewClient(cfg.Tushare.Token,
			tushare.WithHTTPClient(a.http),
			tushare.WithBaseURL(cfg.Tushare.Endpoint),
		)
		if err != nil {
			return nil, err
		}
		a.tushare = ts
		a.lookups = &gatedTushare{c: ts, quota: a.quota, timeout: cfg.Timeout()}
		src = a.lookups
		a.universe = &universe{sources: []eastmoney.Universe{a.lookups}}
	} else {
		log.Warn().Msg("TUSHARE token not set; tushare provider and trade calendar disabled")
		a.universe = &universe{}
	}
	a.calendar = calendar.NewResolver(src, cfg.Timeout(), log)
	return a, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// members lists the providers configured for capability, ranked by priority.
func (a *app) members(c provider.Capability) []chain.Member {
	var out []chain.Member
	add := func(name string, timeoutSec int, p provider.Provider) {
		out = append(out, chain.Member{
			Descriptor: provider.Descriptor{Name: name, Rank: len(out), Capability: c, Timeout: seconds(timeoutSec)},
			Provider:   p,
		})
	}

	if a.tushare != nil {
		var p provider.Provider
		switch c {
		case provider.Prices:
			p = tushare.NewDaily(a.tushare)
		case provider.IndexPrices:
			p = tushare.NewIndexDaily(a.tushare)
		case provider.Weights:
			p = ratelimit.NewMinInterval(tushare.NewIndexWeight(a.tushare), time.Duration(a.cfg.Weight.MinIntervalMillis)*time.Millisecond)
		}
		add(tushare.Name, a.cfg.Tushare.TimeoutSec, &ratelimit.TokenBucketProvider{P: p, TB: a.quota})
	}

	switch c {
	case provider.Prices, provider.IndexPrices:
		if a.cfg.Eastmoney.Enabled {
			add(eastmoney.Name, a.cfg.Eastmoney.TimeoutSec, eastmoney.New(eastmoney.Config{
				URL:            a.cfg.Eastmoney.Endpoint,
				MaxConcurrency: a.cfg.Eastmoney.MaxConcurrency,
			}, a.http, a.universe))
		}
		if a.cfg.Yahoo.Enabled {
			add(yahoo.Name, a.cfg.Yahoo.TimeoutSec, yahoo.New(nil, a.universe))
		}
	case provider.Weights:
		if a.cfg.CSIndex.Enabled {
			add(csindex.Name, a.cfg.CSIndex.TimeoutSec, csindex.New(csindex.Config{
				URL:      a.cfg.CSIndex.Endpoint,
				CacheTTL: seconds(a.cfg.CSIndex.CacheTTLSec),
			}, a.http))
		}
	}
	return out
}

func (a *app) chain(c provider.Capability) (*chain.Chain, error) {
	members := a.members(c)
	if len(members) == 0 {
		return nil, errors.New("no provider enabled for " + string(c))
	}
	ch := chain.New(c, members, a.norm,
		chain.WithRetry(chain.RetryPolicy{MaxAttempts: a.cfg.Retry.MaxAttempts, Backoff: a.cfg.Backoff()}),
		chain.WithTimeout(a.cfg.Timeout()),
		chain.WithLogger(a.log.With().Str("capability", string(c)).Logger()),
	)
	a.log.Debug().Str("capability", string(ch.Capability())).Strs("providers", ch.Providers()).Msg("chain ready")
	return ch, nil
}

func (a *app) fileSink(sub string, kind canonical.Kind, byCode bool) *sink.FileSink {
	return &sink.FileSink{Dir: filepath.Join(a.cfg.Output.Dir, sub), Kind: kind, ByCode: byCode}
}

// tableSink connects to the configured database and makes sure the price
// table exists. The returned func closes the pool.
func (a *app) tableSink(ctx context.Context) (*sink.TableSink, func(), error) {
	if a.cfg.Database.URL == "" {
		return nil, nil, errors.New("database url is not configured (DATABASE_URL)")
	}
	pool, err := sink.Connect(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	ts := sink.NewTableSink(pool, sink.TableOptions{
		Table:     a.cfg.Database.Table,
		Threshold: a.cfg.Database.Threshold,
		Since:     a.cfg.Database.Since,
	}, a.log)
	if err := ts.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	a.universe.sources = append(a.universe.sources, ts)
	return ts, pool.Close, nil
}

// universe lists stock codes for per-code fallbacks, from the first source
// that answers. A successful answer is kept for the rest of the run.
type universe struct {
	sources []eastmoney.Universe

	mu    sync.Mutex
	codes []string
}

func (u *universe) Stocks(ctx context.Context) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.codes != nil {
		return u.codes, nil
	}
	errs := []error{errors.New("no stock universe source answered")}
	for _, s := range u.sources {
		codes, err := s.Stocks(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(codes) > 0 {
			u.codes = codes
			return codes, nil
		}
	}
	return nil, errors.Join(errs...)
}

// gatedTushare serves the tushare lookups made outside a chain. Each call
// draws from the shared quota and runs under the process-wide deadline.
type gatedTushare struct {
	c       *tushare.Client
	quota   *ratelimit.TokenBucket
	timeout time.Duration
}

func gated[T any](ctx context.Context, g *gatedTushare, fn func(context.Context) (T, error)) (T, error) {
	if err := g.quota.Wait(ctx, tushare.Name); err != nil {
		var zero T
		return zero, err
	}
	return timeout.Call(ctx, g.timeout, fn)
}

func (g *gatedTushare) ListDate(ctx context.Context, code string) (string, error) {
	return gated(ctx, g, func(ctx context.Context) (string, error) { return g.c.ListDate(ctx, code) })
}

func (g *gatedTushare) Stocks(ctx context.Context) ([]string, error) {
	return gated(ctx, g, g.c.Stocks)
}

// TradeDays only draws from the quota; the calendar resolver applies the
// deadline itself.
func (g *gatedTushare) TradeDays(ctx context.Context, start, end string) ([]string, error) {
	if err := g.quota.Wait(ctx, tushare.Name); err != nil {
		return nil, err
	}
	return g.c.TradeDays(ctx, start, end)
}
