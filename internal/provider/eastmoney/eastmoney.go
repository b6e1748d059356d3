// Package eastmoney fetches daily bars from the Eastmoney kline endpoint and
// emits them under the Chinese column headers that endpoint's exports use.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"eoddump/internal/provider"
)

// Name is the provider name used in chains and mapping tables.
const Name = "eastmoney"

// Columns of every frame this provider returns.
var Columns = []string{"代码", "日期", "开盘", "收盘", "最高", "最低", "成交量", "成交额"}

// HTTPClient describes an HTTP client. *httpx.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Universe lists the stock codes a market-wide daily unit covers.
type Universe interface {
	Stocks(ctx context.Context) ([]string, error)
}

type Config struct {
	URL string
	// Adjust is the fqt parameter: 0 raw, 1 forward, 2 backward.
	Adjust string
	// MaxConcurrency bounds parallel per-code requests. Defaults to 4.
	MaxConcurrency int
}

type Provider struct {
	cfg      Config
	client   HTTPClient
	universe Universe
}

// New builds the provider. universe may be nil when only coded units are
// requested.
func New(cfg Config, client HTTPClient, universe Universe) *Provider {
	if cfg.URL == "" {
		cfg.URL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
	}
	if cfg.Adjust == "" {
		cfg.Adjust = "0"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{cfg: cfg, client: client, universe: universe}
}

func (p *Provider) Name() string { return Name }

// Fetch returns the bars of u's code, or of every stock in the universe for a
// market-wide daily unit. Codes that fail are skipped; the first error is
// returned only when nothing was fetched.
func (p *Provider) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	codes := []string{u.Code}
	if u.Code == "" {
		if p.universe == nil {
			return nil, fmt.Errorf("%w: eastmoney: market-wide unit without a stock universe", provider.ErrProvider)
		}
		var err error
		if codes, err = p.universe.Stocks(ctx); err != nil {
			return nil, fmt.Errorf("%w: eastmoney: listing universe: %v", provider.ErrProvider, err)
		}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		out      = provider.NewFrame(Columns...)
	)
	sem := make(chan struct{}, p.cfg.MaxConcurrency)
	for _, code := range codes {
		code := code
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			rows, err := p.klines(ctx, code, u.Start, u.End)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for _, r := range rows {
				out.Append(r...)
			}
		}()
	}
	wg.Wait()

	if out.Empty() && firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && out.Empty() {
		return nil, err
	}
	return out, nil
}

type klineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// klines fetches one code. Each kline is "date,open,close,high,low,volume,amount".
func (p *Provider) klines(ctx context.Context, code, start, end string) ([][]string, error) {
	secid, err := SecID(code)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("secid", secid)
	q.Set("fields1", "f1,f2,f3")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")
	q.Set("klt", "101")
	q.Set("fqt", p.cfg.Adjust)
	q.Set("beg", start)
	q.Set("end", end)
	q.Set("lmt", "1000000")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney %s: %v", provider.ErrProvider, code, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%w: eastmoney %s -> %d: %s", provider.ErrProvider, code, resp.StatusCode, string(b))
	}

	var api klineResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("%w: eastmoney %s: decode: %v", provider.ErrProvider, code, err)
	}
	if api.Data == nil {
		// unknown or suspended code
		return nil, nil
	}
	rows := make([][]string, 0, len(api.Data.Klines))
	for _, k := range api.Data.Klines {
		parts := strings.Split(k, ",")
		if len(parts) < 7 {
			continue
		}
		rows = append(rows, append([]string{code}, parts[:7]...))
	}
	return rows, nil
}

// SecID maps "600000.SH" to Eastmoney's "1.600000". Shanghai listings use
// market 1; Shenzhen and Beijing use 0.
func SecID(code string) (string, error) {
	num, exch, ok := strings.Cut(code, ".")
	if !ok || num == "" {
		return "", fmt.Errorf("eastmoney: code %q has no exchange suffix", code)
	}
	switch strings.ToUpper(exch) {
	case "SH":
		return "1." + num, nil
	case "SZ", "BJ":
		return "0." + num, nil
	}
	return "", fmt.Errorf("eastmoney: unsupported exchange in %q", code)
}
