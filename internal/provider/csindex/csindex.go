// Package csindex serves current index constituent weights published by
// China Securities Index. Only the latest snapshot is available, so every
// window is stamped with its end date.
package csindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"eoddump/internal/provider"
)

// Name is the provider name used in chains and mapping tables.
const Name = "csindex"

// Columns of every frame this provider returns.
var Columns = []string{"指数代码", "成分券代码", "权重(%)", "日期"}

// HTTPClient describes an HTTP client. *httpx.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	// URL is the weight endpoint; the bare index number is appended.
	URL string
	// CacheTTL keeps a fetched snapshot this long. Defaults to one hour.
	CacheTTL time.Duration
}

type constituent struct {
	code   string
	weight string
}

type snapshot struct {
	rows  []constituent
	until time.Time
}

// Provider fetches and caches weight snapshots per index.
type Provider struct {
	cfg    Config
	client HTTPClient

	mu    sync.RWMutex
	cache map[string]snapshot

	// coalesce concurrent refreshes per index
	sf singleflight.Group
}

func New(cfg Config, client HTTPClient) *Provider {
	if cfg.URL == "" {
		cfg.URL = "https://www.csindex.com.cn/csindex-home/index/weight/top10/"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{cfg: cfg, client: client, cache: make(map[string]snapshot)}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	if u.Code == "" {
		return nil, fmt.Errorf("%w: csindex: weight unit without index code", provider.ErrProvider)
	}
	rows, err := p.constituents(ctx, u.Code)
	if err != nil {
		return nil, err
	}
	f := provider.NewFrame(Columns...)
	for _, c := range rows {
		f.Append(u.Code, c.code, c.weight, u.End)
	}
	return f, nil
}

func (p *Provider) constituents(ctx context.Context, code string) ([]constituent, error) {
	p.mu.RLock()
	sc, ok := p.cache[code]
	p.mu.RUnlock()
	if ok && time.Now().Before(sc.until) {
		return sc.rows, nil
	}

	v, err, _ := p.sf.Do(code, func() (any, error) {
		rows, err := p.fetch(ctx, code)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[code] = snapshot{rows: rows, until: time.Now().Add(p.cfg.CacheTTL)}
		p.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]constituent), nil
}

type weightResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		WeightList []struct {
			SecurityCode string      `json:"securityCode"`
			Weight       json.Number `json:"weight"`
		} `json:"weightList"`
	} `json:"data"`
}

func (p *Provider) fetch(ctx context.Context, code string) ([]constituent, error) {
	num, _, _ := strings.Cut(code, ".")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+num, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: csindex %s: %v", provider.ErrProvider, code, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%w: csindex %s -> %d: %s", provider.ErrProvider, code, resp.StatusCode, string(b))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api weightResponse
	if err := dec.Decode(&api); err != nil {
		return nil, fmt.Errorf("%w: csindex %s: decode: %v", provider.ErrProvider, code, err)
	}
	if api.Code != "" && api.Code != "200" {
		return nil, fmt.Errorf("%w: csindex %s: code=%s msg=%q", provider.ErrProvider, code, api.Code, api.Msg)
	}
	if api.Data == nil {
		return nil, nil
	}
	out := make([]constituent, 0, len(api.Data.WeightList))
	for _, w := range api.Data.WeightList {
		q := Qualify(w.SecurityCode)
		if q == "" {
			continue
		}
		out = append(out, constituent{code: q, weight: w.Weight.String()})
	}
	return out, nil
}

// Qualify appends the exchange suffix to a bare six digit security code.
// Codes that already carry a suffix are returned unchanged; unknown prefixes
// yield "".
func Qualify(code string) string {
	code = strings.TrimSpace(code)
	if strings.Contains(code, ".") {
		return code
	}
	if len(code) != 6 {
		return ""
	}
	switch code[0] {
	case '6', '9':
		return code + ".SH"
	case '0', '2', '3':
		return code + ".SZ"
	case '4', '8':
		return code + ".BJ"
	}
	return ""
}
