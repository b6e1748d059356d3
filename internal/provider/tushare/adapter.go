package tushare

import (
	"context"
	"fmt"

	"eoddump/internal/provider"
)

var (
	dailyFields  = []string{"ts_code", "trade_date", "open", "high", "low", "close", "vol", "amount"}
	factorFields = []string{"ts_code", "trade_date", "adj_factor"}
	weightFields = []string{"index_code", "con_code", "trade_date", "weight"}
)

// rangeParams queries a whole market day when u has no code, otherwise one
// instrument over u's range.
func rangeParams(u provider.Unit, codeParam string) map[string]string {
	if u.Code == "" && u.Start == u.End {
		return map[string]string{"trade_date": u.Start}
	}
	p := map[string]string{"start_date": u.Start, "end_date": u.End}
	if u.Code != "" {
		p[codeParam] = u.Code
	}
	return p
}

// Daily serves unadjusted daily stock bars joined with their adjustment
// factor.
type Daily struct{ c *Client }

func NewDaily(c *Client) *Daily { return &Daily{c: c} }

func (d *Daily) Name() string { return Name }

func (d *Daily) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	params := rangeParams(u, "ts_code")
	bars, err := d.c.Query(ctx, "daily", params, dailyFields)
	if err != nil {
		return nil, err
	}
	if bars.Empty() {
		return bars, nil
	}
	factors, err := d.c.Query(ctx, "adj_factor", params, factorFields)
	if err != nil {
		return nil, fmt.Errorf("joining adjustment factors: %w", err)
	}
	joined := joinFactors(bars, factors)
	if joined.Empty() {
		return nil, fmt.Errorf("%w: adj_factor not published for %s", provider.ErrEmptyResult, u.Key())
	}
	return joined, nil
}

// joinFactors appends adj_factor to bars, matched on (ts_code, trade_date).
// Bars without a factor are dropped.
func joinFactors(bars, factors *provider.Frame) *provider.Frame {
	out := provider.NewFrame(append(append([]string(nil), bars.Columns...), "adj_factor")...)
	code, date, factor := factors.Index("ts_code"), factors.Index("trade_date"), factors.Index("adj_factor")
	bc, bd := bars.Index("ts_code"), bars.Index("trade_date")
	if code < 0 || date < 0 || factor < 0 || bc < 0 || bd < 0 {
		return out
	}
	byKey := make(map[[2]string]string, factors.Len())
	for _, r := range factors.Rows {
		if r[factor] != "" {
			byKey[[2]string{r[code], r[date]}] = r[factor]
		}
	}
	for _, r := range bars.Rows {
		f, ok := byKey[[2]string{r[bc], r[bd]}]
		if !ok {
			continue
		}
		out.Append(append(append([]string(nil), r...), f)...)
	}
	return out
}

// IndexDaily serves daily index bars.
type IndexDaily struct{ c *Client }

func NewIndexDaily(c *Client) *IndexDaily { return &IndexDaily{c: c} }

func (d *IndexDaily) Name() string { return Name }

func (d *IndexDaily) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	return d.c.Query(ctx, "index_daily", rangeParams(u, "ts_code"), dailyFields)
}

// IndexWeight serves index constituent weights. Tushare publishes them
// monthly, so most windows hold a single snapshot.
type IndexWeight struct{ c *Client }

func NewIndexWeight(c *Client) *IndexWeight { return &IndexWeight{c: c} }

func (w *IndexWeight) Name() string { return Name }

func (w *IndexWeight) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	return w.c.Query(ctx, "index_weight", rangeParams(u, "index_code"), weightFields)
}

// TradeDays returns the open SSE dates in [start, end]. It makes the client a
// calendar source.
func (c *Client) TradeDays(ctx context.Context, start, end string) ([]string, error) {
	f, err := c.Query(ctx, "trade_cal", map[string]string{
		"exchange":   "SSE",
		"start_date": start,
		"end_date":   end,
		"is_open":    "1",
	}, []string{"cal_date", "is_open"})
	if err != nil {
		return nil, err
	}
	date, open := f.Index("cal_date"), f.Index("is_open")
	if date < 0 {
		return nil, fmt.Errorf("%w: trade_cal: no cal_date column", provider.ErrProvider)
	}
	days := make([]string, 0, f.Len())
	for _, r := range f.Rows {
		if open >= 0 && r[open] != "1" {
			continue
		}
		days = append(days, r[date])
	}
	return days, nil
}

// ListDate returns the date an index was first published.
func (c *Client) ListDate(ctx context.Context, code string) (string, error) {
	f, err := c.Query(ctx, "index_basic", map[string]string{"ts_code": code}, []string{"ts_code", "list_date"})
	if err != nil {
		return "", err
	}
	i := f.Index("list_date")
	if i < 0 || f.Empty() || f.Rows[0][i] == "" {
		return "", fmt.Errorf("%w: index_basic: no list date for %s", provider.ErrEmptyResult, code)
	}
	return f.Rows[0][i], nil
}

// Stocks lists currently listed stock codes.
func (c *Client) Stocks(ctx context.Context) ([]string, error) {
	f, err := c.Query(ctx, "stock_basic", map[string]string{"list_status": "L"}, []string{"ts_code"})
	if err != nil {
		return nil, err
	}
	i := f.Index("ts_code")
	if i < 0 {
		return nil, fmt.Errorf("%w: stock_basic: no ts_code column", provider.ErrProvider)
	}
	out := make([]string, 0, f.Len())
	for _, r := range f.Rows {
		out = append(out, r[i])
	}
	return out, nil
}
