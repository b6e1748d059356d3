// Package yahoo serves daily bars from Yahoo Finance charts.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"

	"eoddump/internal/provider"
)

// Name is the provider name used in chains and mapping tables.
const Name = "yahoo"

// Columns of every frame this provider returns.
var Columns = []string{"ticker", "date", "open", "high", "low", "close", "volume", "adjclose"}

// shanghai is UTC+8 all year.
var shanghai = time.FixedZone("CST", 8*60*60)

// Bar is one daily chart bar.
type Bar struct {
	Time     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose decimal.Decimal
	Volume   int64
}

// BarSource loads bars for a Yahoo symbol in [start, end).
type BarSource func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)

// Universe lists the stock codes a market-wide daily unit covers.
type Universe interface {
	Stocks(ctx context.Context) ([]string, error)
}

type Provider struct {
	bars     BarSource
	universe Universe
}

// New builds the provider. A nil source uses the live chart API.
func New(bars BarSource, universe Universe) *Provider {
	if bars == nil {
		bars = ChartBars
	}
	return &Provider{bars: bars, universe: universe}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Fetch(ctx context.Context, u provider.Unit) (*provider.Frame, error) {
	start, err := time.ParseInLocation("20060102", u.Start, shanghai)
	if err != nil {
		return nil, fmt.Errorf("yahoo: start %q: %w", u.Start, err)
	}
	end, err := time.ParseInLocation("20060102", u.End, shanghai)
	if err != nil {
		return nil, fmt.Errorf("yahoo: end %q: %w", u.End, err)
	}
	end = end.AddDate(0, 0, 1)

	codes := []string{u.Code}
	if u.Code == "" {
		if p.universe == nil {
			return nil, fmt.Errorf("%w: yahoo: market-wide unit without a stock universe", provider.ErrProvider)
		}
		if codes, err = p.universe.Stocks(ctx); err != nil {
			return nil, fmt.Errorf("%w: yahoo: listing universe: %v", provider.ErrProvider, err)
		}
	}

	out := provider.NewFrame(Columns...)
	var firstErr error
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := p.bars(ctx, Ticker(code), start, end)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: yahoo %s: %v", provider.ErrProvider, code, err)
			}
			continue
		}
		for _, b := range bars {
			out.Append(
				code,
				b.Time.In(shanghai).Format("2006-01-02"),
				b.Open.String(),
				b.High.String(),
				b.Low.String(),
				b.Close.String(),
				fmt.Sprint(b.Volume),
				b.AdjClose.String(),
			)
		}
	}
	if out.Empty() && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Ticker maps an exchange-suffixed code to Yahoo's symbol. Shanghai listings
// use ".SS" on Yahoo.
func Ticker(code string) string {
	num, exch, ok := strings.Cut(code, ".")
	if !ok {
		return code
	}
	if strings.EqualFold(exch, "SH") {
		return num + ".SS"
	}
	return num + "." + strings.ToUpper(exch)
}

// ChartBars reads daily bars through the finance-go chart API. The library
// does not take a context, so cancellation is only checked between bars.
func ChartBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})
	var out []Bar
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := iter.Bar()
		out = append(out, Bar{
			Time:     time.Unix(int64(b.Timestamp), 0),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
