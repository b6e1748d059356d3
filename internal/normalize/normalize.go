// Package normalize reshapes provider frames into canonical records.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"eoddump/internal/canonical"
	"eoddump/internal/provider"
)

// ErrSchemaMismatch is returned when required canonical columns cannot be produced.
var ErrSchemaMismatch = errors.New("schema mismatch")

var dateLayouts = []string{
	"20060102",
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Normalizer applies per-provider mapping tables.
type Normalizer struct {
	Tables map[string]Mapping
	Log    zerolog.Logger
}

// New returns a Normalizer with the built-in tables.
func New(log zerolog.Logger) *Normalizer {
	return &Normalizer{Tables: DefaultTables(), Log: log}
}

// Normalize maps f, as returned by the named provider for u, onto the canonical
// schema for u's capability. f is not modified. Rows with unusable numbers are
// dropped.
func (n *Normalizer) Normalize(providerName string, f *provider.Frame, u provider.Unit) ([]canonical.Record, error) {
	m, ok := n.Tables[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: no mapping for provider %q", ErrSchemaMismatch, providerName)
	}
	if f == nil {
		return nil, nil
	}
	cols := resolve(f.Columns, m)

	if u.Capability == provider.Weights {
		return n.weights(providerName, f, u, cols)
	}
	return n.prices(providerName, f, u, cols)
}

// resolve returns canonical column -> frame position. Native columns already
// carrying a canonical name map to themselves before aliases are considered.
func resolve(header []string, m Mapping) map[string]int {
	pos := make(map[string]int, len(header))
	at := make(map[string]int, len(header))
	for i, c := range header {
		at[strings.TrimSpace(c)] = i
	}
	for _, c := range []string{colSymbol, colTradeDate, colOpen, colHigh, colLow, colClose, colVolume,
		colAdjClose, colAmount, colAdjFactor, colIndexCode, colConstituent, colWeight} {
		if i, ok := at[c]; ok {
			pos[c] = i
		}
	}
	for _, a := range m {
		if _, done := pos[a.To]; done {
			continue
		}
		if i, ok := at[a.From]; ok {
			pos[a.To] = i
		}
	}
	return pos
}

func (n *Normalizer) prices(name string, f *provider.Frame, u provider.Unit, cols map[string]int) ([]canonical.Record, error) {
	if _, ok := cols[colTradeDate]; !ok {
		return nil, fmt.Errorf("%w: %s response has no date column", ErrSchemaMismatch, name)
	}
	_, hasSymbol := cols[colSymbol]
	if !hasSymbol && u.Code == "" {
		return nil, fmt.Errorf("%w: %s response has no symbol column", ErrSchemaMismatch, name)
	}

	out := make([]canonical.Record, 0, len(f.Rows))
	dropped := 0
	for _, row := range f.Rows {
		date, ok := tradeDate(cell(row, cols, colTradeDate))
		if !ok {
			dropped++
			continue
		}
		if date < u.Start || date > u.End {
			continue
		}
		symbol := u.Code
		if hasSymbol {
			symbol = strings.TrimSpace(cell(row, cols, colSymbol))
		}
		if symbol == "" {
			dropped++
			continue
		}

		p := canonical.Price{Symbol: symbol, TradeDate: date}
		fields := []struct {
			col string
			dst *decimal.NullDecimal
		}{
			{colOpen, &p.Open},
			{colHigh, &p.High},
			{colLow, &p.Low},
			{colClose, &p.Close},
			{colVolume, &p.Volume},
			{colAdjClose, &p.AdjClose},
			{colAmount, &p.Amount},
		}
		bad := false
		for _, fl := range fields {
			d, ok := number(cell(row, cols, fl.col))
			if !ok {
				bad = true
				break
			}
			*fl.dst = d
		}
		if bad {
			dropped++
			continue
		}

		if !p.AdjClose.Valid && p.Close.Valid {
			factor, ok := number(cell(row, cols, colAdjFactor))
			switch {
			case !ok:
				dropped++
				continue
			case factor.Valid:
				p.AdjClose = decimal.NewNullDecimal(p.Close.Decimal.Mul(factor.Decimal))
			default:
				// no adjustment factor: close stands in for adjusted close
				p.AdjClose = p.Close
			}
		}
		out = append(out, p)
	}
	if dropped > 0 {
		n.Log.Debug().Str("provider", name).Str("unit", u.Key()).Int("dropped", dropped).Msg("dropped unusable rows")
	}
	return out, nil
}

func (n *Normalizer) weights(name string, f *provider.Frame, u provider.Unit, cols map[string]int) ([]canonical.Record, error) {
	if _, ok := cols[colTradeDate]; !ok {
		return nil, fmt.Errorf("%w: %s response has no date column", ErrSchemaMismatch, name)
	}
	if _, ok := cols[colConstituent]; !ok {
		return nil, fmt.Errorf("%w: %s response has no constituent column", ErrSchemaMismatch, name)
	}
	_, hasIndex := cols[colIndexCode]
	if !hasIndex && u.Code == "" {
		return nil, fmt.Errorf("%w: %s response has no index column", ErrSchemaMismatch, name)
	}
	if _, ok := cols[colWeight]; !ok {
		return nil, fmt.Errorf("%w: %s response has no weight column", ErrSchemaMismatch, name)
	}

	hundred := decimal.NewFromInt(100)
	out := make([]canonical.Record, 0, len(f.Rows))
	dropped := 0
	for _, row := range f.Rows {
		date, ok := tradeDate(cell(row, cols, colTradeDate))
		if !ok {
			dropped++
			continue
		}
		if date < u.Start || date > u.End {
			continue
		}
		// the unit's code is venue qualified; provider index columns may not be
		index := u.Code
		if index == "" {
			index = strings.TrimSpace(cell(row, cols, colIndexCode))
		}
		con := strings.TrimSpace(cell(row, cols, colConstituent))
		w, ok := number(cell(row, cols, colWeight))
		if !ok || !w.Valid || con == "" || w.Decimal.GreaterThan(hundred) {
			dropped++
			continue
		}
		out = append(out, canonical.Weight{IndexCode: index, ConstituentCode: con, Weight: w.Decimal, TradeDate: date})
	}
	if dropped > 0 {
		n.Log.Debug().Str("provider", name).Str("unit", u.Key()).Int("dropped", dropped).Msg("dropped unusable rows")
	}
	return out, nil
}

func cell(row []string, cols map[string]int, col string) string {
	i, ok := cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// tradeDate formats any supported date representation as YYYYMMDD.
func tradeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("20060102"), true
		}
	}
	return "", false
}

// number parses a decimal cell. Blank and null markers are absent values;
// negatives and garbage are reported as not ok.
func number(s string) (decimal.NullDecimal, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "none", "null", "-":
		return decimal.NullDecimal{}, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(d), true
}
