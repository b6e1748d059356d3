// Package canonical holds the normalized row shapes every provider response is
// reshaped into.
package canonical

import (
	"github.com/shopspring/decimal"
)

// Kind selects a canonical schema.
type Kind int

const (
	KindPrice Kind = iota
	KindWeight
)

func (k Kind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindWeight:
		return "weight"
	}
	return "unknown"
}

// Canonical column names, in output order.
var (
	PriceColumns  = []string{"symbol", "trade_date", "open", "high", "low", "close", "volume", "adj_close", "amount"}
	WeightColumns = []string{"index_code", "constituent_code", "weight", "trade_date"}
)

// Columns returns a copy of the column list for k.
func Columns(k Kind) []string {
	if k == KindWeight {
		return append([]string(nil), WeightColumns...)
	}
	return append([]string(nil), PriceColumns...)
}

// Key identifies a record for de-duplication.
type Key struct {
	Code      string
	TradeDate string
}

// Record is a canonical row.
type Record interface {
	Kind() Kind
	Key() Key
	// Values renders the row in Columns(Kind()) order; absent decimals are "".
	Values() []string
}

// Price is one end-of-day bar for a stock or index.
type Price struct {
	Symbol    string
	TradeDate string
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    decimal.NullDecimal
	AdjClose  decimal.NullDecimal
	Amount    decimal.NullDecimal
}

func (p Price) Kind() Kind { return KindPrice }
func (p Price) Key() Key   { return Key{Code: p.Symbol, TradeDate: p.TradeDate} }

func (p Price) Values() []string {
	return []string{
		p.Symbol,
		p.TradeDate,
		str(p.Open),
		str(p.High),
		str(p.Low),
		str(p.Close),
		str(p.Volume),
		str(p.AdjClose),
		str(p.Amount),
	}
}

// Weight is one constituent's weight in an index on a date, in percent.
type Weight struct {
	IndexCode       string
	ConstituentCode string
	Weight          decimal.Decimal
	TradeDate       string
}

func (w Weight) Kind() Kind { return KindWeight }
func (w Weight) Key() Key   { return Key{Code: w.ConstituentCode, TradeDate: w.TradeDate} }

func (w Weight) Values() []string {
	return []string{w.IndexCode, w.ConstituentCode, w.Weight.String(), w.TradeDate}
}

func str(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
