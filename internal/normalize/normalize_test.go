package normalize

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"eoddump/internal/canonical"
	"eoddump/internal/provider"
)

func newNormalizer() *Normalizer { return New(zerolog.Nop()) }

func TestNormalize_TushareAdjFactor_5000Symbols(t *testing.T) {
	f := provider.NewFrame("ts_code", "trade_date", "open", "high", "low", "close", "pre_close", "vol", "amount", "adj_factor")
	for i := 0; i < 5000; i++ {
		f.Append(fmt.Sprintf("%06d.SZ", i), "20240105", "10.1", "10.5", "9.9", "10.2", "10.0", "12345.6", "99999.9", "1.25")
	}

	rows, err := newNormalizer().Normalize("tushare", f, provider.Day("20240105"))
	require.NoError(t, err)
	require.Len(t, rows, 5000)

	want := decimal.RequireFromString("10.2").Mul(decimal.RequireFromString("1.25"))
	for _, r := range rows {
		p := r.(canonical.Price)
		require.True(t, p.AdjClose.Valid)
		require.True(t, want.Equal(p.AdjClose.Decimal), "adj_close %s", p.AdjClose.Decimal)
		require.Equal(t, "20240105", p.TradeDate)
	}
}

func TestNormalize_EastmoneyChineseHeaders_AdjCloseFallsBackToClose(t *testing.T) {
	f := provider.NewFrame("日期", "开盘", "收盘", "最高", "最低", "成交量", "成交额", "代码")
	f.Append("2024-01-05", "6.60", "6.62", "6.66", "6.58", "354326", "234334672.00", "600000.SH")
	f.Append("2024-01-05", "9.10", "9.20", "9.30", "9.00", "1000", "9200", "000001.SZ")

	rows, err := newNormalizer().Normalize("eastmoney", f, provider.Day("20240105"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	p := rows[0].(canonical.Price)
	require.Equal(t, "600000.SH", p.Symbol)
	require.Equal(t, "20240105", p.TradeDate)
	require.True(t, p.Close.Decimal.Equal(p.AdjClose.Decimal))
	require.Equal(t, []string{"600000.SH", "20240105", "6.6", "6.66", "6.58", "6.62", "354326", "6.62", "234334672"}, p.Values())
}

func TestNormalize_ColumnsAreCanonicalForEveryProvider(t *testing.T) {
	cases := []struct {
		name  string
		frame *provider.Frame
		unit  provider.Unit
	}{
		{
			name: "tushare",
			frame: func() *provider.Frame {
				f := provider.NewFrame("adj_factor", "close", "ts_code", "trade_date", "vol", "extra")
				f.Append("2", "3", "000001.SZ", "20240105", "7", "x")
				return f
			}(),
			unit: provider.Day("20240105"),
		},
		{
			name: "yahoo",
			frame: func() *provider.Frame {
				f := provider.NewFrame("date", "open", "high", "low", "close", "volume", "adjclose")
				f.Append("2024-01-05", "1", "2", "0.5", "1.5", "100", "1.4")
				return f
			}(),
			unit: provider.Unit{Capability: provider.IndexPrices, Code: "000905.SH", Start: "20240101", End: "20240110"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := newNormalizer().Normalize(tc.name, tc.frame, tc.unit)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			require.Equal(t, canonical.KindPrice, rows[0].Kind())
			require.Len(t, rows[0].Values(), len(canonical.PriceColumns))
		})
	}
}

func TestNormalize_SymbolFromUnitContext(t *testing.T) {
	f := provider.NewFrame("date", "open", "high", "low", "close", "volume", "adjclose")
	f.Append("2024-01-04", "1", "2", "0.5", "1.5", "100", "1.4")
	f.Append("2024-01-12", "1", "2", "0.5", "1.5", "100", "1.4")

	u := provider.Unit{Capability: provider.IndexPrices, Code: "399300.SZ", Start: "20240101", End: "20240110"}
	rows, err := newNormalizer().Normalize("yahoo", f, u)
	require.NoError(t, err)
	require.Len(t, rows, 1, "rows outside the unit window are filtered")

	p := rows[0].(canonical.Price)
	require.Equal(t, "399300.SZ", p.Symbol)
	require.Equal(t, "1.4", p.AdjClose.Decimal.String())
}

func TestNormalize_SchemaMismatch(t *testing.T) {
	n := newNormalizer()

	noDate := provider.NewFrame("ts_code", "close")
	noDate.Append("000001.SZ", "1")
	_, err := n.Normalize("tushare", noDate, provider.Day("20240105"))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	noSymbol := provider.NewFrame("trade_date", "close")
	noSymbol.Append("20240105", "1")
	_, err = n.Normalize("tushare", noSymbol, provider.Day("20240105"))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = n.Normalize("unknown", noSymbol, provider.Day("20240105"))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestNormalize_DropsNegativeAndGarbage(t *testing.T) {
	f := provider.NewFrame("ts_code", "trade_date", "close", "vol")
	f.Append("A.SZ", "20240105", "-1", "1")
	f.Append("B.SZ", "20240105", "abc", "1")
	f.Append("C.SZ", "20240105", "2", "")
	f.Append("D.SZ", "notadate", "2", "1")

	rows, err := newNormalizer().Normalize("tushare", f, provider.Day("20240105"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p := rows[0].(canonical.Price)
	require.Equal(t, "C.SZ", p.Symbol)
	require.False(t, p.Volume.Valid)
	require.False(t, p.Open.Valid)
	require.Equal(t, "", p.Values()[2])
}

func TestNormalize_DoesNotMutateFrame(t *testing.T) {
	f := provider.NewFrame("日期", "收盘", "代码")
	f.Append("2024-01-05", "1.5", "600000.SH")
	before := provider.Frame{Columns: append([]string(nil), f.Columns...), Rows: [][]string{append([]string(nil), f.Rows[0]...)}}

	_, err := newNormalizer().Normalize("eastmoney", f, provider.Day("20240105"))
	require.NoError(t, err)
	require.Equal(t, before.Columns, f.Columns)
	require.Equal(t, before.Rows, f.Rows)
}

func TestNormalize_Weights(t *testing.T) {
	n := newNormalizer()
	u := provider.Unit{Capability: provider.Weights, Code: "000905.SH", Start: "20240101", End: "20240131"}

	ts := provider.NewFrame("index_code", "con_code", "trade_date", "weight")
	ts.Append("000905.SH", "600000.SH", "20240102", "0.51")
	ts.Append("000905.SH", "000001.SZ", "20240102", "-0.1")
	ts.Append("000905.SH", "000002.SZ", "20240102", "101")
	ts.Append("000905.SH", "000003.SZ", "20231229", "1")

	rows, err := n.Normalize("tushare", ts, u)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, canonical.KindWeight, rows[0].Kind())
	require.Equal(t, []string{"000905.SH", "600000.SH", "0.51", "20240102"}, rows[0].Values())

	csi := provider.NewFrame("指数代码", "成分券代码", "权重(%)", "日期")
	csi.Append("000905", "600519.SH", "3.2", "20240131")
	rows, err = n.Normalize("csindex", csi, u)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	w := rows[0].(canonical.Weight)
	require.Equal(t, "000905.SH", w.IndexCode)
	require.Equal(t, canonical.Key{Code: "600519.SH", TradeDate: "20240131"}, w.Key())

	noWeight := provider.NewFrame("con_code", "trade_date")
	noWeight.Append("600000.SH", "20240102")
	_, err = n.Normalize("tushare", noWeight, u)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestTradeDateLayouts(t *testing.T) {
	for in, want := range map[string]string{
		"20240105":             "20240105",
		"2024-01-05":           "20240105",
		"2024/01/05":           "20240105",
		"2024-01-05 00:00:00":  "20240105",
		"2024-01-05T00:00:00Z": "20240105",
	} {
		got, ok := tradeDate(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	_, ok := tradeDate("Jan 5")
	require.False(t, ok)
}
