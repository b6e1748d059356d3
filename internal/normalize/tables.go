package normalize

// Alias maps a provider's native column name to a canonical one.
type Alias struct {
	From string
	To   string
}

// Mapping is the declarative column table of one provider. Earlier aliases win
// when several native columns target the same canonical column.
type Mapping []Alias

// Working column names. adj_factor never reaches the output; it only feeds
// adj_close.
const (
	colSymbol      = "symbol"
	colTradeDate   = "trade_date"
	colOpen        = "open"
	colHigh        = "high"
	colLow         = "low"
	colClose       = "close"
	colVolume      = "volume"
	colAdjClose    = "adj_close"
	colAmount      = "amount"
	colAdjFactor   = "adj_factor"
	colIndexCode   = "index_code"
	colConstituent = "constituent_code"
	colWeight      = "weight"
)

// Tushare covers daily, adj_factor, index_daily and index_weight payloads.
var Tushare = Mapping{
	{"ts_code", colSymbol},
	{"trade_date_x", colTradeDate},
	{"cal_date", colTradeDate},
	{"vol", colVolume},
	{"con_code", colConstituent},
}

// Eastmoney carries the akshare-style Chinese headers.
var Eastmoney = Mapping{
	{"代码", colSymbol},
	{"日期", colTradeDate},
	{"开盘", colOpen},
	{"收盘", colClose},
	{"最高", colHigh},
	{"最低", colLow},
	{"成交量", colVolume},
	{"成交额", colAmount},
}

// Yahoo matches the chart bar fields.
var Yahoo = Mapping{
	{"ticker", colSymbol},
	{"date", colTradeDate},
	{"asOfDate", colTradeDate},
	{"adjclose", colAdjClose},
}

// CSIndex matches the index weight export headers.
var CSIndex = Mapping{
	{"指数代码", colIndexCode},
	{"成分券代码", colConstituent},
	{"证券代码", colConstituent},
	{"权重(%)", colWeight},
	{"权重", colWeight},
	{"日期", colTradeDate},
}

// DefaultTables keys mapping tables by provider name.
func DefaultTables() map[string]Mapping {
	return map[string]Mapping{
		"tushare":   Tushare,
		"eastmoney": Eastmoney,
		"yahoo":     Yahoo,
		"csindex":   CSIndex,
	}
}
