package aggregate

import (
	"sort"

	"eoddump/internal/canonical"
)

// LastWins collapses records by Key keeping the last one seen, then orders the
// survivors by (TradeDate, Code). Input order decides which duplicate wins, so
// callers concatenate sub-window results oldest first.
func LastWins(recs []canonical.Record) []canonical.Record {
	latest := make(map[canonical.Key]int, len(recs))
	out := make([]canonical.Record, 0, len(recs))
	for _, r := range recs {
		k := r.Key()
		if i, ok := latest[k]; ok {
			out[i] = r
			continue
		}
		latest[k] = len(out)
		out = append(out, r)
	}
	Sort(out)
	return out
}

// Sort orders records by (TradeDate, Code).
func Sort(recs []canonical.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].Key(), recs[j].Key()
		if a.TradeDate != b.TradeDate {
			return a.TradeDate < b.TradeDate
		}
		return a.Code < b.Code
	})
}
