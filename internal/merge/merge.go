// Package merge combines the per-bond series collected from independent
// providers into one history.
package merge

import (
	"github.com/sells-group/cbdata/internal/model"
)

// Merge builds the history of one bond from its primary price series, its
// valuation series, and the underlying stock's series. Primary values win
// over valuation values; valuation only fills a null primary price. Rows are
// returned ascending by trade_date with derived metrics computed.
func Merge(primary, valuation, stock []model.Record, info model.BondInfo) []model.Record {
	if len(primary) == 0 && len(valuation) == 0 {
		return nil
	}

	var base []model.Record
	if len(primary) > 0 {
		base = cloneSorted(primary)
		if len(valuation) > 0 {
			joinValuation(base, valuation)
		}
	} else {
		base = cloneSorted(valuation)
		for _, r := range base {
			if _, ok := r[model.FieldPrice]; !ok || r[model.FieldPrice] == nil {
				r[model.FieldPrice] = r[model.FieldPriceVal]
			}
			delete(r, model.FieldPriceVal)
		}
	}

	broadcast(base, info)

	if len(stock) > 0 {
		joinStock(base, stock)
	}

	Derive(base)
	return base
}

// joinValuation left-joins valuation rows onto base by trade_date. Existing
// non-null base values are kept; price falls back to the valuation close.
func joinValuation(base, valuation []model.Record) {
	byDate := indexByDate(valuation)
	for _, r := range base {
		v, ok := byDate[r.TradeDate()]
		if !ok {
			continue
		}
		for k, val := range v {
			if k == model.FieldTradeDate || k == model.FieldPriceVal {
				continue
			}
			if existing, present := r[k]; !present || existing == nil {
				r[k] = val
			}
		}
		if r[model.FieldPrice] == nil {
			r[model.FieldPrice] = v[model.FieldPriceVal]
		}
	}
	for _, r := range base {
		delete(r, model.FieldPriceVal)
	}
}

// joinStock left-joins stock rows onto base by trade_date. Only stock
// fields are copied so bond values are never overwritten.
func joinStock(base, stock []model.Record) {
	byDate := indexByDate(stock)
	for _, r := range base {
		s, ok := byDate[r.TradeDate()]
		if !ok {
			continue
		}
		for _, k := range []string{model.FieldStockPrice, model.FieldStockChgPct} {
			if val, present := s[k]; present {
				r[k] = val
			}
		}
	}
}

func broadcast(rows []model.Record, info model.BondInfo) {
	ident := map[string]string{
		model.FieldBondCode:  info.BondCode,
		model.FieldBondName:  info.BondName,
		model.FieldStockCode: info.StockCode,
		model.FieldStockName: info.StockName,
	}
	for _, r := range rows {
		for k, v := range ident {
			if v != "" {
				r[k] = v
			}
		}
	}
}

// Derive computes price_chg_pct and double_low on rows already sorted
// ascending by trade_date. price_chg_pct compares against the previous
// non-null price and is null for the first row, a null price, or a zero
// prior price. double_low is price + premium_rate.
func Derive(rows []model.Record) {
	var prev *float64
	for i, r := range rows {
		price, hasPrice := r.Float(model.FieldPrice)
		switch {
		case i == 0 || !hasPrice || prev == nil || *prev == 0:
			r[model.FieldPriceChgPct] = nil
		default:
			r[model.FieldPriceChgPct] = (price/(*prev) - 1) * 100
		}
		if hasPrice {
			p := price
			prev = &p
		}

		premium, hasPremium := r.Float(model.FieldPremiumRate)
		if hasPrice && hasPremium {
			r[model.FieldDoubleLow] = price + premium
		} else {
			r[model.FieldDoubleLow] = nil
		}
	}
}

func indexByDate(rows []model.Record) map[string]model.Record {
	out := make(map[string]model.Record, len(rows))
	for _, r := range rows {
		d := r.TradeDate()
		if d == "" {
			continue
		}
		if _, dup := out[d]; !dup {
			out[d] = r
		}
	}
	return out
}

func cloneSorted(rows []model.Record) []model.Record {
	out := make([]model.Record, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		d := r.TradeDate()
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, r.Clone())
	}
	model.SortByTradeDate(out)
	return out
}

// FillDoubleLow sets double_low to price + premium_rate on snapshot rows
// that lack it. Existing values are kept.
func FillDoubleLow(rows []model.Record) {
	for _, r := range rows {
		if _, ok := r.Float(model.FieldDoubleLow); ok {
			continue
		}
		price, hasPrice := r.Float(model.FieldPrice)
		premium, hasPremium := r.Float(model.FieldPremiumRate)
		if hasPrice && hasPremium {
			r[model.FieldDoubleLow] = price + premium
		}
	}
}
