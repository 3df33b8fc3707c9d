// Package model defines the shared data types for convertible-bond collection.
package model

import (
	"math"
	"sort"
	"strings"
)

// Raw is an untyped table as returned by a provider, before normalization.
// Column names are provider-specific; Rows are positional and aligned with Columns.
type Raw struct {
	Source  string   `json:"source"`
	Dataset string   `json:"dataset"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (r *Raw) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Empty reports whether the table has no rows.
func (r *Raw) Empty() bool {
	return r.Len() == 0
}

// Record is one normalized row keyed by canonical field name.
// Values are float64, string, or nil.
type Record map[string]any

// Float returns the numeric value of key and whether it is non-null.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// FloatPtr returns the numeric value of key as a pointer, nil when null.
func (r Record) FloatPtr(key string) *float64 {
	v, ok := r.Float(key)
	if !ok {
		return nil
	}
	return &v
}

// Str returns the string value of key, or "" when absent.
func (r Record) Str(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// TradeDate returns the record's trade_date.
func (r Record) TradeDate() string {
	return r.Str(FieldTradeDate)
}

// BondCode returns the record's bond_code.
func (r Record) BondCode() string {
	return r.Str(FieldBondCode)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Columns returns the record keys in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// SortByTradeDate sorts records ascending by trade_date. Dates are
// YYYY-MM-DD so lexical order is chronological.
func SortByTradeDate(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TradeDate() < records[j].TradeDate()
	})
}

// UnionColumns returns the sorted union of keys across records.
func UnionColumns(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// MarketPrefixForBond returns the exchange prefix for a convertible-bond code:
// codes starting with 11 trade in Shanghai, 12 in Shenzhen.
func MarketPrefixForBond(code string) string {
	switch {
	case strings.HasPrefix(code, "11"):
		return "sh"
	case strings.HasPrefix(code, "12"):
		return "sz"
	default:
		return ""
	}
}

// MarketPrefixForStock returns the exchange prefix for an A-share stock code.
func MarketPrefixForStock(code string) string {
	switch {
	case strings.HasPrefix(code, "6"):
		return "sh"
	case strings.HasPrefix(code, "0"), strings.HasPrefix(code, "3"):
		return "sz"
	default:
		return ""
	}
}

// StripMarketPrefix removes a leading sh/sz exchange prefix.
func StripMarketPrefix(code string) string {
	lower := strings.ToLower(code)
	if strings.HasPrefix(lower, "sh") || strings.HasPrefix(lower, "sz") {
		return code[2:]
	}
	return code
}

// Round2 rounds v to two decimal places, halves away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
