package normalize

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/cbdata/internal/model"
)

// LotsThreshold is the mean volume below which a series is assumed to be
// quoted in lots of 100 rather than in shares. The cut-off is a heuristic:
// a genuinely thin series in shares would be scaled wrongly.
const LotsThreshold = 1_000_000

// LotSize is the number of shares in one lot.
const LotSize = 100

// Normalize maps a provider table onto canonical records using m.
// Only canonical fields survive. Numeric fields become float64 or nil,
// date fields become YYYY-MM-DD, and text is trimmed. When a required field
// is not among the mapped columns the result is empty.
func Normalize(raw *model.Raw, m Mapping) []model.Record {
	if raw.Empty() {
		return nil
	}
	log := zap.L().With(
		zap.String("component", "normalize"),
		zap.String("source", raw.Source),
		zap.String("dataset", raw.Dataset),
	)

	// Resolve each raw column to a canonical field once.
	targets := make([]string, len(raw.Columns))
	present := make(map[string]bool)
	for i, col := range raw.Columns {
		target, ok := m.Columns[col]
		if !ok && model.IsCanonical(col) {
			target, ok = col, true
		}
		if !ok {
			continue
		}
		if present[target] {
			// First matching column wins for duplicate targets.
			continue
		}
		targets[i] = target
		present[target] = true
	}

	for _, req := range m.Require {
		if !present[req] {
			log.Error("required field missing from provider table",
				zap.String("field", req),
				zap.Strings("columns", raw.Columns),
			)
			return nil
		}
	}

	strip := make(map[string]bool, len(m.StripPrefix))
	for _, f := range m.StripPrefix {
		strip[f] = true
	}

	out := make([]model.Record, 0, len(raw.Rows))
	dropped := 0
	for _, row := range raw.Rows {
		rec := make(model.Record, len(present))
		for i, target := range targets {
			if target == "" {
				continue
			}
			var cell any
			if i < len(row) {
				cell = row[i]
			}
			rec[target] = coerce(target, cell)
			if strip[target] {
				if s, ok := rec[target].(string); ok {
					rec[target] = model.StripMarketPrefix(s)
				}
			}
		}
		if !hasRequired(rec, m.Require) {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	if dropped > 0 {
		log.Debug("dropped rows with empty required fields", zap.Int("dropped", dropped))
	}

	if m.VolumeLots && present[model.FieldVolume] {
		ScaleLots(out)
	}
	return out
}

// NormalizeWith looks up the mapping for raw in t and applies it. Tables
// without a mapping yield no records.
func NormalizeWith(t *Table, raw *model.Raw) []model.Record {
	if raw.Empty() {
		return nil
	}
	m, ok := t.Lookup(raw.Source, raw.Dataset)
	if !ok {
		zap.L().Error("no field mapping for provider dataset",
			zap.String("component", "normalize"),
			zap.String("source", raw.Source),
			zap.String("dataset", raw.Dataset),
		)
		return nil
	}
	return Normalize(raw, m)
}

// ScaleLots converts volume from lots to shares when the mean non-null
// volume is below LotsThreshold. It reports whether scaling was applied.
func ScaleLots(records []model.Record) bool {
	var vols []float64
	for _, r := range records {
		if v, ok := r.Float(model.FieldVolume); ok {
			vols = append(vols, v)
		}
	}
	if len(vols) == 0 || stat.Mean(vols, nil) >= LotsThreshold {
		return false
	}
	for _, r := range records {
		if v, ok := r.Float(model.FieldVolume); ok {
			r[model.FieldVolume] = v * LotSize
		}
	}
	return true
}

func coerce(field string, v any) any {
	switch {
	case model.NumericFields[field]:
		return toFloat(v)
	case model.DateFields[field]:
		return toDate(v)
	default:
		return toText(v)
	}
}

func hasRequired(r model.Record, fields []string) bool {
	for _, f := range fields {
		if r[f] == nil {
			return false
		}
	}
	return true
}
