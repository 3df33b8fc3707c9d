// Package quality audits the completeness and freshness of stored history.
package quality

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/cbdata/internal/calendar"
	"github.com/sells-group/cbdata/internal/model"
)

// Weights are the completeness weights of the key columns. They sum to 1.
// Columns outside this set do not affect the score.
var Weights = map[string]float64{
	model.FieldPrice:       0.30,
	model.FieldVolume:      0.20,
	model.FieldStockPrice:  0.20,
	model.FieldConvValue:   0.15,
	model.FieldPremiumRate: 0.15,
}

// Store is the persistence surface the auditor needs.
type Store interface {
	Totals(ctx context.Context) (bonds, rows int64, err error)
	DateRange(ctx context.Context) (model.DateRange, error)
	ColumnStats(ctx context.Context, tradeDate string) ([]model.ColumnStat, error)
	SaveQualityReport(ctx context.Context, r *model.QualityReport) error
}

// Auditor builds quality reports.
type Auditor struct {
	store   Store
	nowFunc func() time.Time
}

// New creates an Auditor.
func New(st Store) *Auditor {
	return &Auditor{store: st, nowFunc: time.Now}
}

// Audit computes a report. It never fails: a sub-score that cannot be
// computed is reported as 0 and its error recorded in the report.
func (a *Auditor) Audit(ctx context.Context) *model.QualityReport {
	log := zap.L().With(zap.String("component", "quality"))
	now := a.nowFunc()
	r := &model.QualityReport{
		ID:          uuid.New().String(),
		GeneratedAt: now.UTC(),
	}
	fail := func(what string, err error) {
		log.Error("quality sub-score failed", zap.String("part", what), zap.Error(err))
		r.Errors = append(r.Errors, what+": "+err.Error())
	}

	bonds, rows, err := a.store.Totals(ctx)
	if err != nil {
		fail("totals", err)
	}
	r.TotalBonds, r.TotalRecords = bonds, rows

	if dr, err := a.store.DateRange(ctx); err != nil {
		fail("date_range", err)
	} else {
		r.DateRange = dr
		if days, err := daysSince(dr.End, now); err != nil {
			fail("freshness", err)
		} else if dr.End != "" {
			r.DaysSinceUpdate = &days
			r.FreshnessScore = Freshness(days)
		}
	}

	if stats, err := a.store.ColumnStats(ctx, ""); err != nil {
		fail("completeness", err)
	} else {
		r.Columns = stats
		r.CompletenessScore = Completeness(stats, rows)
	}

	r.OverallScore = model.Round2(0.5*r.CompletenessScore + 0.5*r.FreshnessScore)
	log.Info("quality report generated",
		zap.Int64("bonds", r.TotalBonds),
		zap.Int64("rows", r.TotalRecords),
		zap.Float64("completeness", r.CompletenessScore),
		zap.Float64("freshness", r.FreshnessScore),
		zap.Float64("overall", r.OverallScore),
	)
	return r
}

// Run audits and appends the report to the store.
func (a *Auditor) Run(ctx context.Context) (*model.QualityReport, error) {
	r := a.Audit(ctx)
	if err := a.store.SaveQualityReport(ctx, r); err != nil {
		return r, eris.Wrap(err, "quality: save report")
	}
	return r, nil
}

// Completeness is (1 - Σ weight·missing_rate)·100 over the weighted columns,
// floored at 0. An empty table scores 0.
func Completeness(stats []model.ColumnStat, total int64) float64 {
	if total <= 0 {
		return 0
	}
	var weights, missing []float64
	for _, s := range stats {
		w, ok := Weights[s.Column]
		if !ok {
			continue
		}
		weights = append(weights, w)
		missing = append(missing, float64(s.NullCount)/float64(total))
	}
	if len(weights) == 0 {
		return 0
	}
	score := (1 - floats.Dot(weights, missing)) * 100
	return model.Round2(math.Max(0, score))
}

// Freshness scores the days since the latest stored trade date.
func Freshness(days int) float64 {
	switch {
	case days <= 1:
		return 100
	case days <= 3:
		return 90
	case days <= 7:
		return 80
	default:
		return math.Max(0, float64(80-(days-7)))
	}
}

func daysSince(date string, now time.Time) (int, error) {
	if date == "" {
		return 0, nil
	}
	d, err := time.Parse(calendar.DateLayout, date)
	if err != nil {
		return 0, eris.Wrapf(err, "quality: parse latest date %q", date)
	}
	today, _ := time.Parse(calendar.DateLayout, calendar.Today(now))
	return int(today.Sub(d).Hours() / 24), nil
}
