package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cbdata/internal/calendar"
	"github.com/sells-group/cbdata/internal/model"
)

// MetricsSnapshot holds a point-in-time view of collection health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`
	LastFailure  string  `json:"last_failure,omitempty"`

	// Sources that are neither active nor in maintenance.
	DownSources []string `json:"down_sources,omitempty"`

	// Latest quality audit, nil when none has run.
	QualityScore *float64 `json:"quality_score,omitempty"`

	// Data freshness. StaleDays is -1 when history is empty.
	LatestTradeDate string `json:"latest_trade_date,omitempty"`
	StaleDays       int    `json:"stale_days"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Store is the subset of the store the collector reads.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	LoadSourceStates(ctx context.Context) ([]model.SourceState, error)
	LatestQualityReport(ctx context.Context) (*model.QualityReport, error)
	LatestTradeDate(ctx context.Context) (string, error)
}

// Collector gathers health metrics from the store.
type Collector struct {
	store   Store
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Store) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect gathers a snapshot of collection health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		StaleDays:     -1,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
			// Runs are listed newest first.
			if snap.LastFailure == "" {
				snap.LastFailure = r.Error
			}
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	states, err := c.store.LoadSourceStates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load source states")
	}
	for _, s := range states {
		if s.Status != "active" && s.Status != "maintenance" {
			snap.DownSources = append(snap.DownSources, s.ID)
		}
	}
	sort.Strings(snap.DownSources)

	report, err := c.store.LatestQualityReport(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest quality report")
	}
	if report != nil {
		score := report.OverallScore
		snap.QualityScore = &score
	}

	latest, err := c.store.LatestTradeDate(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest trade date")
	}
	if latest != "" {
		snap.LatestTradeDate = latest
		if d, err := time.Parse(calendar.DateLayout, latest); err == nil {
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			snap.StaleDays = int(today.Sub(d).Hours() / 24)
		}
	}

	return snap, nil
}
