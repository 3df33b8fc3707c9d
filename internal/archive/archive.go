// Package archive keeps the daily history table continuous: it backfills
// missed trading days, archives today's snapshot, and fills static fields.
package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/calendar"
	"github.com/sells-group/cbdata/internal/collector"
	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/store"
)

// State is a step of an archive run.
type State string

// Archive run states, in execution order.
const (
	StateIdle                 State = "idle"
	StateDeterminingLatestDay State = "determining_latest_trading_day"
	StateBackfillingGaps      State = "backfilling_gaps"
	StateArchivingToday       State = "archiving_today"
	StateBackfillingStatic    State = "backfilling_static_fields"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Store is the persistence surface the archiver needs.
type Store interface {
	LatestTradeDate(ctx context.Context) (string, error)
	Save(ctx context.Context, table string, rows []model.Record) (int64, error)
	ReplaceLatest(ctx context.Context, rows []model.Record) (int64, error)
	ReplaceBondInfo(ctx context.Context, infos []model.BondInfo) (int64, error)
	ArchiveDay(ctx context.Context, tradeDate string, rows []model.Record) (int64, error)
	BackfillStatic(ctx context.Context, snapshot []model.Record) (int64, error)
}

// Result describes one archive run. Rows persisted before a failure stay
// persisted and are still counted here.
type Result struct {
	State            State     `json:"state"`
	FailedIn         State     `json:"failed_in,omitempty"`
	Today            string    `json:"today"`
	LatestTradingDay string    `json:"latest_trading_day,omitempty"`
	LastStoredDate   string    `json:"last_stored_date,omitempty"`
	GapDates         []string  `json:"gap_dates,omitempty"`
	FilledDates      []string  `json:"filled_dates,omitempty"`
	MissingDates     []string  `json:"missing_dates,omitempty"`
	GapRows          int64     `json:"gap_rows"`
	ArchivedRows     int64     `json:"archived_rows"`
	StaticUpdates    int64     `json:"static_updates"`
	SnapshotSource   string    `json:"snapshot_source,omitempty"`
	Errors           []string  `json:"errors,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// RowsWritten is the total number of history rows inserted or updated.
func (r *Result) RowsWritten() int64 {
	return r.GapRows + r.ArchivedRows + r.StaticUpdates
}

// Archiver runs the daily archive state machine.
type Archiver struct {
	store     Store
	collector *collector.Collector
	cal       calendar.Calendar

	nowFunc func() time.Time
}

// New creates an Archiver.
func New(st Store, c *collector.Collector, cal calendar.Calendar) *Archiver {
	return &Archiver{
		store:     st,
		collector: c,
		cal:       cal,
		nowFunc:   time.Now,
	}
}

// Run executes one archive pass. The returned Result is always non-nil;
// err is set when the run ends in StateFailed.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "archive"))
	now := a.nowFunc()
	res := &Result{State: StateIdle, Today: calendar.Today(now), StartedAt: now.UTC()}

	fail := func(err error) (*Result, error) {
		res.FailedIn = res.State
		res.State = StateFailed
		res.Errors = append(res.Errors, err.Error())
		res.FinishedAt = a.nowFunc().UTC()
		log.Error("archive failed", zap.String("state", string(res.FailedIn)), zap.Error(err))
		return res, err
	}

	res.State = StateDeterminingLatestDay
	days, err := a.cal.TradingDays(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "archive: trading calendar unavailable"))
	}
	res.LatestTradingDay = calendar.LatestOnOrBefore(days, res.Today)
	if res.LatestTradingDay == "" {
		return fail(eris.Errorf("archive: no trading day on or before %s", res.Today))
	}
	log.Info("latest trading day determined",
		zap.String("today", res.Today),
		zap.String("trade_date", res.LatestTradingDay),
	)

	res.State = StateBackfillingGaps
	last, err := a.store.LatestTradeDate(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "archive: read last stored date"))
	}
	res.LastStoredDate = last
	res.GapDates = Gaps(days, last, res.Today, res.LatestTradingDay)
	if last == "" {
		log.Warn("history is empty, skipping gap backfill")
	}
	if len(res.GapDates) > 0 {
		if err := a.backfillGaps(ctx, res); err != nil {
			return fail(err)
		}
	}

	res.State = StateArchivingToday
	snapshot, src, err := a.collector.Snapshot(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "archive: collect snapshot"))
	}
	res.SnapshotSource = src
	if _, err := a.store.ReplaceBondInfo(ctx, collector.Infos(snapshot)); err != nil {
		log.Error("refresh bond info failed", zap.Error(err))
		res.Errors = append(res.Errors, err.Error())
	}
	if _, err := a.store.ReplaceLatest(ctx, snapshot); err != nil {
		log.Error("refresh latest snapshot failed", zap.Error(err))
		res.Errors = append(res.Errors, err.Error())
	}
	n, err := a.store.ArchiveDay(ctx, res.LatestTradingDay, snapshot)
	if err != nil {
		return fail(eris.Wrapf(err, "archive: archive %s", res.LatestTradingDay))
	}
	res.ArchivedRows = n
	log.Info("snapshot archived",
		zap.String("trade_date", res.LatestTradingDay),
		zap.String("source", src),
		zap.Int64("rows", n),
	)

	res.State = StateBackfillingStatic
	updated, err := a.store.BackfillStatic(ctx, snapshot)
	if err != nil {
		return fail(eris.Wrap(err, "archive: backfill static fields"))
	}
	res.StaticUpdates = updated

	res.State = StateDone
	res.FinishedAt = a.nowFunc().UTC()
	log.Info("archive complete",
		zap.Strings("filled_dates", res.FilledDates),
		zap.Strings("missing_dates", res.MissingDates),
		zap.Int64("gap_rows", res.GapRows),
		zap.Int64("archived_rows", res.ArchivedRows),
		zap.Int64("static_updates", res.StaticUpdates),
	)
	return res, nil
}

// backfillGaps collects each bond once and keeps only rows on gap dates.
func (a *Archiver) backfillGaps(ctx context.Context, res *Result) error {
	log := zap.L().With(zap.String("component", "archive"))
	bonds, err := a.collector.BondList(ctx)
	if err != nil {
		return eris.Wrap(err, "archive: bond list for gap backfill")
	}
	log.Info("backfilling gaps",
		zap.Strings("dates", res.GapDates),
		zap.Int("bonds", len(bonds)),
	)

	gaps := make(map[string]bool, len(res.GapDates))
	for _, d := range res.GapDates {
		gaps[d] = true
	}
	var (
		mu      sync.Mutex
		matched = make(map[string]int)
	)
	stats := a.collector.CollectAll(ctx, bonds, func(ctx context.Context, info model.BondInfo, rows []model.Record) (int64, error) {
		var keep []model.Record
		for _, r := range rows {
			if gaps[r.TradeDate()] {
				keep = append(keep, r)
			}
		}
		if len(keep) == 0 {
			return 0, nil
		}
		n, err := a.store.Save(ctx, store.TableHistory, keep)
		if err != nil {
			return 0, err
		}
		mu.Lock()
		for _, r := range keep {
			matched[r.TradeDate()]++
		}
		mu.Unlock()
		return n, nil
	})

	res.GapRows = stats.RowsWritten
	res.Errors = append(res.Errors, stats.Errors...)
	for _, d := range res.GapDates {
		if matched[d] > 0 {
			res.FilledDates = append(res.FilledDates, d)
			continue
		}
		res.MissingDates = append(res.MissingDates, d)
		log.Warn("no data recovered for gap date", zap.String("trade_date", d))
	}
	return nil
}

// Gaps returns the trading days after lastStored through today, excluding
// latest, which the archive step writes. Empty history has no gaps.
func Gaps(days []string, lastStored, today, latest string) []string {
	if lastStored == "" {
		return nil
	}
	var out []string
	for _, d := range calendar.Between(days, lastStored, today) {
		if d != latest {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}
