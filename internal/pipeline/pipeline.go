// Package pipeline runs collection modes end to end and keeps the run log.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/archive"
	"github.com/sells-group/cbdata/internal/collector"
	"github.com/sells-group/cbdata/internal/config"
	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/quality"
	"github.com/sells-group/cbdata/internal/report"
	"github.com/sells-group/cbdata/internal/source"
	"github.com/sells-group/cbdata/internal/store"
)

// Mode selects which operations a run performs.
type Mode string

// Run modes.
const (
	ModeLatest     Mode = "latest"
	ModeHistorical Mode = "historical"
	ModeQuality    Mode = "quality"
	ModeFull       Mode = "full"
	ModeArchive    Mode = "archive"
)

// Modes lists every valid mode.
var Modes = []Mode{ModeLatest, ModeHistorical, ModeQuality, ModeFull, ModeArchive}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == strings.ToLower(strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", eris.Errorf("pipeline: unknown mode %q", s)
}

// Phase statuses.
const (
	PhaseComplete = "complete"
	PhaseFailed   = "failed"
)

// PhaseResult records one step of a run.
type PhaseResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Duration int64  `json:"duration_ms"`
	Rows     int64  `json:"rows"`
	Error    string `json:"error,omitempty"`
}

// LatestResult summarizes a snapshot refresh.
type LatestResult struct {
	Bonds        int    `json:"bonds"`
	BondInfoRows int64  `json:"bond_info_rows"`
	SnapshotRows int64  `json:"snapshot_rows"`
	Source       string `json:"source"`
}

// Statistics summarizes stored history.
type Statistics struct {
	TotalBonds   int64           `json:"total_bonds"`
	TotalRecords int64           `json:"total_records"`
	DateRange    model.DateRange `json:"date_range"`
	LastUpdate   string          `json:"last_update,omitempty"`
}

// RunResult is the structured outcome of a run. It doubles as the
// collection report artifact.
type RunResult struct {
	RunID       string               `json:"run_id"`
	Mode        Mode                 `json:"mode"`
	Status      model.RunStatus      `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Phases      []PhaseResult        `json:"phases"`
	RowsWritten int64                `json:"rows_written"`
	Latest      *LatestResult        `json:"latest,omitempty"`
	Historical  *collector.Stats     `json:"historical,omitempty"`
	Archive     *archive.Result      `json:"archive,omitempty"`
	Quality     *model.QualityReport `json:"quality,omitempty"`
	Statistics  *Statistics          `json:"statistics,omitempty"`
	Sources     *source.Report       `json:"sources,omitempty"`
}

// Pipeline wires the collection components together.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	registry  *source.Registry
	collector *collector.Collector
	archiver  *archive.Archiver
	auditor   *quality.Auditor
	reports   *report.Writer

	nowFunc func() time.Time
}

// New creates a Pipeline.
func New(
	cfg *config.Config,
	st store.Store,
	reg *source.Registry,
	c *collector.Collector,
	arch *archive.Archiver,
	aud *quality.Auditor,
	reports *report.Writer,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		collector: c,
		archiver:  arch,
		auditor:   aud,
		reports:   reports,
		nowFunc:   time.Now,
	}
}

// Run executes mode and records it in the run log. Phase failures do not
// stop later phases; the first one is returned as the run error.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (*RunResult, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("mode", string(mode)))
	log.Info("pipeline: starting run")

	result := &RunResult{Mode: mode, Status: model.RunStatusRunning, StartedAt: p.nowFunc().UTC()}

	runID, err := p.store.StartRun(ctx, string(mode))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start run")
	}
	result.RunID = runID

	p.registry.Load(ctx, p.store)

	var firstErr error
	trackPhase := func(name string, fn func() (int64, error)) {
		start := time.Now()
		rows, fnErr := fn()
		phase := PhaseResult{
			Name:     name,
			Status:   PhaseComplete,
			Duration: time.Since(start).Milliseconds(),
			Rows:     rows,
		}
		if fnErr != nil {
			phase.Status = PhaseFailed
			phase.Error = fnErr.Error()
			if firstErr == nil {
				firstErr = fnErr
			}
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", phase.Duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", phase.Duration),
				zap.Int64("rows", rows),
			)
		}
		result.RowsWritten += rows
		result.Phases = append(result.Phases, phase)
	}

	latest := func() (int64, error) {
		r, err := p.Latest(ctx)
		result.Latest = r
		if r == nil {
			return 0, err
		}
		return r.SnapshotRows, err
	}
	historical := func() (int64, error) {
		s, err := p.Historical(ctx)
		result.Historical = s
		if s == nil {
			return 0, err
		}
		return s.RowsWritten, err
	}
	archiveDay := func() (int64, error) {
		r, err := p.archiver.Run(ctx)
		result.Archive = r
		return r.RowsWritten(), err
	}
	audit := func() (int64, error) {
		q, err := p.Quality(ctx)
		result.Quality = q
		return 0, err
	}
	stats := func() (int64, error) {
		s, err := p.Statistics(ctx)
		result.Statistics = s
		return 0, err
	}

	switch mode {
	case ModeLatest:
		trackPhase("latest", latest)
	case ModeHistorical:
		trackPhase("historical", historical)
	case ModeQuality:
		trackPhase("quality", audit)
	case ModeArchive:
		trackPhase("archive", archiveDay)
	case ModeFull:
		trackPhase("historical", historical)
		trackPhase("archive", archiveDay)
		trackPhase("quality", audit)
		trackPhase("statistics", stats)
	default:
		firstErr = eris.Errorf("pipeline: unknown mode %q", mode)
	}

	if err := p.registry.Save(ctx, p.store); err != nil {
		log.Warn("pipeline: save source states failed", zap.Error(err))
	}
	sources := p.registry.StatusReport()
	result.Sources = &sources
	if _, err := p.reports.Write(ctx, report.SourceStatusFile, sources); err != nil {
		log.Warn("pipeline: write source status report failed", zap.Error(err))
	}

	result.FinishedAt = p.nowFunc().UTC()
	if firstErr != nil {
		result.Status = model.RunStatusFailed
	} else {
		result.Status = model.RunStatusComplete
	}

	if mode == ModeFull {
		if _, err := p.reports.Write(ctx, report.CollectionFile, result); err != nil {
			log.Warn("pipeline: write collection report failed", zap.Error(err))
		}
	}

	if firstErr != nil {
		if err := p.store.FailRun(ctx, runID, firstErr.Error()); err != nil {
			log.Warn("pipeline: mark run failed", zap.Error(err))
		}
		return result, firstErr
	}
	if err := p.store.CompleteRun(ctx, runID, result.RowsWritten, runMetadata(result)); err != nil {
		log.Warn("pipeline: mark run complete", zap.Error(err))
	}
	log.Info("pipeline: run complete",
		zap.String("run_id", runID),
		zap.Int64("rows_written", result.RowsWritten),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

// Latest refreshes the bond identity table and the latest-snapshot table.
func (p *Pipeline) Latest(ctx context.Context) (*LatestResult, error) {
	res := &LatestResult{}
	bonds, err := p.collector.BondList(ctx)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: bond list")
	}
	res.Bonds = len(bonds)
	if res.BondInfoRows, err = p.store.ReplaceBondInfo(ctx, bonds); err != nil {
		return res, eris.Wrap(err, "pipeline: save bond info")
	}

	snapshot, src, err := p.collector.Snapshot(ctx)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: snapshot")
	}
	res.Source = src
	if res.SnapshotRows, err = p.store.ReplaceLatest(ctx, snapshot); err != nil {
		return res, eris.Wrap(err, "pipeline: save snapshot")
	}
	return res, nil
}

// Historical collects the full history of every bond into the history table.
func (p *Pipeline) Historical(ctx context.Context) (*collector.Stats, error) {
	bonds, err := p.collector.BondList(ctx)
	if err != nil {
		zap.L().Warn("pipeline: upstream bond list unavailable, using stored identities",
			zap.String("component", "pipeline"), zap.Error(err))
		if bonds, err = p.store.BondInfos(ctx); err != nil {
			return nil, eris.Wrap(err, "pipeline: stored bond list")
		}
	}
	if len(bonds) == 0 {
		return nil, eris.New("pipeline: no bonds to collect")
	}
	if limit := p.cfg.Collect.BondLimit; limit > 0 && limit < len(bonds) {
		bonds = bonds[:limit]
	}

	stats := p.collector.CollectAll(ctx, bonds, func(ctx context.Context, _ model.BondInfo, rows []model.Record) (int64, error) {
		return p.store.Save(ctx, store.TableHistory, rows)
	})
	return &stats, nil
}

// Quality audits history and writes the quality artifact.
func (p *Pipeline) Quality(ctx context.Context) (*model.QualityReport, error) {
	r, err := p.auditor.Run(ctx)
	if _, werr := p.reports.Write(ctx, report.QualityFile, r); werr != nil && err == nil {
		err = werr
	}
	return r, err
}

// Statistics summarizes the history table.
func (p *Pipeline) Statistics(ctx context.Context) (*Statistics, error) {
	bonds, rows, err := p.store.Totals(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: totals")
	}
	dr, err := p.store.DateRange(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: date range")
	}
	return &Statistics{TotalBonds: bonds, TotalRecords: rows, DateRange: dr, LastUpdate: dr.End}, nil
}

func runMetadata(r *RunResult) map[string]any {
	phases := make(map[string]any, len(r.Phases))
	for _, ph := range r.Phases {
		phases[ph.Name] = map[string]any{"status": ph.Status, "rows": ph.Rows, "duration_ms": ph.Duration}
	}
	md := map[string]any{"phases": phases}
	if r.Archive != nil {
		md["trade_date"] = r.Archive.LatestTradingDay
		md["gap_dates"] = r.Archive.GapDates
	}
	if r.Historical != nil {
		md["bonds"] = r.Historical.Bonds
		md["failed"] = r.Historical.Failed
	}
	return md
}
