// Package collector fetches, normalizes, and merges bond data across
// prioritized sources.
package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cbdata/internal/merge"
	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/normalize"
	"github.com/sells-group/cbdata/internal/provider"
	"github.com/sells-group/cbdata/internal/resilience"
	"github.com/sells-group/cbdata/internal/source"
)

// DefaultWorkers is the per-bond pool size.
const DefaultWorkers = 5

// maxReportedErrors caps the error messages kept in Stats.
const maxReportedErrors = 50

// Options configures a Collector.
type Options struct {
	Workers int
	Retry   resilience.RetryConfig
	// HistoryStart bounds history requests (YYYY-MM-DD); empty means all.
	HistoryStart string
}

// Collector runs provider calls with fallback across sources.
type Collector struct {
	registry  *source.Registry
	providers *provider.Set
	mappings  *normalize.Table
	opts      Options

	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Collector.
func New(reg *source.Registry, providers *provider.Set, mappings *normalize.Table, opts Options) *Collector {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Collector{
		registry:  reg,
		providers: providers,
		mappings:  mappings,
		opts:      opts,
		sleep:     sleepCtx,
	}
}

// Snapshot returns the latest cross-sectional snapshot from the first active
// source that serves one. Missing double_low values are derived.
func (c *Collector) Snapshot(ctx context.Context) ([]model.Record, string, error) {
	recs, src := c.fetch(ctx, c.registry.ListActiveByPriority(), provider.DatasetSnapshot, nil, "snapshot")
	if len(recs) == 0 {
		return nil, "", eris.New("collector: no source returned a snapshot")
	}
	recs = dedupeByCode(recs)
	merge.FillDoubleLow(recs)
	return recs, src, nil
}

// BondList returns every known bond identity. It prefers a dedicated bond
// list and falls back to the identities in the latest snapshot.
func (c *Collector) BondList(ctx context.Context) ([]model.BondInfo, error) {
	recs, _ := c.fetch(ctx, c.registry.ListActiveByPriority(), provider.DatasetBondList, nil, "bond_list")
	if len(recs) == 0 {
		snap, _, err := c.Snapshot(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "collector: bond list")
		}
		recs = snap
	}
	return Infos(recs), nil
}

// Infos extracts unique bond identities ordered by bond code.
func Infos(recs []model.Record) []model.BondInfo {
	seen := make(map[string]bool, len(recs))
	var out []model.BondInfo
	for _, r := range recs {
		info := model.BondInfoFromRecord(r)
		if info.BondCode == "" || seen[info.BondCode] {
			continue
		}
		seen[info.BondCode] = true
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BondCode < out[j].BondCode })
	return out
}

// BondResult is the outcome of collecting one bond.
type BondResult struct {
	BondCode string
	Rows     []model.Record
	// Sources maps each dataset to the source that served it.
	Sources map[provider.Dataset]string
}

// CollectBond fetches the valuation, price, and underlying stock series of
// one bond and merges them. sources must already be in priority order.
func (c *Collector) CollectBond(ctx context.Context, info model.BondInfo, sources []source.Source) BondResult {
	res := BondResult{BondCode: info.BondCode, Sources: make(map[provider.Dataset]string)}
	params := map[string]string{provider.ParamSymbol: info.BondCode}
	if c.opts.HistoryStart != "" {
		params[provider.ParamStart] = c.opts.HistoryStart
	}

	valuation, src := c.fetch(ctx, sources, provider.DatasetValueAnalysis, params, info.BondCode)
	if src != "" {
		res.Sources[provider.DatasetValueAnalysis] = src
	}
	primary, src := c.fetch(ctx, sources, provider.DatasetBondHistory, params, info.BondCode)
	if src != "" {
		res.Sources[provider.DatasetBondHistory] = src
	}

	var stock []model.Record
	if info.StockCode != "" {
		stockParams := map[string]string{provider.ParamSymbol: info.StockCode, provider.ParamAdjust: "hfq"}
		if c.opts.HistoryStart != "" {
			stockParams[provider.ParamStart] = c.opts.HistoryStart
		}
		stock, src = c.fetch(ctx, sources, provider.DatasetStockHistory, stockParams, info.StockCode)
		if src != "" {
			res.Sources[provider.DatasetStockHistory] = src
		}
	}

	res.Rows = merge.Merge(primary, valuation, stock, info)
	return res
}

// Sink receives the merged rows of one bond and reports rows written.
type Sink func(ctx context.Context, info model.BondInfo, rows []model.Record) (int64, error)

// Stats summarizes a pool run.
type Stats struct {
	Bonds       int           `json:"bonds"`
	Succeeded   int           `json:"succeeded"`
	Empty       int           `json:"empty"`
	Failed      int           `json:"failed"`
	RowsWritten int64         `json:"rows_written"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// CollectAll collects every bond on a bounded worker pool and hands each
// merged result to sink. A failing bond never cancels its siblings. The
// active source list is captured once before the pool starts.
func (c *Collector) CollectAll(ctx context.Context, bonds []model.BondInfo, sink Sink) Stats {
	start := time.Now()
	sources := c.registry.ListActiveByPriority()
	log := zap.L().With(zap.String("component", "collector"))
	log.Info("collecting bonds",
		zap.Int("bonds", len(bonds)),
		zap.Int("workers", c.opts.Workers),
		zap.Int("sources", len(sources)),
	)

	var (
		mu    sync.Mutex
		stats = Stats{Bonds: len(bonds)}
	)
	fail := func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		stats.Failed++
		if len(stats.Errors) < maxReportedErrors {
			stats.Errors = append(stats.Errors, msg)
		}
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for _, info := range bonds {
		info := info
		g.Go(func() error {
			if ctx.Err() != nil {
				fail(info.BondCode + ": " + ctx.Err().Error())
				return nil
			}
			res := c.CollectBond(ctx, info, sources)
			if len(res.Rows) == 0 {
				log.Debug("no data for bond", zap.String("bond_code", info.BondCode))
				mu.Lock()
				stats.Empty++
				mu.Unlock()
				return nil
			}
			n, err := sink(ctx, info, res.Rows)
			if err != nil {
				log.Error("persist bond rows failed",
					zap.String("bond_code", info.BondCode),
					zap.Error(err),
				)
				fail(info.BondCode + ": " + err.Error())
				return nil
			}
			mu.Lock()
			stats.Succeeded++
			stats.RowsWritten += n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(start)
	log.Info("bond collection complete",
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("empty", stats.Empty),
		zap.Int("failed", stats.Failed),
		zap.Int64("rows_written", stats.RowsWritten),
		zap.Duration("duration", stats.Duration),
	)
	return stats
}

// fetch tries each source that serves ds in order and returns the first
// non-empty normalized result with the source ID. Between fallback attempts
// it waits the failed source's request delay.
func (c *Collector) fetch(ctx context.Context, sources []source.Source, ds provider.Dataset, params map[string]string, entity string) ([]model.Record, string) {
	crossSection := ds == provider.DatasetSnapshot || ds == provider.DatasetBondList
	for _, src := range sources {
		b, ok := c.providers.Get(src.ID)
		if !ok || !b.Supports(ds) {
			continue
		}
		if ctx.Err() != nil {
			return nil, ""
		}

		log := zap.L().With(
			zap.String("component", "collector"),
			zap.String("source", src.ID),
			zap.String("dataset", string(ds)),
			zap.String("entity", entity),
		)

		retry := c.opts.Retry
		if src.MaxRetries > 0 && (retry.MaxAttempts <= 0 || src.MaxRetries < retry.MaxAttempts) {
			retry.MaxAttempts = src.MaxRetries
		}
		retry.OnRetry = resilience.RetryLogger(src.ID, string(ds))
		res := resilience.Call(ctx, retry, func(ctx context.Context) (*model.Raw, error) {
			return b.Fetch(ctx, ds, params, src.Timeout)
		})

		switch res.Outcome {
		case resilience.OutcomeOK:
			recs := normalize.NormalizeWith(c.mappings, res.Value)
			if len(recs) > 0 {
				c.record(src.ID, true, "")
				return recs, src.ID
			}
			log.Debug("source returned no usable rows", zap.Int("raw_rows", res.Value.Len()))
			if crossSection {
				c.record(src.ID, false, "empty "+string(ds))
			}
		case resilience.OutcomeNotFound:
			log.Debug("source has no data for entity", zap.Error(res.Err))
		case resilience.OutcomeCanceled:
			return nil, ""
		default:
			log.Warn("source exhausted retries",
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err),
			)
			c.record(src.ID, false, errString(res.Err))
		}
		c.sleep(ctx, src.RequestDelay)
	}
	return nil, ""
}

func (c *Collector) record(id string, success bool, msg string) {
	if err := c.registry.RecordOutcome(id, success, msg); err != nil {
		zap.L().Warn("record source outcome failed",
			zap.String("component", "collector"),
			zap.String("source", id),
			zap.Error(err),
		)
	}
}

func dedupeByCode(recs []model.Record) []model.Record {
	seen := make(map[string]bool, len(recs))
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		code := r.BondCode()
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, r)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
