package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cbdata/internal/archive"
	"github.com/sells-group/cbdata/internal/calendar"
	"github.com/sells-group/cbdata/internal/collector"
	"github.com/sells-group/cbdata/internal/config"
	"github.com/sells-group/cbdata/internal/fetcher"
	"github.com/sells-group/cbdata/internal/normalize"
	"github.com/sells-group/cbdata/internal/pipeline"
	"github.com/sells-group/cbdata/internal/provider"
	"github.com/sells-group/cbdata/internal/quality"
	"github.com/sells-group/cbdata/internal/report"
	"github.com/sells-group/cbdata/internal/resilience"
	"github.com/sells-group/cbdata/internal/source"
	"github.com/sells-group/cbdata/internal/store"
)

// pipelineEnv holds the store, registry, and pipeline shared by the run,
// schedule, and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *source.Registry
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline builds every collection component from c. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, c *config.Config) (*pipelineEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	reports, err := report.FromConfig(ctx, c.Report)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	retry := resilience.FromFetchConfig(c.Fetch.MaxAttempts, c.Fetch.InitialBackoffMs, c.Fetch.PostDelayMs)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.Fetch.UserAgent,
		Timeout:   time.Duration(c.Fetch.TimeoutSecs) * time.Second,
	})

	reg := source.FromConfig(c.Sources)
	coll := collector.New(reg, provider.FromConfig(c, f), normalize.DefaultTable(), collector.Options{
		Workers:      c.Collect.Workers,
		Retry:        retry,
		HistoryStart: c.Collect.HistoryStart,
	})
	cal := calendar.NewSZSE(f, c.Calendar.BaseURL, c.Calendar.LookbackMonths, retry)

	p := pipeline.New(c, st, reg, coll, archive.New(st, coll, cal), quality.New(st), reports)
	return &pipelineEnv{Store: st, Registry: reg, Pipeline: p}, nil
}
