package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/store"
)

func TestChecker_Check_SendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = ts.URL
	st := &stubStore{
		states: []model.SourceState{{ID: "jsl", Status: "inactive"}},
		latest: "2023-12-20",
	}
	c := NewChecker(newTestCollector(st), NewAlerter(cfg), cfg)

	alerts, err := c.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertSourcesDown, alerts[0].Type)
	assert.Equal(t, AlertStaleData, alerts[1].Type)
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_Run_Healthy(t *testing.T) {
	cfg := testMonitoringConfig()
	st := &stubStore{latest: "2024-01-08", report: &model.QualityReport{OverallScore: 95}}
	c := NewChecker(newTestCollector(st), NewAlerter(cfg), cfg)

	assert.Equal(t, "monitor", c.Name())
	assert.NoError(t, c.Run(context.Background()))
}

func TestChecker_Run_CollectError(t *testing.T) {
	cfg := testMonitoringConfig()
	c := NewChecker(newTestCollector(&stubStore{runsErr: errors.New("boom")}), NewAlerter(cfg), cfg)
	assert.Error(t, c.Run(context.Background()))
}

func TestChecker_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cbdata.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	runID, err := st.StartRun(ctx, "archive")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, runID, "archive: calendar unavailable"))

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, "archive: calendar unavailable", snap.LastFailure)
	assert.Equal(t, -1, snap.StaleDays)
}
