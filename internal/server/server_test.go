package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/source"
	"github.com/sells-group/cbdata/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.SQLStore) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	_, err = st.Save(ctx, store.TableHistory, []model.Record{
		{model.FieldTradeDate: "2024-01-02", model.FieldBondCode: "113001", model.FieldBondName: "Alpha",
			model.FieldPrice: 110.0, model.FieldDoubleLow: 130.0, model.FieldBondRating: "AA"},
		{model.FieldTradeDate: "2024-01-03", model.FieldBondCode: "113001", model.FieldBondName: "Alpha",
			model.FieldPrice: 111.0, model.FieldDoubleLow: 131.0, model.FieldBondRating: "AA"},
		{model.FieldTradeDate: "2024-01-03", model.FieldBondCode: "123002", model.FieldBondName: "Beta",
			model.FieldPrice: 99.0, model.FieldDoubleLow: 120.0, model.FieldBondRating: "A+"},
	})
	require.NoError(t, err)

	reg := source.NewRegistry()
	reg.Register(source.Source{ID: "jsl", Name: "JSL", Priority: 1})
	return New(Config{Store: st, Registry: reg}), st
}

func get(t *testing.T, s *Server, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestHealth_StoreDown(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.Close())
	rec, body := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestDatesAndRatings(t *testing.T) {
	s, _ := newTestServer(t)
	_, body := get(t, s, "/api/dates")
	assert.Equal(t, []any{"2024-01-03", "2024-01-02"}, body["dates"])

	_, body = get(t, s, "/api/ratings")
	assert.Equal(t, []any{"A+", "AA"}, body["ratings"])
}

func TestBonds_DefaultsToLatestDay(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := get(t, s, "/api/bonds")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
	bonds := body["bonds"].([]any)
	assert.Equal(t, "123002", bonds[0].(map[string]any)["bond_code"], "double_low ascending")
}

func TestBonds_FiltersAndSort(t *testing.T) {
	s, _ := newTestServer(t)
	_, body := get(t, s, "/api/bonds?date=2024-01-03&sort=price&order=desc&limit=1")
	assert.EqualValues(t, 1, body["count"])
	bonds := body["bonds"].([]any)
	assert.Equal(t, "113001", bonds[0].(map[string]any)["bond_code"])

	_, body = get(t, s, "/api/bonds?keyword=Beta")
	assert.EqualValues(t, 1, body["count"])

	_, body = get(t, s, "/api/bonds?date=2030-01-01")
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["bonds"])
}

func TestBonds_BadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := get(t, s, "/api/bonds?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid limit")
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := get(t, s, "/api/bonds/113001/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["history"], 2)

	rec, _ = get(t, s, "/api/bonds/999999/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestColumnStatsAndStats(t *testing.T) {
	s, _ := newTestServer(t)
	_, body := get(t, s, "/api/quality/columns?date=2024-01-03")
	assert.NotEmpty(t, body["columns"])

	_, body = get(t, s, "/api/stats")
	assert.EqualValues(t, 2, body["total_bonds"])
	assert.EqualValues(t, 3, body["total_records"])
	assert.Equal(t, "2024-01-03", body["last_update"])
}

func TestLatestQuality(t *testing.T) {
	s, st := newTestServer(t)
	rec, _ := get(t, s, "/api/quality/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, st.SaveQualityReport(context.Background(), &model.QualityReport{OverallScore: 88.5}))
	rec, body := get(t, s, "/api/quality/latest")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 88.5, body["overall_score"], 1e-9)
}

func TestSources(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.SaveSourceStates(context.Background(), []model.SourceState{
		{ID: "jsl", Status: "inactive", ErrorCount: 3, LastError: "timeout"},
	}))

	_, body := get(t, s, "/api/sources")
	assert.EqualValues(t, 1, body["total_sources"])
	assert.EqualValues(t, 0, body["active_sources"])
	src := body["sources"].([]any)[0].(map[string]any)
	assert.Equal(t, "inactive", src["status"])
	assert.Equal(t, "timeout", src["last_error"])
}

func TestRuns(t *testing.T) {
	s, st := newTestServer(t)
	_, body := get(t, s, "/api/runs")
	assert.Equal(t, []any{}, body["runs"])

	_, err := st.StartRun(context.Background(), "archive")
	require.NoError(t, err)
	_, body = get(t, s, "/api/runs?limit=5")
	assert.Len(t, body["runs"], 1)
}

func TestParseLimit(t *testing.T) {
	n, err := parseLimit("", 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	n, err = parseLimit("1000", 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	_, err = parseLimit("-1", 10, 100)
	assert.Error(t, err)
}
