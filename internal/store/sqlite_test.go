package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cbdata/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func historyRow(date, code string, price float64) model.Record {
	return model.Record{
		"trade_date": date,
		"bond_code":  code,
		"bond_name":  "bond " + code,
		"price":      price,
	}
}

// --- Save ---

func TestSQLite_Save_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rows := []model.Record{
		historyRow("2024-01-02", "113050", 120),
		historyRow("2024-01-03", "113050", 121),
	}
	n, err := st.Save(ctx, TableHistory, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.Save(ctx, TableHistory, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, total, err := st.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestSQLite_Save_FirstWriteWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Save(ctx, TableHistory, []model.Record{historyRow("2024-01-02", "113050", 120)})
	require.NoError(t, err)
	_, err = st.Save(ctx, TableHistory, []model.Record{historyRow("2024-01-02", "113050", 999)})
	require.NoError(t, err)

	hist, err := st.History(ctx, "113050")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.NotNil(t, hist[0].Price)
	assert.Equal(t, 120.0, *hist[0].Price)
}

func TestSQLite_Save_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.Save(context.Background(), TableHistory, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_Save_DropsUnknownColumnsAndSanitizes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	row := historyRow("2024-01-02", "113050", 120)
	row["not_a_column"] = "x"
	row["bond_name"] = "bad\xffname"
	row["premium_rate"] = nil

	n, err := st.Save(ctx, TableHistory, []model.Record{row})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hist, err := st.History(ctx, "113050")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "badname", hist[0].BondName)
	assert.Nil(t, hist[0].PremiumRate)
}

func TestSQLite_Save_SkipsRowsWithoutKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.Save(context.Background(), TableHistory, []model.Record{
		{"bond_code": "113050", "price": 1.0},
		historyRow("2024-01-02", "113050", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLite_Save_UnknownTable(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.Save(context.Background(), "nope", []model.Record{historyRow("2024-01-02", "1", 1)})
	assert.Error(t, err)
}

// --- Replace / archive ---

func TestSQLite_ReplaceLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.ReplaceLatest(ctx, []model.Record{
		{"bond_code": "113050", "price": 120.0},
		{"bond_code": "123001", "price": 99.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.ReplaceLatest(ctx, []model.Record{{"bond_code": "110001", "price": 101.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM convertible_bond_data`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLite_ReplaceBondInfo(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.ReplaceBondInfo(ctx, []model.BondInfo{
		{BondCode: "123001", BondName: "B", StockCode: "300001", StockName: "S2"},
		{BondCode: "113050", BondName: "A", StockCode: "601009", StockName: "S1"},
	})
	require.NoError(t, err)

	infos, err := st.BondInfos(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "113050", infos[0].BondCode)
	assert.Equal(t, "S1", infos[0].StockName)
}

func TestSQLite_ArchiveDay_ReplacesOnlyThatDay(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.Save(ctx, TableHistory, []model.Record{
		historyRow("2024-01-02", "113050", 100),
		historyRow("2024-01-03", "113050", 101),
		historyRow("2024-01-03", "123001", 90),
	})
	require.NoError(t, err)

	n, err := st.ArchiveDay(ctx, "2024-01-03", []model.Record{
		{"bond_code": "113050", "price": 105.0, "trade_date": "1999-01-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hist, err := st.History(ctx, "113050")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 100.0, *hist[0].Price)
	assert.Equal(t, "2024-01-03", hist[1].TradeDate)
	assert.Equal(t, 105.0, *hist[1].Price)

	other, err := st.History(ctx, "123001")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLite_ArchiveDay_RequiresDate(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.ArchiveDay(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestSQLite_BackfillStatic_OnlyNulls(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := historyRow("2024-01-02", "113050", 100)
	b := historyRow("2024-01-03", "113050", 101)
	b["bond_rating"] = "AA"
	_, err := st.Save(ctx, TableHistory, []model.Record{a, b})
	require.NoError(t, err)

	n, err := st.BackfillStatic(ctx, []model.Record{
		{"bond_code": "113050", "bond_rating": "AAA", "conv_price": 8.5, "maturity_date": "2026-06-15"},
		{"bond_code": "999999", "bond_rating": "B"},
	})
	require.NoError(t, err)
	// bond_rating fills one row, conv_price and maturity_date fill two each.
	assert.Equal(t, int64(5), n)

	hist, err := st.History(ctx, "113050")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "AAA", hist[0].BondRating)
	assert.Equal(t, "AA", hist[1].BondRating, "existing value is preserved")
	assert.Equal(t, 8.5, *hist[1].ConvPrice)
	assert.Equal(t, "2026-06-15", hist[0].MaturityDate)

	n, err = st.BackfillStatic(ctx, []model.Record{{"bond_code": "113050", "bond_rating": "C"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_LatestTradeDate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	latest, err := st.LatestTradeDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", latest)

	_, err = st.Save(ctx, TableHistory, []model.Record{
		historyRow("2024-01-02", "113050", 100),
		historyRow("2024-01-05", "113050", 101),
	})
	require.NoError(t, err)

	latest, err = st.LatestTradeDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", latest)
}

// --- Dashboard ---

func seedDashboard(t *testing.T, st *SQLStore) {
	t.Helper()
	rows := []model.Record{
		{"trade_date": "2024-01-02", "bond_code": "113050", "bond_name": "南银转债", "stock_name": "南京银行", "price": 120.0, "double_low": 130.0, "bond_rating": "AAA"},
		{"trade_date": "2024-01-03", "bond_code": "113050", "bond_name": "南银转债", "stock_name": "南京银行", "price": 121.0, "double_low": 131.0, "bond_rating": "AAA"},
		{"trade_date": "2024-01-03", "bond_code": "123001", "bond_name": "蓝标转债", "stock_name": "蓝色光标", "price": 110.0, "double_low": 125.0, "bond_rating": "AA"},
		{"trade_date": "2024-01-03", "bond_code": "128001", "bond_name": "无评转债", "price": 99.0},
	}
	_, err := st.Save(context.Background(), TableHistory, rows)
	require.NoError(t, err)
}

func TestSQLite_AvailableDatesAndRatings(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedDashboard(t, st)
	ctx := context.Background()

	dates, err := st.AvailableDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03", "2024-01-02"}, dates)

	ratings, err := st.Ratings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AA", "AAA"}, ratings)
}

func TestSQLite_SearchBonds(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedDashboard(t, st)
	ctx := context.Background()

	// Default: latest date, double_low ascending, nulls last.
	got, err := st.SearchBonds(ctx, BondQuery{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "123001", got[0].BondCode)
	assert.Equal(t, "113050", got[1].BondCode)
	assert.Equal(t, "128001", got[2].BondCode)

	got, err = st.SearchBonds(ctx, BondQuery{TradeDate: "2024-01-03", Keyword: "光标"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "123001", got[0].BondCode)

	got, err = st.SearchBonds(ctx, BondQuery{TradeDate: "2024-01-03", SortBy: "price", Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "113050", got[0].BondCode)

	got, err = st.SearchBonds(ctx, BondQuery{TradeDate: "2024-01-03", Rating: "AAA", SortBy: "price; DROP TABLE x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSQLite_SearchBonds_EmptyHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.SearchBonds(context.Background(), BondQuery{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_ColumnStatsAndRange(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedDashboard(t, st)
	ctx := context.Background()

	stats, err := st.ColumnStats(ctx, "2024-01-03")
	require.NoError(t, err)
	byCol := make(map[string]model.ColumnStat)
	for _, s := range stats {
		byCol[s.Column] = s
	}
	assert.Equal(t, int64(1), byCol["double_low"].NullCount)
	assert.InDelta(t, 33.33, byCol["double_low"].NullPct, 0.001)
	assert.Equal(t, "numeric", byCol["double_low"].Type)
	assert.Equal(t, int64(3), byCol["premium_rate"].NullCount)
	assert.Equal(t, int64(3), byCol["bond_code"].Distinct)

	bonds, rows, err := st.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bonds)
	assert.Equal(t, int64(4), rows)

	dr, err := st.DateRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DateRange{Start: "2024-01-02", End: "2024-01-03", TradingDays: 2}, dr)
}

// --- Run log / quality / sources ---

func TestSQLite_RunLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := st.StartRun(ctx, "archive")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, id1, 42, map[string]any{"gap_dates": 2}))

	st.nowFunc = func() time.Time { return time.Now().Add(time.Minute) }
	id2, err := st.StartRun(ctx, "latest")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, id2, "calendar unavailable"))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, id2, runs[0].ID)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "calendar unavailable", runs[0].Error)
	assert.Equal(t, model.RunStatusComplete, runs[1].Status)
	assert.Equal(t, int64(42), runs[1].RowsWritten)
	assert.NotNil(t, runs[1].CompletedAt)
	assert.EqualValues(t, 2, runs[1].Metadata["gap_dates"])

	assert.Error(t, st.CompleteRun(ctx, "missing", 0, nil))
}

func TestSQLite_QualityReports(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.LatestQualityReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	r := &model.QualityReport{TotalBonds: 3, OverallScore: 88.5, GeneratedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, st.SaveQualityReport(ctx, r))
	assert.NotEmpty(t, r.ID)

	got, err := st.LatestQualityReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, 88.5, got.OverallScore)
}

func TestSQLite_SourceStates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveSourceStates(ctx, []model.SourceState{
		{ID: "jsl", Status: "inactive", ErrorCount: 3, LastError: "403"},
		{ID: "eastmoney", Status: "active", LastSuccess: &ts},
	}))
	require.NoError(t, st.SaveSourceStates(ctx, []model.SourceState{
		{ID: "jsl", Status: "active"},
	}))

	states, err := st.LoadSourceStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "eastmoney", states[0].ID)
	require.NotNil(t, states[0].LastSuccess)
	assert.True(t, ts.Equal(*states[0].LastSuccess))
	assert.Equal(t, "jsl", states[1].ID)
	assert.Equal(t, "active", states[1].Status)
	assert.Equal(t, 0, states[1].ErrorCount)
	assert.Equal(t, "", states[1].LastError)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
