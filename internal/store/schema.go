package store

import (
	"strings"

	"github.com/sells-group/cbdata/internal/model"
)

// Table names.
const (
	TableHistory        = "cb_daily_history"
	TableLatest         = "convertible_bond_data"
	TableBondInfo       = "bond_info"
	TableSourceStatus   = "source_status"
	TableRuns           = "collection_runs"
	TableQualityReports = "quality_reports"
)

// primaryKeys lists the key columns of each data table. Rows missing any
// key are skipped on insert.
var primaryKeys = map[string][]string{
	TableHistory:  {model.FieldTradeDate, model.FieldBondCode},
	TableLatest:   {model.FieldBondCode},
	TableBondInfo: {model.FieldBondCode},
}

const bondColumnsDDL = `
	bond_name                  TEXT,
	price                      DOUBLE PRECISION,
	price_chg_pct              DOUBLE PRECISION,
	open_price                 DOUBLE PRECISION,
	high_price                 DOUBLE PRECISION,
	low_price                  DOUBLE PRECISION,
	volume                     DOUBLE PRECISION,
	turnover                   DOUBLE PRECISION,
	turnover_rate              DOUBLE PRECISION,
	stock_code                 TEXT,
	stock_name                 TEXT,
	stock_price                DOUBLE PRECISION,
	stock_chg_pct              DOUBLE PRECISION,
	stock_pb                   DOUBLE PRECISION,
	conv_price                 DOUBLE PRECISION,
	conv_value                 DOUBLE PRECISION,
	premium_rate               DOUBLE PRECISION,
	pure_bond_value            DOUBLE PRECISION,
	pure_bond_premium_rate     DOUBLE PRECISION,
	double_low                 DOUBLE PRECISION,
	bond_rating                TEXT,
	put_trigger_price          DOUBLE PRECISION,
	force_redeem_trigger_price DOUBLE PRECISION,
	conv_proportion            DOUBLE PRECISION,
	maturity_date              TEXT,
	remaining_years            DOUBLE PRECISION,
	remaining_size             DOUBLE PRECISION,
	ytm_before_tax             DOUBLE PRECISION,
	created_at                 {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                 {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP`

const migration = `
CREATE TABLE IF NOT EXISTS cb_daily_history (
	trade_date TEXT NOT NULL,
	bond_code  TEXT NOT NULL,` + bondColumnsDDL + `,
	PRIMARY KEY (trade_date, bond_code)
);

CREATE TABLE IF NOT EXISTS convertible_bond_data (
	bond_code  TEXT PRIMARY KEY,
	trade_date TEXT,` + bondColumnsDDL + `
);

CREATE TABLE IF NOT EXISTS bond_info (
	bond_code  TEXT PRIMARY KEY,
	bond_name  TEXT,
	stock_code TEXT,
	stock_name TEXT,
	created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS source_status (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	error_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT,
	last_success {{ts}},
	updated_at   {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   {{ts}} NOT NULL,
	completed_at {{ts}},
	rows_written BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT
);

CREATE TABLE IF NOT EXISTS quality_reports (
	id                 TEXT PRIMARY KEY,
	generated_at       {{ts}} NOT NULL,
	total_bonds        BIGINT NOT NULL DEFAULT 0,
	total_records      BIGINT NOT NULL DEFAULT 0,
	completeness_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	freshness_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	overall_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	report             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_bond_code ON cb_daily_history(bond_code);
CREATE INDEX IF NOT EXISTS idx_history_trade_date ON cb_daily_history(trade_date);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON collection_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_quality_generated_at ON quality_reports(generated_at);
`

// migrationFor renders the DDL for a dialect.
func migrationFor(d dialect) []string {
	ddl := strings.ReplaceAll(migration, "{{ts}}", d.timestampType())
	var stmts []string
	for _, s := range strings.Split(ddl, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
