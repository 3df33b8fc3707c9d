// Package store persists bond history, snapshots, and pipeline bookkeeping
// in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cbdata/internal/model"
)

// Store defines the persistence interface for the collection pipeline.
type Store interface {
	// Bond data
	Save(ctx context.Context, table string, rows []model.Record) (int64, error)
	ReplaceLatest(ctx context.Context, rows []model.Record) (int64, error)
	ReplaceBondInfo(ctx context.Context, infos []model.BondInfo) (int64, error)
	ArchiveDay(ctx context.Context, tradeDate string, rows []model.Record) (int64, error)
	BackfillStatic(ctx context.Context, snapshot []model.Record) (int64, error)
	LatestTradeDate(ctx context.Context) (string, error)
	BondInfos(ctx context.Context) ([]model.BondInfo, error)
	History(ctx context.Context, bondCode string) ([]model.BondRecord, error)

	// Dashboard queries
	AvailableDates(ctx context.Context) ([]string, error)
	Ratings(ctx context.Context) ([]string, error)
	SearchBonds(ctx context.Context, q BondQuery) ([]model.BondRecord, error)
	ColumnStats(ctx context.Context, tradeDate string) ([]model.ColumnStat, error)
	Totals(ctx context.Context) (bonds, rows int64, err error)
	DateRange(ctx context.Context) (model.DateRange, error)

	// Run log
	StartRun(ctx context.Context, mode string) (string, error)
	CompleteRun(ctx context.Context, runID string, rowsWritten int64, metadata map[string]any) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Quality reports
	SaveQualityReport(ctx context.Context, r *model.QualityReport) error
	LatestQualityReport(ctx context.Context) (*model.QualityReport, error)

	// Source health
	LoadSourceStates(ctx context.Context) ([]model.SourceState, error)
	SaveSourceStates(ctx context.Context, states []model.SourceState) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// SQLStore implements Store on database/sql for either dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect

	mu      sync.Mutex
	columns map[string]map[string]bool // live schema cache per table

	nowFunc func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers from the worker pool.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return newSQLStore(db, sqliteDialect{}), nil
}

// NewPostgres opens a Postgres database through the pgx stdlib driver.
func NewPostgres(ctx context.Context, databaseURL string) (*SQLStore, error) {
	if databaseURL == "" {
		return nil, eris.New("postgres: database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newSQLStore(db, postgresDialect{}), nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: d,
		columns: make(map[string]map[string]bool),
		nowFunc: time.Now,
	}
}

// Migrate creates all tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrationFor(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "%s: migrate", s.dialect.name())
		}
	}
	s.mu.Lock()
	s.columns = make(map[string]map[string]bool)
	s.mu.Unlock()
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return eris.Wrapf(s.db.PingContext(ctx), "%s: ping", s.dialect.name())
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// tableColumns returns the live column set of table, cached after the first
// lookup.
func (s *SQLStore) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	s.mu.Lock()
	cols, ok := s.columns[table]
	s.mu.Unlock()
	if ok {
		return cols, nil
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery(), table)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list columns of %s", s.dialect.name(), table)
	}
	defer rows.Close() //nolint:errcheck

	cols = make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrapf(err, "%s: scan column of %s", s.dialect.name(), table)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "%s: list columns of %s", s.dialect.name(), table)
	}
	if len(cols) == 0 {
		return nil, eris.Errorf("%s: table %s does not exist", s.dialect.name(), table)
	}

	s.mu.Lock()
	s.columns[table] = cols
	s.mu.Unlock()
	return cols, nil
}
