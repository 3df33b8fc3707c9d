package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cbdata/internal/model"
)

// StartRun records the beginning of a collection run and returns its ID.
func (s *SQLStore) StartRun(ctx context.Context, mode string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO collection_runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`),
		id, mode, string(model.RunStatusRunning), s.nowFunc().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s", mode)
	}
	return id, nil
}

// CompleteRun marks a run as successfully completed.
func (s *SQLStore) CompleteRun(ctx context.Context, runID string, rowsWritten int64, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE collection_runs SET status = ?, completed_at = ?, rows_written = ?, metadata = ? WHERE id = ?`),
		string(model.RunStatusComplete), s.nowFunc().UTC(), rowsWritten, nullString(string(metaJSON)), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// FailRun marks a run as failed with an error message.
func (s *SQLStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE collection_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`),
		string(model.RunStatusFailed), s.nowFunc().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// ListRuns returns run log entries, most recent first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, mode, status, started_at, completed_at, rows_written, error, metadata
		 FROM collection_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var completedAt sql.NullTime
		var errStr, metaJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Mode, &status, &r.StartedAt, &completedAt, &r.RowsWritten, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		r.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveQualityReport appends a quality report.
func (s *SQLStore) SaveQualityReport(ctx context.Context, r *model.QualityReport) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = s.nowFunc().UTC()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "quality: marshal report")
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO quality_reports
		 (id, generated_at, total_bonds, total_records, completeness_score, freshness_score, overall_score, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.GeneratedAt, r.TotalBonds, r.TotalRecords,
		r.CompletenessScore, r.FreshnessScore, r.OverallScore, string(body),
	)
	return eris.Wrap(err, "quality: insert report")
}

// LatestQualityReport returns the newest stored report, or nil when none exist.
func (s *SQLStore) LatestQualityReport(ctx context.Context) (*model.QualityReport, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM quality_reports ORDER BY generated_at DESC LIMIT 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "quality: latest report")
	}
	var r model.QualityReport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, eris.Wrap(err, "quality: unmarshal report")
	}
	return &r, nil
}

// LoadSourceStates returns the persisted health of every source.
func (s *SQLStore) LoadSourceStates(ctx context.Context) ([]model.SourceState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, error_count, last_error, last_success, updated_at FROM source_status ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sources: load states")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SourceState
	for rows.Next() {
		var st model.SourceState
		var lastErr sql.NullString
		var lastSuccess sql.NullTime
		if err := rows.Scan(&st.ID, &st.Status, &st.ErrorCount, &lastErr, &lastSuccess, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sources: scan state")
		}
		st.LastError = lastErr.String
		if lastSuccess.Valid {
			t := lastSuccess.Time
			st.LastSuccess = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveSourceStates upserts the health of each source.
func (s *SQLStore) SaveSourceStates(ctx context.Context, states []model.SourceState) error {
	if len(states) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(
			`INSERT INTO source_status (id, status, error_count, last_error, last_success, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   status = excluded.status,
			   error_count = excluded.error_count,
			   last_error = excluded.last_error,
			   last_success = excluded.last_success,
			   updated_at = excluded.updated_at`))
		if err != nil {
			return eris.Wrap(err, "sources: prepare upsert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, st := range states {
			updated := st.UpdatedAt
			if updated.IsZero() {
				updated = s.nowFunc().UTC()
			}
			var lastSuccess any
			if st.LastSuccess != nil {
				lastSuccess = st.LastSuccess.UTC()
			}
			if _, err := stmt.ExecContext(ctx, st.ID, st.Status, st.ErrorCount,
				nullString(st.LastError), lastSuccess, updated); err != nil {
				return eris.Wrapf(err, "sources: upsert %s", st.ID)
			}
		}
		return nil
	})
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
