package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/model"
)

// Save inserts rows into table, skipping rows whose primary key already
// exists so the first write wins. Only columns present in the table's live
// schema are written. It returns the number of rows actually inserted.
func (s *SQLStore) Save(ctx context.Context, table string, rows []model.Record) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols, err := s.writeColumns(ctx, table, rows)
	if err != nil {
		return 0, err
	}

	var inserted int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := s.insertRows(ctx, tx, table, cols, rows)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ReplaceLatest swaps the full contents of the latest-snapshot table.
func (s *SQLStore) ReplaceLatest(ctx context.Context, rows []model.Record) (int64, error) {
	return s.replaceAll(ctx, TableLatest, rows)
}

// ReplaceBondInfo swaps the full contents of the bond identity table.
func (s *SQLStore) ReplaceBondInfo(ctx context.Context, infos []model.BondInfo) (int64, error) {
	rows := make([]model.Record, 0, len(infos))
	for _, b := range infos {
		rows = append(rows, b.Record())
	}
	return s.replaceAll(ctx, TableBondInfo, rows)
}

func (s *SQLStore) replaceAll(ctx context.Context, table string, rows []model.Record) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols, err := s.writeColumns(ctx, table, rows)
	if err != nil {
		return 0, err
	}

	var inserted int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "%s: clear %s", s.dialect.name(), table)
		}
		n, err := s.insertRows(ctx, tx, table, cols, rows)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ArchiveDay replaces every history row of tradeDate with rows. Rows are
// stamped with tradeDate before insert.
func (s *SQLStore) ArchiveDay(ctx context.Context, tradeDate string, rows []model.Record) (int64, error) {
	if tradeDate == "" {
		return 0, eris.New("store: archive requires a trade date")
	}
	stamped := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		c := r.Clone()
		c[model.FieldTradeDate] = tradeDate
		stamped = append(stamped, c)
	}
	if len(stamped) == 0 {
		return 0, nil
	}
	cols, err := s.writeColumns(ctx, TableHistory, stamped)
	if err != nil {
		return 0, err
	}

	var inserted int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM cb_daily_history WHERE trade_date = ?`), tradeDate); err != nil {
			return eris.Wrapf(err, "%s: delete trade date %s", s.dialect.name(), tradeDate)
		}
		n, err := s.insertRows(ctx, tx, TableHistory, cols, stamped)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// BackfillStatic copies static fields from snapshot rows into history rows
// of the same bond where the history value is NULL. Existing values are
// never overwritten.
func (s *SQLStore) BackfillStatic(ctx context.Context, snapshot []model.Record) (int64, error) {
	if len(snapshot) == 0 {
		return 0, nil
	}
	var updated int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, field := range model.StaticFields {
			stmt, err := tx.PrepareContext(ctx, s.q(
				`UPDATE cb_daily_history SET `+field+` = ?, updated_at = CURRENT_TIMESTAMP
				 WHERE bond_code = ? AND `+field+` IS NULL`))
			if err != nil {
				return eris.Wrapf(err, "%s: prepare backfill %s", s.dialect.name(), field)
			}
			for _, r := range snapshot {
				code := r.BondCode()
				val, ok := r[field]
				if code == "" || !ok || val == nil {
					continue
				}
				if str, isStr := val.(string); isStr {
					val = sanitizeUTF8(str)
				}
				res, err := stmt.ExecContext(ctx, val, code)
				if err != nil {
					stmt.Close() //nolint:errcheck
					return eris.Wrapf(err, "%s: backfill %s for %s", s.dialect.name(), field, code)
				}
				if n, err := res.RowsAffected(); err == nil {
					updated += n
				}
			}
			stmt.Close() //nolint:errcheck
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// LatestTradeDate returns the most recent trade_date in history, or "" when
// history is empty.
func (s *SQLStore) LatestTradeDate(ctx context.Context) (string, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(trade_date) FROM cb_daily_history`).Scan(&d)
	if err != nil {
		return "", eris.Wrapf(err, "%s: latest trade date", s.dialect.name())
	}
	return d.String, nil
}

// BondInfos returns every stored bond identity ordered by code.
func (s *SQLStore) BondInfos(ctx context.Context) ([]model.BondInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bond_code, bond_name, stock_code, stock_name FROM bond_info ORDER BY bond_code`)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list bond info", s.dialect.name())
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BondInfo
	for rows.Next() {
		var b model.BondInfo
		var name, stockCode, stockName sql.NullString
		if err := rows.Scan(&b.BondCode, &name, &stockCode, &stockName); err != nil {
			return nil, eris.Wrapf(err, "%s: scan bond info", s.dialect.name())
		}
		b.BondName, b.StockCode, b.StockName = name.String, stockCode.String, stockName.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// History returns every stored row of one bond, oldest first.
func (s *SQLStore) History(ctx context.Context, bondCode string) ([]model.BondRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+strings.Join(model.HistoryFields, ", ")+`
		 FROM cb_daily_history WHERE bond_code = ? ORDER BY trade_date`), bondCode)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: history of %s", s.dialect.name(), bondCode)
	}
	defer rows.Close() //nolint:errcheck
	return scanBondRecords(rows)
}

// writeColumns returns the sorted columns to write: the union of record
// keys that exist in the live table schema.
func (s *SQLStore) writeColumns(ctx context.Context, table string, rows []model.Record) ([]string, error) {
	live, err := s.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	var cols []string
	dropped := make(map[string]bool)
	for _, c := range model.UnionColumns(rows) {
		if live[c] {
			cols = append(cols, c)
		} else {
			dropped[c] = true
		}
	}
	for _, k := range primaryKeys[table] {
		if !contains(cols, k) {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	if len(dropped) > 0 {
		names := make([]string, 0, len(dropped))
		for c := range dropped {
			names = append(names, c)
		}
		sort.Strings(names)
		zap.L().Debug("dropping columns absent from table schema",
			zap.String("component", "store"),
			zap.String("table", table),
			zap.Strings("columns", names),
		)
	}
	return cols, nil
}

func (s *SQLStore) insertRows(ctx context.Context, tx *sql.Tx, table string, cols []string, rows []model.Record) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO `+table+` (`+strings.Join(cols, ", ")+`) VALUES (`+placeholders+`) ON CONFLICT DO NOTHING`))
	if err != nil {
		return 0, eris.Wrapf(err, "%s: prepare insert into %s", s.dialect.name(), table)
	}
	defer stmt.Close() //nolint:errcheck

	keys := primaryKeys[table]
	var inserted int64
	skipped := 0
	args := make([]any, len(cols))
	for _, r := range rows {
		if !hasKeys(r, keys) {
			skipped++
			continue
		}
		for i, c := range cols {
			args[i] = dbValue(r[c])
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "%s: insert into %s", s.dialect.name(), table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "rows affected")
		}
		inserted += n
	}
	if skipped > 0 {
		zap.L().Warn("skipped rows without primary key",
			zap.String("component", "store"),
			zap.String("table", table),
			zap.Int("skipped", skipped),
		)
	}
	return inserted, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: begin tx", s.dialect.name())
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrapf(tx.Commit(), "%s: commit", s.dialect.name())
}

func hasKeys(r model.Record, keys []string) bool {
	for _, k := range keys {
		if r.Str(k) == "" {
			return false
		}
	}
	return true
}

// dbValue converts a record value into a driver argument.
func dbValue(v any) any {
	switch x := v.(type) {
	case string:
		return sanitizeUTF8(x)
	default:
		return x
	}
}

// sanitizeUTF8 drops invalid UTF-8 byte sequences so the driver doesn't
// reject the row.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
