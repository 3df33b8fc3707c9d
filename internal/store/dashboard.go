package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cbdata/internal/model"
)

// BondQuery filters the dashboard bond list.
type BondQuery struct {
	TradeDate string `json:"trade_date"`
	Keyword   string `json:"keyword,omitempty"`
	Rating    string `json:"rating,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`
	Desc      bool   `json:"desc,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// DefaultSortColumn orders the bond list when no valid sort is requested.
const DefaultSortColumn = model.FieldDoubleLow

// sortable reports whether col may be used in ORDER BY.
func sortable(col string) bool {
	return col != "" && contains(model.HistoryFields, col)
}

// AvailableDates lists the distinct trading dates in history, newest first.
func (s *SQLStore) AvailableDates(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT trade_date FROM cb_daily_history ORDER BY trade_date DESC`)
}

// Ratings lists the distinct non-empty credit ratings in history.
func (s *SQLStore) Ratings(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx,
		`SELECT DISTINCT bond_rating FROM cb_daily_history
		 WHERE bond_rating IS NOT NULL AND bond_rating <> '' ORDER BY bond_rating`)
}

// SearchBonds returns the rows of one trading day matching q. The keyword
// matches bond code, bond name, or stock name. Nulls sort last.
func (s *SQLStore) SearchBonds(ctx context.Context, q BondQuery) ([]model.BondRecord, error) {
	if q.TradeDate == "" {
		latest, err := s.LatestTradeDate(ctx)
		if err != nil {
			return nil, err
		}
		if latest == "" {
			return nil, nil
		}
		q.TradeDate = latest
	}

	var where []string
	args := []any{q.TradeDate}
	where = append(where, "trade_date = ?")
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		like := "%" + kw + "%"
		where = append(where, "(bond_code LIKE ? OR bond_name LIKE ? OR stock_name LIKE ?)")
		args = append(args, like, like, like)
	}
	if q.Rating != "" {
		where = append(where, "bond_rating = ?")
		args = append(args, q.Rating)
	}

	sortCol := q.SortBy
	if !sortable(sortCol) {
		sortCol = DefaultSortColumn
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	query := `SELECT ` + strings.Join(model.HistoryFields, ", ") + `
		FROM cb_daily_history WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY CASE WHEN ` + sortCol + ` IS NULL THEN 1 ELSE 0 END, ` + sortCol + ` ` + dir + `, bond_code`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: search bonds", s.dialect.name())
	}
	defer rows.Close() //nolint:errcheck
	return scanBondRecords(rows)
}

// ColumnStats reports per-column missing and distinct counts for history,
// restricted to one trading day when tradeDate is set.
func (s *SQLStore) ColumnStats(ctx context.Context, tradeDate string) ([]model.ColumnStat, error) {
	filter := ""
	var args []any
	if tradeDate != "" {
		filter = " WHERE trade_date = ?"
		args = append(args, tradeDate)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM cb_daily_history`+filter), args...).Scan(&total); err != nil {
		return nil, eris.Wrapf(err, "%s: count history", s.dialect.name())
	}

	stats := make([]model.ColumnStat, 0, len(model.HistoryFields))
	for _, col := range model.HistoryFields {
		var nonNull, distinct int64
		err := s.db.QueryRowContext(ctx,
			s.q(`SELECT COUNT(`+col+`), COUNT(DISTINCT `+col+`) FROM cb_daily_history`+filter), args...,
		).Scan(&nonNull, &distinct)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: column stats for %s", s.dialect.name(), col)
		}
		typ := "text"
		if model.NumericFields[col] {
			typ = "numeric"
		}
		st := model.ColumnStat{
			Column:      col,
			Type:        typ,
			NullCount:   total - nonNull,
			Distinct:    distinct,
			Description: model.FieldDescriptions[col],
		}
		if total > 0 {
			st.NullPct = model.Round2(float64(st.NullCount) / float64(total) * 100)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// Totals returns the number of distinct bonds and total rows in history.
func (s *SQLStore) Totals(ctx context.Context) (int64, int64, error) {
	var bonds, rows int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT bond_code), COUNT(*) FROM cb_daily_history`).Scan(&bonds, &rows)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "%s: history totals", s.dialect.name())
	}
	return bonds, rows, nil
}

// DateRange returns the first and last trade dates and the number of
// distinct trading days in history.
func (s *SQLStore) DateRange(ctx context.Context) (model.DateRange, error) {
	var start, end sql.NullString
	var days int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(trade_date), MAX(trade_date), COUNT(DISTINCT trade_date) FROM cb_daily_history`,
	).Scan(&start, &end, &days)
	if err != nil {
		return model.DateRange{}, eris.Wrapf(err, "%s: history date range", s.dialect.name())
	}
	return model.DateRange{Start: start.String, End: end.String, TradingDays: days}, nil
}

func (s *SQLStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: query", s.dialect.name())
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrapf(err, "%s: scan", s.dialect.name())
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

// scanBondRecords reads rows selected with model.HistoryFields in order.
func scanBondRecords(rows *sql.Rows) ([]model.BondRecord, error) {
	var out []model.BondRecord
	for rows.Next() {
		dest := make([]any, len(model.HistoryFields))
		for i, f := range model.HistoryFields {
			if model.NumericFields[f] {
				dest[i] = new(sql.NullFloat64)
			} else {
				dest[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "store: scan bond record")
		}
		rec := make(model.Record, len(dest))
		for i, f := range model.HistoryFields {
			switch v := dest[i].(type) {
			case *sql.NullFloat64:
				if v.Valid {
					rec[f] = v.Float64
				}
			case *sql.NullString:
				if v.Valid {
					rec[f] = v.String
				}
			}
		}
		out = append(out, model.BondRecordFromRecord(rec))
	}
	return out, rows.Err()
}
