package store

import (
	"strconv"
	"strings"
)

// dialect hides the SQL differences between SQLite and Postgres.
type dialect interface {
	name() string
	// rebind rewrites ? placeholders into the driver's native form.
	rebind(query string) string
	// columnsQuery lists a table's columns; it takes the table name as its
	// single argument.
	columnsQuery() string
	// timestampType is the column type used for timestamps.
	timestampType() string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string               { return "sqlite" }
func (sqliteDialect) rebind(query string) string { return query }
func (sqliteDialect) columnsQuery() string {
	return `SELECT name FROM pragma_table_info(?)`
}
func (sqliteDialect) timestampType() string { return "DATETIME" }

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (postgresDialect) columnsQuery() string {
	return `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`
}

func (postgresDialect) timestampType() string { return "TIMESTAMPTZ" }
