package sqlite

import (
	"database/sql"
	"log/slog"
	"time"
)

const slowQueryThreshold = 100 * time.Millisecond

// runner is the statement surface satisfied by both *sql.Tx and
// *queryLogger. Tx methods use this instead of *sql.Tx directly.
type runner interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// queryLogger wraps a transaction and logs statements that exceed the slow
// query threshold.
type queryLogger struct {
	inner *sql.Tx
}

func (q *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := q.inner.Exec(query, args...)
	if d := time.Since(start); d >= slowQueryThreshold {
		slog.Warn("slow query", "duration", d.Round(time.Millisecond), "query", truncateQuery(query))
	}
	return result, err
}

func (q *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.Query(query, args...)
	if d := time.Since(start); d >= slowQueryThreshold {
		slog.Warn("slow query", "duration", d.Round(time.Millisecond), "query", truncateQuery(query))
	}
	return rows, err
}

func (q *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	start := time.Now()
	row := q.inner.QueryRow(query, args...)
	if d := time.Since(start); d >= slowQueryThreshold {
		slog.Warn("slow query", "duration", d.Round(time.Millisecond), "query", truncateQuery(query))
	}
	return row
}

func truncateQuery(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
