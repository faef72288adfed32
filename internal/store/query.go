package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/reasv/panoptikon/internal/gatewayerrors"
	"github.com/reasv/panoptikon/pql"
)

// Row is one result row, keyed by the projected column/alias name exactly as
// it appears in the compiled SELECT list.
type Row map[string]any

// QueryResult is what Run hands back to a caller: the page of rows (nil when
// the request didn't ask for results), the total match count (nil when the
// request didn't ask for count), and how long each half took to execute.
type QueryResult struct {
	Rows        []Row
	Count       *int64
	ResultsTook time.Duration
	CountTook   time.Duration
}

// Run executes a pql.CompiledQuery's results and/or count halves against the
// store, in that order, converting pql.Built's positional binds through
// pql.ToDriverArgs before handing them to database/sql.
func (s *Store) Run(ctx context.Context, compiled *pql.CompiledQuery) (*QueryResult, error) {
	out := &QueryResult{}

	if compiled.Results != nil {
		start := time.Now()
		rows, err := s.runResults(ctx, compiled.Results)
		if err != nil {
			return nil, err
		}
		out.Rows = rows
		out.ResultsTook = time.Since(start)
	}

	if compiled.Count != nil {
		start := time.Now()
		count, err := s.runCount(ctx, compiled.Count)
		if err != nil {
			return nil, err
		}
		out.Count = &count
		out.CountTook = time.Since(start)
	}

	return out, nil
}

func (s *Store) runResults(ctx context.Context, built *pql.Built) ([]Row, error) {
	args, err := pql.ToDriverArgs(built.Binds)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, built.Text, args...)
	if err != nil {
		s.Logger.Debugw("results query failed", "sql", built.Text, "err", err)
		return nil, gatewayerrors.NewInternalError("execute results query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, gatewayerrors.NewInternalError("read result columns", err)
	}

	var out []Row
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		scanPtrs := make([]any, len(cols))
		for i := range scanTargets {
			scanPtrs[i] = &scanTargets[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, gatewayerrors.NewInternalError("scan result row", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanned(scanTargets[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, gatewayerrors.NewInternalError("iterate result rows", err)
	}
	return out, nil
}

func (s *Store) runCount(ctx context.Context, built *pql.Built) (int64, error) {
	args, err := pql.ToDriverArgs(built.Binds)
	if err != nil {
		return 0, err
	}
	var count int64
	row := s.DB.QueryRowContext(ctx, built.Text, args...)
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		s.Logger.Debugw("count query failed", "sql", built.Text, "err", err)
		return 0, gatewayerrors.NewInternalError("execute count query", err)
	}
	return count, nil
}

// normalizeScanned converts the driver's scanned []byte back to string for
// TEXT columns read through the any/any{} double-pointer idiom above, since
// mattn/go-sqlite3 hands back []byte for TEXT/BLOB alike and callers of this
// package's JSON-facing layer expect strings for the former.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
