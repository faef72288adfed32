// Package analytics runs a DuckDB sidecar that mirrors the gateway's SQLite
// base tables (files, item_data, tags_items, tags) for tag-frequency
// analytical rollups too expensive to run against the live SQLite file on
// every request. The mirror reads the SQLite source directly via DuckDB's
// sqlite_scanner extension; nothing is exported downstream.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reasv/panoptikon/internal/gatewayerrors"
)

// Config controls where the mirror lives and how it's tuned.
type Config struct {
	DuckDBPath    string
	SourcePath    string
	MemoryLimitMB int
	Threads       int
}

// Mirror owns the DuckDB sidecar connection attached to the gateway's
// SQLite index database under the alias "sq".
type Mirror struct {
	DB     *sql.DB
	cfg    Config
	logger *zap.SugaredLogger
}

// Open opens (or creates) the DuckDB mirror file, installs the sqlite_scanner
// extension, tunes memory_limit/threads (a failed pragma is logged, not
// fatal), and attaches the source SQLite database.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Mirror, error) {
	db, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return nil, gatewayerrors.NewConnectionError("open duckdb mirror", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pragmas := []string{
		fmt.Sprintf("PRAGMA memory_limit='%dMB'", cfg.MemoryLimitMB),
		fmt.Sprintf("PRAGMA threads=%d", cfg.Threads),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx2, p); err != nil {
			logger.Warnw("duckdb pragma failed", "pragma", p, "err", err)
		}
	}

	for _, stmt := range []string{"INSTALL sqlite_scanner", "LOAD sqlite_scanner"} {
		if _, err := db.ExecContext(ctx2, stmt); err != nil {
			db.Close()
			return nil, gatewayerrors.NewConnectionError("load sqlite_scanner extension", err)
		}
	}

	attach := fmt.Sprintf("ATTACH %s AS sq (TYPE SQLITE)", quoteLiteral(cfg.SourcePath))
	if _, err := db.ExecContext(ctx2, attach); err != nil {
		db.Close()
		return nil, gatewayerrors.NewConnectionError("attach sqlite source", err)
	}

	return &Mirror{DB: db, cfg: cfg, logger: logger}, nil
}

// TagFrequency is one row of the rollup RefreshTagFrequencies returns.
type TagFrequency struct {
	Namespace string
	Name      string
	Count     int64
}

// RefreshTagFrequencies recomputes per-tag distinct item counts from the
// current contents of the attached SQLite source and returns them, most
// frequent first; nothing is written to the DuckDB file. The recompute is
// restricted (when dirtyItemIDs is
// non-empty) to items touched since the last refresh - the same
// dirty-id-scoped incremental-recompute pattern DirtySet/renderIntValuesCSV
// exist to
// support, adapted here from uuid row identifiers to this schema's integer
// item ids.
func (m *Mirror) RefreshTagFrequencies(ctx context.Context, dirtyItemIDs []int64) ([]TagFrequency, error) {
	runID := uuid.New()
	start := time.Now()

	scopeSQL := ""
	if len(dirtyItemIDs) > 0 {
		scopeSQL = fmt.Sprintf("\nWHERE item_data.item_id IN (%s)", renderIntValuesCSV(dirtyItemIDs))
	}

	query := fmt.Sprintf(`
		SELECT tags.namespace, tags.name, COUNT(DISTINCT item_data.item_id) AS cnt
		FROM sq.tags_items
		JOIN sq.tags ON sq.tags.id = sq.tags_items.tag_id
		JOIN sq.item_data ON sq.item_data.id = sq.tags_items.item_data_id%s
		GROUP BY tags.namespace, tags.name
		ORDER BY cnt DESC
	`, scopeSQL)

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, gatewayerrors.NewInternalError("refresh tag frequencies", err)
	}
	defer rows.Close()

	var out []TagFrequency
	for rows.Next() {
		var tf TagFrequency
		if err := rows.Scan(&tf.Namespace, &tf.Name, &tf.Count); err != nil {
			return nil, gatewayerrors.NewInternalError("scan tag frequency row", err)
		}
		out = append(out, tf)
	}
	m.logger.Infow("tag frequency refresh complete",
		"run_id", runID, "rows", len(out), "dirty_items", len(dirtyItemIDs), "took", time.Since(start))
	return out, rows.Err()
}

// Close releases the mirror's DuckDB connection.
func (m *Mirror) Close() error {
	return m.DB.Close()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
