package analytics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteLiteral_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'o''brien'`, quoteLiteral("o'brien"))
	assert.Equal(t, `'plain'`, quoteLiteral("plain"))
}

// TestMirror_RefreshTagFrequencies exercises the DuckDB sidecar against a
// real sqlite source file via the sqlite_scanner extension. Skipped in
// -short mode since it needs the extension installed/downloadable, the same
// gate the e2e harness uses for its own external-dependency tests.
func TestMirror_RefreshTagFrequencies(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping duckdb sqlite_scanner integration test in -short mode")
	}

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "index.db")
	seedSQLiteSource(t, sourcePath)

	mirror, err := Open(context.Background(), Config{
		DuckDBPath:    filepath.Join(dir, "mirror.duckdb"),
		SourcePath:    sourcePath,
		MemoryLimitMB: 256,
		Threads:       1,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer mirror.Close()

	freqs, err := mirror.RefreshTagFrequencies(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, freqs, 1)
	assert.Equal(t, "scene", freqs[0].Namespace)
	assert.Equal(t, "beach", freqs[0].Name)
	assert.Equal(t, int64(1), freqs[0].Count)
}

func seedSQLiteSource(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE items (id INTEGER PRIMARY KEY, sha256 TEXT)`,
		`CREATE TABLE item_data (id INTEGER PRIMARY KEY, item_id INTEGER, data_type TEXT)`,
		`CREATE TABLE tags (id INTEGER PRIMARY KEY, namespace TEXT, name TEXT)`,
		`CREATE TABLE tags_items (item_data_id INTEGER, tag_id INTEGER, confidence REAL)`,
		`INSERT INTO items (id, sha256) VALUES (1, 'abc')`,
		`INSERT INTO item_data (id, item_id, data_type) VALUES (1, 1, 'tags')`,
		`INSERT INTO tags (id, namespace, name) VALUES (1, 'scene', 'beach')`,
		`INSERT INTO tags_items (item_data_id, tag_id, confidence) VALUES (1, 1, 0.9)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}
