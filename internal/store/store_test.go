package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reasv/panoptikon/internal/gatewayerrors"
	"github.com/reasv/panoptikon/internal/gwconfig"
	"github.com/reasv/panoptikon/pql"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := gwconfig.DefaultConfig()
	cfg.Database.IndexDBPath = filepath.Join(dir, "index.db")
	cfg.Database.UserDataDBPath = filepath.Join(dir, "user_data.db")
	st, err := Open(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_CreatesSchemaAndAttachesUserData(t *testing.T) {
	st := openTestStore(t)

	var name string
	err := st.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='files'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "files", name)

	err = st.DB.QueryRow(`SELECT name FROM user_data.sqlite_master WHERE type='table' AND name='bookmarks'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "bookmarks", name)
}

func TestOpen_ReadOnlySkipsSchemaCreation(t *testing.T) {
	dir := t.TempDir()
	cfg := gwconfig.DefaultConfig()
	cfg.Database.IndexDBPath = filepath.Join(dir, "index.db")
	cfg.Database.UserDataDBPath = filepath.Join(dir, "user_data.db")

	writer, err := Open(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	writer.Close()

	cfg.Database.ReadOnly = true
	reader, err := Open(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer reader.Close()

	var name string
	err = reader.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='files'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "files", name)
}

func TestOpen_ReadOnlyMissingIndexIsNotFound(t *testing.T) {
	cfg := gwconfig.DefaultConfig()
	cfg.Database.IndexDBPath = filepath.Join(t.TempDir(), "missing.db")
	cfg.Database.UserDataDBPath = filepath.Join(t.TempDir(), "user_data.db")
	cfg.Database.ReadOnly = true

	_, err := Open(cfg, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.True(t, gatewayerrors.IsNotFound(err))
}

func TestQuoteLiteral_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'o''brien'`, quoteLiteral("o'brien"))
	assert.Equal(t, `'plain'`, quoteLiteral("plain"))
}

func TestDirOf(t *testing.T) {
	assert.Equal(t, "a/b", dirOf("a/b/c.db"))
	assert.Equal(t, ".", dirOf("c.db"))
}

func seedFile(t *testing.T, st *Store, path, fileType string) {
	t.Helper()
	res, err := st.DB.Exec(`INSERT INTO items (sha256) VALUES (?)`, path)
	require.NoError(t, err)
	itemID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = st.DB.Exec(
		`INSERT INTO files (item_id, sha256, path, filename, type) VALUES (?, ?, ?, ?, ?)`,
		itemID, path, path, filepath.Base(path), fileType,
	)
	require.NoError(t, err)
}

func TestStore_Run_UnconditionalQueryReturnsSeededRows(t *testing.T) {
	st := openTestStore(t)
	seedFile(t, st, "/photos/a.jpg", "image")
	seedFile(t, st, "/photos/b.jpg", "image")

	q := pql.Default()
	compiled, err := pql.BuildQuery(q, nil)
	require.NoError(t, err)

	result, err := st.Run(context.Background(), compiled)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.NotNil(t, result.Count)
	assert.Equal(t, int64(2), *result.Count)
}

func TestStore_Run_MatchPathFilterAndRankOrdering(t *testing.T) {
	st := openTestStore(t)
	seedFile(t, st, "/photos/beach.jpg", "image")
	seedFile(t, st, "/documents/report.pdf", "application/pdf")

	el := pql.QueryElement{}
	mustUnmarshalElement(t, `{"match_path":{"match":"photos"},"order_by":true}`, &el)
	pre, err := pql.Preprocess(el)
	require.NoError(t, err)

	compiled, err := pql.BuildQuery(pql.Default(), pre)
	require.NoError(t, err)

	result, err := st.Run(context.Background(), compiled)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "/photos/beach.jpg", result.Rows[0]["path"])
	require.NotNil(t, result.Count)
	assert.Equal(t, int64(1), *result.Count)
}

func TestStore_Run_SemanticTextSearchOrdersByDistanceAndExposesAlias(t *testing.T) {
	st := openTestStore(t)
	seedFile(t, st, "/photos/a.jpg", "image")
	seedFile(t, st, "/photos/b.jpg", "image")

	_, err := st.DB.Exec(`INSERT INTO setters (name) VALUES ('clip/test')`)
	require.NoError(t, err)
	seedEmbedding(t, st, 1, 1, f32Blob(1, 0))
	seedEmbedding(t, st, 2, 1, f32Blob(0, 1))

	alias := "sim"
	el := pql.QueryElement{SemanticTextSearch: &pql.SemanticTextSearch{
		Sort: pql.SortableOptions{OrderBy: true, Direction: pql.OrderAsc, SelectAs: &alias},
		TextEmbeddings: pql.SemanticTextArgs{
			Model:               "clip/test",
			DistanceAggregation: pql.DistanceMin,
			Embedding:           f32Blob(1, 0),
		},
	}}
	pre, err := pql.Preprocess(el)
	require.NoError(t, err)

	compiled, err := pql.BuildQuery(pql.Default(), pre)
	require.NoError(t, err)
	require.Equal(t, []string{"sim"}, compiled.Results.ExtraAliases)

	result, err := st.Run(context.Background(), compiled)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "/photos/a.jpg", result.Rows[0]["path"])
	assert.InDelta(t, 0, result.Rows[0]["sim"].(float64), 1e-6)
	assert.InDelta(t, 1, result.Rows[1]["sim"].(float64), 1e-6)
	require.NotNil(t, result.Count)
	assert.Equal(t, int64(2), *result.Count)
}

// seedEmbedding attaches one embedding blob to itemID via a fresh item_data
// row belonging to setterID.
func seedEmbedding(t *testing.T, st *Store, itemID, setterID int64, blob []byte) {
	t.Helper()
	res, err := st.DB.Exec(
		`INSERT INTO item_data (item_id, data_type, setter_id) VALUES (?, 'clip', ?)`,
		itemID, setterID,
	)
	require.NoError(t, err)
	dataID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = st.DB.Exec(`INSERT INTO embeddings (id, embedding) VALUES (?, ?)`, dataID, blob)
	require.NoError(t, err)
}

func mustUnmarshalElement(t *testing.T, body string, el *pql.QueryElement) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(body), el))
}

func TestStore_Run_ProcessedByFilterNarrowsRows(t *testing.T) {
	st := openTestStore(t)
	seedFile(t, st, "/photos/a.jpg", "image")

	_, err := st.DB.Exec(`INSERT INTO setters (name) VALUES ('tagger')`)
	require.NoError(t, err)
	_, err = st.DB.Exec(`INSERT INTO item_data (item_id, data_type, setter_id) VALUES (1, 'tags', 1)`)
	require.NoError(t, err)

	el := pql.QueryElement{ProcessedBy: &pql.ProcessedBy{ProcessedBy: "tagger"}}
	pre, err := pql.Preprocess(el)
	require.NoError(t, err)

	compiled, err := pql.BuildQuery(pql.Default(), pre)
	require.NoError(t, err)

	result, err := st.Run(context.Background(), compiled)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
}
