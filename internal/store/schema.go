package store

import "database/sql"

// schemaDDL lists every base table and FTS5 virtual table a compiled PQL
// query can reference, in dependency order. Column names are exactly the
// ones pql.Column's table mapping (columnTable in filter_match.go) resolves
// against: content-addressed properties (size, dimensions, hashes) live on
// items, path-level properties on files.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		sha256 TEXT NOT NULL UNIQUE,
		md5 TEXT,
		size INTEGER,
		width INTEGER,
		height INTEGER,
		duration REAL,
		time_added TEXT,
		audio_tracks INTEGER,
		video_tracks INTEGER,
		subtitle_tracks INTEGER,
		blurhash TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY,
		item_id INTEGER NOT NULL REFERENCES items(id),
		sha256 TEXT NOT NULL,
		path TEXT NOT NULL,
		filename TEXT NOT NULL,
		last_modified TEXT,
		type TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_item_id ON files(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_files_sha256 ON files(sha256)`,
	`CREATE TABLE IF NOT EXISTS setters (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS item_data (
		id INTEGER PRIMARY KEY,
		item_id INTEGER NOT NULL REFERENCES items(id),
		data_type TEXT NOT NULL,
		setter_id INTEGER REFERENCES setters(id),
		source_id INTEGER REFERENCES item_data(id),
		is_placeholder INTEGER NOT NULL DEFAULT 0,
		job_id TEXT,
		data_index INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_data_item_id ON item_data(item_id, data_type)`,
	`CREATE INDEX IF NOT EXISTS idx_item_data_source_id ON item_data(source_id)`,
	`CREATE TABLE IF NOT EXISTS extracted_text (
		id INTEGER PRIMARY KEY REFERENCES item_data(id),
		language TEXT,
		language_confidence REAL,
		text TEXT NOT NULL,
		confidence REAL,
		text_length INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		id INTEGER PRIMARY KEY REFERENCES item_data(id),
		embedding BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE(namespace, name)
	)`,
	`CREATE TABLE IF NOT EXISTS tags_items (
		item_data_id INTEGER NOT NULL REFERENCES item_data(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		confidence REAL,
		PRIMARY KEY (item_data_id, tag_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tags_items_tag_id ON tags_items(tag_id)`,
	`CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		included INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS bookmarks (
		sha256 TEXT NOT NULL,
		namespace TEXT NOT NULL,
		user TEXT NOT NULL,
		time_added TEXT,
		PRIMARY KEY (sha256, namespace, user)
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS files_path_fts USING fts5(
		path, filename, content='files', content_rowid='id'
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS extracted_text_fts USING fts5(
		text, content='extracted_text', content_rowid='id'
	)`,
	// Triggers keep the two FTS5 shadow indexes synchronized with their
	// content tables, the same insert/update/delete trigger trio the FTS5
	// "external content" documentation prescribes.
	`CREATE TRIGGER IF NOT EXISTS files_path_fts_ai AFTER INSERT ON files BEGIN
		INSERT INTO files_path_fts(rowid, path, filename) VALUES (new.id, new.path, new.filename);
	END`,
	`CREATE TRIGGER IF NOT EXISTS files_path_fts_ad AFTER DELETE ON files BEGIN
		INSERT INTO files_path_fts(files_path_fts, rowid, path, filename) VALUES ('delete', old.id, old.path, old.filename);
	END`,
	`CREATE TRIGGER IF NOT EXISTS files_path_fts_au AFTER UPDATE ON files BEGIN
		INSERT INTO files_path_fts(files_path_fts, rowid, path, filename) VALUES ('delete', old.id, old.path, old.filename);
		INSERT INTO files_path_fts(rowid, path, filename) VALUES (new.id, new.path, new.filename);
	END`,
	`CREATE TRIGGER IF NOT EXISTS extracted_text_fts_ai AFTER INSERT ON extracted_text BEGIN
		INSERT INTO extracted_text_fts(rowid, text) VALUES (new.id, new.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS extracted_text_fts_ad AFTER DELETE ON extracted_text BEGIN
		INSERT INTO extracted_text_fts(extracted_text_fts, rowid, text) VALUES ('delete', old.id, old.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS extracted_text_fts_au AFTER UPDATE ON extracted_text BEGIN
		INSERT INTO extracted_text_fts(extracted_text_fts, rowid, text) VALUES ('delete', old.id, old.text);
		INSERT INTO extracted_text_fts(rowid, text) VALUES (new.id, new.text);
	END`,
}

// EnsureSchema creates every base table, FTS5 index and sync trigger this
// gateway needs, idempotently.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
