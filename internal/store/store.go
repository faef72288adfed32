package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/reasv/panoptikon/internal/gatewayerrors"
	"github.com/reasv/panoptikon/internal/gwconfig"
)

// Store owns the gateway's single SQLite connection pool: the index
// database (files/items/.../embeddings/tags) attached alongside the
// user-data database (bookmarks), the way this gateway describes the two
// logical namespaces a compiled query can touch.
type Store struct {
	DB     *sql.DB
	Logger *zap.SugaredLogger
}

// dsn renders a go-sqlite3 connection string from cfg. Only the writer path
// sets the journal mode and foreign-key enforcement; a read-only connection
// inherits whatever the writer established (and could not switch journal
// modes anyway).
func dsn(path string, cfg gwconfig.DatabaseConfig) string {
	if cfg.ReadOnly {
		return fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, cfg.BusyTimeout.Milliseconds())
	}
	return fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, cfg.BusyTimeout.Milliseconds())
}

// Open registers the vec_distance_cosine/vec_distance_L2 driver, opens the
// index database, ATTACHes the user-data database under the alias
// "user_data", and ensures the base schema exists (skipped in read-only
// mode, where schema management is the writer process's job).
func Open(cfg *gwconfig.Config, logger *zap.SugaredLogger) (*Store, error) {
	registerDriver()

	if cfg.Database.ReadOnly {
		// A read-only open never creates the file, so a missing index is a
		// caller error, not something to surface as a generic open failure.
		if _, err := os.Stat(cfg.Database.IndexDBPath); err != nil {
			return nil, gatewayerrors.NewNotFoundError("index database " + cfg.Database.IndexDBPath)
		}
	} else {
		if err := os.MkdirAll(dirOf(cfg.Database.IndexDBPath), 0o755); err != nil {
			return nil, gatewayerrors.NewConnectionError("create index db directory", err)
		}
	}

	db, err := sql.Open(driverName, dsn(cfg.Database.IndexDBPath, cfg.Database))
	if err != nil {
		return nil, gatewayerrors.NewConnectionError("open index database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, gatewayerrors.NewConnectionError("ping index database", err)
	}

	attach := fmt.Sprintf("ATTACH DATABASE %s AS user_data", quoteLiteral(cfg.Database.UserDataDBPath))
	if _, err := db.Exec(attach); err != nil {
		db.Close()
		return nil, gatewayerrors.NewConnectionError("attach user_data database", err)
	}

	if !cfg.Database.ReadOnly {
		if err := EnsureSchema(db); err != nil {
			db.Close()
			return nil, gatewayerrors.NewConnectionError("ensure schema", err)
		}
		if err := ensureBookmarksSchema(db); err != nil {
			db.Close()
			return nil, gatewayerrors.NewConnectionError("ensure user_data schema", err)
		}
	}

	logger.Infow("store opened", "index_db", cfg.Database.IndexDBPath, "user_data_db", cfg.Database.UserDataDBPath, "read_only", cfg.Database.ReadOnly)
	return &Store{DB: db, Logger: logger}, nil
}

// ensureBookmarksSchema creates the bookmarks table inside the attached
// user_data database, since EnsureSchema's statements are unqualified and
// would otherwise land in the main (index) database.
func ensureBookmarksSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS user_data.bookmarks (
		sha256 TEXT NOT NULL,
		namespace TEXT NOT NULL,
		user TEXT NOT NULL,
		time_added TEXT,
		PRIMARY KEY (sha256, namespace, user)
	)`)
	return err
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
