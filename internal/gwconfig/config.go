// Package gwconfig holds the gateway's runtime configuration: the SQLite
// file layout, query defaults, logging and metrics knobs.
package gwconfig

import "time"

// Config consolidates every gateway subsystem's settings, one sub-struct
// per concern.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Query    QueryConfig    `json:"query"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Backup   BackupConfig   `json:"backup"`
}

// DatabaseConfig locates the gateway's SQLite files. IndexDBPath is the
// ATTACH'd "storage" database (files/items/tags/embeddings); UserDataDBPath
// is the ATTACH'd "user_data" database (bookmarks); DataFolder is where the
// original media referenced by files.path lives on disk (unused by the PQL
// compiler itself, but required by any collaborator that resolves results
// to bytes).
type DatabaseConfig struct {
	IndexDBPath     string        `json:"indexDbPath"`
	UserDataDBPath  string        `json:"userDataDbPath"`
	DataFolder      string        `json:"dataFolder"`
	ReadOnly        bool          `json:"readOnly"`
	BusyTimeout     time.Duration `json:"busyTimeout"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}

// QueryConfig contains PQL execution defaults and ceilings.
type QueryConfig struct {
	DefaultTimeout     time.Duration `json:"defaultTimeout"`
	DefaultPageSize    int32         `json:"defaultPageSize"`
	MaxPageSize        int32         `json:"maxPageSize"`
	EmbeddingDim       int           `json:"embeddingDim"`
	EnableCountQuery   bool          `json:"enableCountQuery"`
	SlowQueryThreshold time.Duration `json:"slowQueryThreshold"`
}

// LoggingConfig is narrowed to the fields this gateway actually branches on.
type LoggingConfig struct {
	Level              string `json:"level"`
	Format             string `json:"format"`
	EnableQueryLogging bool   `json:"enableQueryLogging"`
	LogSlowQueries     bool   `json:"logSlowQueries"`
	SanitizeParameters bool   `json:"sanitizeParameters"`
}

// MetricsConfig controls the per-request stage-timing bag (internal/metrics).
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`
	Namespace         string `json:"namespace"`
	EnableStageTimers bool   `json:"enableStageTimers"`
}

// BackupConfig controls the periodic S3 snapshot uploader (internal/backup).
type BackupConfig struct {
	Enabled       bool          `json:"enabled"`
	Bucket        string        `json:"bucket"`
	Prefix        string        `json:"prefix"`
	Region        string        `json:"region"`
	Interval      time.Duration `json:"interval"`
	UploadTimeout time.Duration `json:"uploadTimeout"`

	// EndpointURL targets an S3-compatible endpoint instead of AWS proper
	// and switches the client to path-style addressing. When AccessKeyID is
	// set, the static keys below are used rather than the default
	// credential chain, whether or not EndpointURL is set.
	EndpointURL     string `json:"endpointUrl,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
}

// DefaultConfig returns the gateway's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			IndexDBPath:     "./db/index.db",
			UserDataDBPath:  "./db/user_data.db",
			DataFolder:      "./data",
			ReadOnly:        false,
			BusyTimeout:     5 * time.Second,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Query: QueryConfig{
			DefaultTimeout:     30 * time.Second,
			DefaultPageSize:    10,
			MaxPageSize:        1000,
			EmbeddingDim:       768,
			EnableCountQuery:   true,
			SlowQueryThreshold: 1 * time.Second,
		},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "json",
			EnableQueryLogging: false,
			LogSlowQueries:     true,
			SanitizeParameters: true,
		},
		Metrics: MetricsConfig{
			Enabled:           true,
			Namespace:         "panoptikon",
			EnableStageTimers: true,
		},
		Backup: BackupConfig{
			Enabled:       false,
			Prefix:        "panoptikon-snapshots",
			Interval:      1 * time.Hour,
			UploadTimeout: 2 * time.Minute,
		},
	}
}

// Validate checks the configuration's invariants, returning a *ConfigError
// naming the first offending field.
func (c *Config) Validate() error {
	if c.Database.IndexDBPath == "" {
		return &ConfigError{Field: "database.indexDbPath", Message: "must not be empty"}
	}
	if c.Database.UserDataDBPath == "" {
		return &ConfigError{Field: "database.userDataDbPath", Message: "must not be empty"}
	}
	if c.Query.DefaultPageSize <= 0 {
		return &ConfigError{Field: "query.defaultPageSize", Message: "must be greater than 0"}
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return &ConfigError{Field: "query.maxPageSize", Message: "must be greater than or equal to defaultPageSize"}
	}
	if c.Query.EmbeddingDim <= 0 {
		return &ConfigError{Field: "query.embeddingDim", Message: "must be greater than 0"}
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return &ConfigError{Field: "backup.bucket", Message: "must be set when backup is enabled"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
