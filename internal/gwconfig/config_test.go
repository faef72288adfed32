package gwconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./db/index.db", cfg.Database.IndexDBPath)
	assert.Equal(t, "./db/user_data.db", cfg.Database.UserDataDBPath)
	assert.Equal(t, int32(10), cfg.Query.DefaultPageSize)
	assert.Equal(t, int32(1000), cfg.Query.MaxPageSize)
	assert.Equal(t, 768, cfg.Query.EmbeddingDim)
	assert.Equal(t, "panoptikon", cfg.Metrics.Namespace)
	assert.False(t, cfg.Backup.Enabled)
}

func TestValidate_RejectsEmptyIndexDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.IndexDBPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "database.indexDbPath", cfgErr.Field)
}

func TestValidate_RejectsEmptyUserDataDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.UserDataDBPath = ""
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "database.userDataDbPath", cfgErr.Field)
}

func TestValidate_RejectsZeroPageSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.DefaultPageSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMaxPageSizeBelowDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.MaxPageSize = 5
	cfg.Query.DefaultPageSize = 10
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "query.maxPageSize", cfgErr.Field)
}

func TestValidate_RejectsZeroEmbeddingDim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.EmbeddingDim = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RequiresBucketWhenBackupEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Enabled = true
	cfg.Backup.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "backup.bucket", cfgErr.Field)
}

func TestValidate_AllowsBackupEnabledWithBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Enabled = true
	cfg.Backup.Bucket = "panoptikon-snaps"
	assert.NoError(t, cfg.Validate())
}

func TestConfigError_ErrorMessage(t *testing.T) {
	err := &ConfigError{Field: "query.embeddingDim", Message: "must be greater than 0"}
	assert.Equal(t, "config validation error for field 'query.embeddingDim': must be greater than 0", err.Error())
}
