package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_Load(t *testing.T) {
	// Create a temporary config file
	tmpfile := filepath.Join(t.TempDir(), "test_config.yaml")
	configContent := `
database:
  driver: "sqlite"
  path: "/var/lib/musicmaid/index.db"
indexer:
  workers: 3
  files_per_second: 50
blobs:
  inline_threshold: 512
  spill_threshold: 4096
  spill_dir: "/var/lib/musicmaid/blobs"
writer:
  new_padding: 1024
logging:
  level: "debug"
  format: "json"
`

	err := os.WriteFile(tmpfile, []byte(configContent), 0644)
	require.NoError(t, err)

	loader := NewConfigLoader()
	loader.SetConfigFile(tmpfile)

	config, err := loader.Load()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "/var/lib/musicmaid/index.db", config.Database.Path)
	assert.Equal(t, 3, config.Indexer.Workers)
	assert.Equal(t, 50.0, config.Indexer.FilesPerSecond)
	assert.Equal(t, 512, config.Blobs.InlineThreshold)
	assert.Equal(t, 4096, config.Blobs.SpillThreshold)
	assert.Equal(t, "/var/lib/musicmaid/blobs", config.Blobs.SpillDir)
	assert.Equal(t, 1024, config.Writer.NewPadding)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)

	// Defaults still apply for keys not in the file
	assert.Equal(t, []string{".flac", ".opus", ".ogg", ".oga"}, config.Indexer.Extensions)
	assert.True(t, config.Blobs.StorePictures)
	assert.Equal(t, DefaultConnMaxLifetime, config.Database.ConnMaxLifetime)
}

func TestConfigLoader_EnvironmentOverride(t *testing.T) {
	tmpfile := filepath.Join(t.TempDir(), "test_config_with_env_override.yaml")
	configContent := `
database:
  driver: "postgres"
  host: "yaml-db"
indexer:
  workers: 2
`

	err := os.WriteFile(tmpfile, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("MUSICMAID_DATABASE_HOST", "override-db")
	t.Setenv("MUSICMAID_BLOBS_INLINE_THRESHOLD", "2048")

	loader := NewConfigLoader()
	loader.SetConfigFile(tmpfile)

	config, err := loader.Load()
	require.NoError(t, err, "Config loading should succeed with required values")

	assert.Equal(t, "override-db", config.Database.Host)
	assert.Equal(t, 2, config.Indexer.Workers)
	assert.Equal(t, 2048, config.Blobs.InlineThreshold)
}

func TestConfigLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewConfigLoader()
	loader.viper.AddConfigPath(t.TempDir())

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, 8, config.Indexer.Workers)
	assert.Equal(t, 1024, config.Blobs.InlineThreshold)
}

func TestLoadDatabaseConfig(t *testing.T) {
	loader := NewConfigLoader()
	loader.viper.Set("database.max_open_conns", 0)
	loader.viper.Set("database.conn_max_idle_time", 0)

	dbConfig, err := loader.LoadDatabaseConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxOpenConns, dbConfig.MaxOpenConns)
	assert.Equal(t, DefaultConnMaxIdleTime, dbConfig.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Minute, dbConfig.ConnMaxLifetime)
}

func TestConfigLoader_LoadNormalizesDatabase(t *testing.T) {
	tmpfile := filepath.Join(t.TempDir(), "db.yaml")
	configContent := `
database:
  driver: " SQLite "
  path: "index.db"
  max_open_conns: 0
  max_idle_conns: 80
`
	require.NoError(t, os.WriteFile(tmpfile, []byte(configContent), 0644))

	loader := NewConfigLoader()
	loader.SetConfigFile(tmpfile)

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, DefaultMaxOpenConns, config.Database.MaxOpenConns)
	assert.Equal(t, DefaultMaxOpenConns, config.Database.MaxIdleConns)
}

func TestConfigValidation(t *testing.T) {
	validConfig := DefaultConfig()

	err := validateConfig(validConfig)
	assert.NoError(t, err)

	badDriver := *validConfig
	badDriver.Database.Driver = "mysql"
	err = validateConfig(&badDriver)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")

	missingHost := *validConfig
	missingHost.Database.Driver = "postgres"
	missingHost.Database.Host = ""
	err = validateConfig(&missingHost)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database host cannot be empty")

	noWorkers := *validConfig
	noWorkers.Indexer.Workers = 0
	err = validateConfig(&noWorkers)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "workers must be positive")

	thresholds := *validConfig
	thresholds.Blobs.InlineThreshold = 4096
	thresholds.Blobs.SpillThreshold = 1024
	err = validateConfig(&thresholds)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "spill threshold")

	padding := *validConfig
	padding.Writer.NewPadding = 1 << 24
	err = validateConfig(&padding)
	assert.Error(t, err)
}
