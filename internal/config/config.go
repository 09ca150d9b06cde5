package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig represents the main application configuration
type AppConfig struct {
	Database DatabaseConfig `mapstructure:"database"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Blobs    BlobConfig     `mapstructure:"blobs"`
	Writer   WriterConfig   `mapstructure:"writer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite database file
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// IndexerConfig controls the scan and index passes
type IndexerConfig struct {
	Workers        int      `mapstructure:"workers"`
	FilesPerSecond float64  `mapstructure:"files_per_second"` // 0 disables the limit
	Extensions     []string `mapstructure:"extensions"`
	Schedule       string   `mapstructure:"schedule"` // cron spec for periodic rescans
}

// BlobConfig controls the blob deduplication store
type BlobConfig struct {
	InlineThreshold int    `mapstructure:"inline_threshold"` // values larger than this go to the blob store
	SpillThreshold  int    `mapstructure:"spill_threshold"`  // blobs larger than this are written to spill_dir
	SpillDir        string `mapstructure:"spill_dir"`
	StorePictures   bool   `mapstructure:"store_pictures"` // store PICTURE block image data as blobs
}

// WriterConfig controls tag rewrites
type WriterConfig struct {
	NewPadding   int    `mapstructure:"new_padding"`   // padding emitted when a file is rewritten
	ReserveBytes uint64 `mapstructure:"reserve_bytes"` // free space kept on the volume by copy-on-write rewrites
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	UseOTLP  bool   `mapstructure:"use_otlp"`
}

// ConfigLoader loads configuration with its own viper instance
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader with search paths, defaults and env binding
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MUSICMAID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &ConfigLoader{viper: v}
}

// SetConfigFile points the loader at an explicit config file
func (l *ConfigLoader) SetConfigFile(path string) {
	l.viper.SetConfigFile(path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "musicmaid.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "musicmaid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", DefaultConnMaxIdleTime)

	v.SetDefault("indexer.workers", 8)
	v.SetDefault("indexer.files_per_second", 0)
	v.SetDefault("indexer.extensions", []string{".flac", ".opus", ".ogg", ".oga"})
	v.SetDefault("indexer.schedule", "")

	v.SetDefault("blobs.inline_threshold", 1024)
	v.SetDefault("blobs.spill_threshold", 1<<20)
	v.SetDefault("blobs.spill_dir", "blobs")
	v.SetDefault("blobs.store_pictures", true)

	v.SetDefault("writer.new_padding", 8192)
	v.SetDefault("writer.reserve_bytes", 16<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.use_otlp", false)
}

// Load reads the config file (if any), applies env overrides and validates
func (l *ConfigLoader) Load() (*AppConfig, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults
	}

	var config AppConfig
	if err := l.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	dbConfig, err := l.LoadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling database config: %w", err)
	}
	config.Database = *dbConfig

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the configuration produced by defaults alone
func DefaultConfig() *AppConfig {
	v := viper.New()
	setDefaults(v)
	var config AppConfig
	_ = v.Unmarshal(&config)
	return &config
}

// validateConfig validates the configuration values
func validateConfig(config *AppConfig) error {
	switch config.Database.Driver {
	case "sqlite":
		if config.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", config.Database.Driver)
	}

	if config.Indexer.Workers <= 0 {
		return fmt.Errorf("indexer workers must be positive")
	}

	if config.Indexer.FilesPerSecond < 0 {
		return fmt.Errorf("indexer files_per_second cannot be negative")
	}

	if config.Blobs.InlineThreshold < 0 {
		return fmt.Errorf("blob inline threshold cannot be negative")
	}

	if config.Blobs.SpillThreshold < config.Blobs.InlineThreshold {
		return fmt.Errorf("blob spill threshold must not be below the inline threshold")
	}

	if config.Blobs.SpillDir == "" {
		return fmt.Errorf("blob spill directory cannot be empty")
	}

	if config.Writer.NewPadding < 0 || config.Writer.NewPadding > 1<<24-1 {
		return fmt.Errorf("writer new_padding must fit in a metadata block")
	}

	return nil
}
