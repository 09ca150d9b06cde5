package config

import (
	"strings"
	"time"
)

// Default recommended values for the postgres pool.
// sqlite always runs with a single open connection.
const (
	DefaultMaxOpenConns    = 50
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultConnMaxIdleTime = 15 * time.Minute
)

// LoadDatabaseConfig reads the database section. The driver name is
// normalized and pool settings left at zero, as by a config file that
// names them without a value, fall back to the defaults.
func (l *ConfigLoader) LoadDatabaseConfig() (*DatabaseConfig, error) {
	var config DatabaseConfig
	if err := l.viper.UnmarshalKey("database", &config); err != nil {
		return nil, err
	}

	config.Driver = strings.ToLower(strings.TrimSpace(config.Driver))
	applyPoolDefaults(&config)
	return &config, nil
}

func applyPoolDefaults(config *DatabaseConfig) {
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = DefaultMaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = DefaultMaxIdleConns
	}
	if config.MaxIdleConns > config.MaxOpenConns {
		config.MaxIdleConns = config.MaxOpenConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if config.ConnMaxIdleTime <= 0 {
		config.ConnMaxIdleTime = DefaultConnMaxIdleTime
	}
}
