package database

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"musicmaid/internal/models"
)

// MigrationManager manages database migrations
type MigrationManager struct {
	db     *gorm.DB
	logger *zerolog.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *gorm.DB, logger *zerolog.Logger) *MigrationManager {
	return &MigrationManager{
		db:     db,
		logger: logger,
	}
}

// Migrate runs database migrations
func (m *MigrationManager) Migrate() error {
	if err := m.configureDialect(); err != nil {
		return fmt.Errorf("failed to configure %s: %w", m.db.Dialector.Name(), err)
	}

	if err := m.migrateTables(); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	if err := m.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if m.logger != nil {
		m.logger.Info().Msg("Database migrations completed successfully")
	}
	return nil
}

// migrateTables handles migration of all tables via GORM
func (m *MigrationManager) migrateTables() error {
	if err := m.db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	return nil
}

// createIndexes adds the lookup index used by comment reconciliation
func (m *MigrationManager) createIndexes() error {
	return m.db.Exec("CREATE INDEX IF NOT EXISTS idx_vorbis_comments_meta_key ON vorbis_comments (meta_id, key)").Error
}

// configureDialect applies per-driver settings before tables are created
func (m *MigrationManager) configureDialect() error {
	switch m.db.Dialector.Name() {
	case "sqlite":
		// WAL is ignored by in-memory databases
		return m.db.Exec("PRAGMA journal_mode=WAL").Error
	default:
		return nil
	}
}
