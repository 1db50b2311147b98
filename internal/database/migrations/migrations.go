// Package migrations provides versioned schema management for the fetch
// history database. Applied versions are tracked in schema_migrations.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is a single schema change.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// MigrationRecord tracks an applied migration.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;size:32;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// Migrator applies and rolls back migrations.
type Migrator struct {
	db         *gorm.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator creates a Migrator for db holding the given migrations.
func NewMigrator(db *gorm.DB, logger *slog.Logger, migrations ...Migration) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &Migrator{db: db, logger: logger, migrations: sorted}
}

func (m *Migrator) init(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("initializing migrations table: %w", err)
	}
	return nil
}

// Up applies every pending migration in version order.
func (m *Migrator) Up(ctx context.Context) error {
	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		m.logger.InfoContext(ctx, "applying migration",
			slog.String("version", migration.Version),
			slog.String("description", migration.Description),
		)

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     migration.Version,
				Description: migration.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.init(ctx); err != nil {
		return err
	}

	var record MigrationRecord
	if err := m.db.WithContext(ctx).Order("version DESC").First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("getting last migration: %w", err)
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == record.Version {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration definition not found for version %s", record.Version)
	}
	if migration.Down == nil {
		return fmt.Errorf("migration %s does not support rollback", record.Version)
	}

	m.logger.InfoContext(ctx, "rolling back migration", slog.String("version", migration.Version))

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return fmt.Errorf("rolling back migration %s: %w", migration.Version, err)
		}
		return tx.Where("version = ?", migration.Version).Delete(&MigrationRecord{}).Error
	})
}

// Pending returns the migrations not yet applied, in version order.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.init(ctx); err != nil {
		return nil, err
	}

	var records []MigrationRecord
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Version] = true
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if !applied[migration.Version] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}
