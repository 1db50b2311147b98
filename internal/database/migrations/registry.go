package migrations

import (
	"github.com/jmylchreest/hlsabr/internal/models"
	"gorm.io/gorm"
)

const sessionSequenceIndex = "idx_fetch_records_session_sequence"

// AllMigrations returns every migration in version order.
func AllMigrations() []Migration {
	return []Migration{
		migration001FetchRecords(),
		migration002SessionSequenceIndex(),
	}
}

func migration001FetchRecords() Migration {
	return Migration{
		Version:     "001",
		Description: "Create fetch_records table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.FetchRecord{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.FetchRecord{})
		},
	}
}

// migration002SessionSequenceIndex backs ListBySession ordering.
func migration002SessionSequenceIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index fetch_records by session and sequence",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.FetchRecord{}, sessionSequenceIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + sessionSequenceIndex + " ON fetch_records (session_id, sequence)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.FetchRecord{}, sessionSequenceIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.FetchRecord{}, sessionSequenceIndex)
		},
	}
}
