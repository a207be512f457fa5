package migrations

import (
	"github.com/jmylchreest/dubarr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create task and processing log tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Task{},
				&models.ProcessingLog{},
			)
		},
	}
}
