package db

import (
	"fmt"

	"github.com/arasmith/signalbox/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Repo{},
		&models.Run{},
		&models.StationExecution{},
		&models.Artifact{},
		&models.IdempotencyClaim{},
		&models.QueueMessage{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
