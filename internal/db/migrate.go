package db

import (
	"fmt"

	"github.com/zulandar/gitdeploy/internal/config"
	"github.com/zulandar/gitdeploy/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.TrackedRepository{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Init prepares the configured database: for MySQL it creates the
// database if needed, then it migrates the schema.
func Init(c config.DatabaseConfig) (*gorm.DB, error) {
	if c.Driver == "mysql" {
		admin, err := ConnectAdmin(c)
		if err != nil {
			return nil, err
		}
		if err := CreateDatabase(admin, c.Name); err != nil {
			return nil, err
		}
		if sqlDB, err := admin.DB(); err == nil {
			sqlDB.Close()
		}
	}
	db, err := Connect(c)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
