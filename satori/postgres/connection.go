// File: connection.go
package postgres

import (
	"context"
	"fmt"

	"github.com/SatoriAU/site-audit/satori/postgres/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultDSN points at the bundled database container.
const DefaultDSN = "host=satori-postgres user=postgres password=password dbname=satori port=5432 sslmode=disable"

// Open connects to PostgreSQL.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the run log tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.AuditRun{},
		&models.UpdateEvent{},
	); err != nil {
		return fmt.Errorf("error migrating database schema: %w", err)
	}
	return nil
}

// Ping checks the underlying connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
