package main

import (
	"fmt"
	"log"
	"os"

	"github.com/SatoriAU/site-audit/satori/postgres"
	"gorm.io/gorm"
)

func main() {
	rollback := len(os.Args) > 1 && os.Args[1] == "--rollback"

	db, err := postgres.Open(os.Getenv("SATORI_POSTGRES_DSN"))
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}

	if rollback {
		log.Println("🔄 Running migration rollback...")
		if err := migrateDown(db); err != nil {
			log.Fatalf("❌ Rollback failed: %v", err)
		}
		log.Println("✅ Rollback completed successfully")
		return
	}

	log.Println("🔄 Starting migration 001: Add audit run tables")
	if err := migrateUp(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Migration 001 completed successfully")
}

func migrateUp(db *gorm.DB) error {
	log.Println("📊 Creating audit_runs and update_events tables...")

	tables := []string{
		`CREATE TABLE IF NOT EXISTS audit_runs (
			id BIGSERIAL PRIMARY KEY,
			run_id VARCHAR(64) UNIQUE NOT NULL,
			type VARCHAR(32) NOT NULL,
			"user" VARCHAR(255),
			at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS update_events (
			id BIGSERIAL PRIMARY KEY,
			event_id VARCHAR(64) UNIQUE NOT NULL,
			action VARCHAR(20) NOT NULL,
			type VARCHAR(20) NOT NULL,
			items JSONB,
			at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}
	for _, sql := range tables {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("✅ Tables created")

	log.Println("📊 Creating indexes...")
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_runs_at ON audit_runs(at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_audit_runs_type ON audit_runs(type);",
		"CREATE INDEX IF NOT EXISTS idx_update_events_at ON update_events(at DESC);",
	}
	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	log.Println("✅ All indexes created")

	return nil
}

func migrateDown(db *gorm.DB) error {
	log.Println("🔄 Rolling back audit tables...")

	for _, sql := range []string{
		"DROP INDEX IF EXISTS idx_update_events_at;",
		"DROP INDEX IF EXISTS idx_audit_runs_type;",
		"DROP INDEX IF EXISTS idx_audit_runs_at;",
	} {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("⚠️  Warning: Failed to drop index: %v", err)
		}
	}

	for _, sql := range []string{"DROP TABLE IF EXISTS update_events;", "DROP TABLE IF EXISTS audit_runs;"} {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	log.Println("✅ Audit tables rolled back")
	return nil
}
