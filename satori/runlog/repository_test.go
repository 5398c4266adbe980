package runlog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SatoriAU/site-audit/satori/postgres/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB builds SQL for PostgreSQL without connecting.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=postgres dbname=satori sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("❌ Failed to open dry-run database: %v", err)
	}
	return db
}

func TestPruneSQL(t *testing.T) {
	t.Log("\n🔍 Testing run log prune queries...")

	db := dryRunDB(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	byAge := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return deleteRunsBefore(tx, now.Add(-MaxAge))
	})
	if !strings.HasPrefix(byAge, `DELETE FROM "audit_runs" WHERE at < '2023-03-02 09:00:00`) {
		t.Errorf("❌ Age prune SQL = %q", byAge)
	}

	byCount := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return deleteBeyondNewest(tx, &models.AuditRun{}, MaxRuns)
	})
	if !strings.HasPrefix(byCount, `DELETE FROM "audit_runs" WHERE id NOT IN (SELECT`) ||
		!strings.Contains(byCount, `FROM "audit_runs" ORDER BY at DESC, id DESC LIMIT 500)`) {
		t.Errorf("❌ Count cap SQL = %q", byCount)
	}

	t.Log("✅ Prune queries target audit_runs by age and newest 500")
}

func TestUpdateCapSQL(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return deleteBeyondNewest(tx, &models.UpdateEvent{}, MaxUpdates)
	})
	if !strings.HasPrefix(sql, `DELETE FROM "update_events" WHERE id NOT IN (SELECT`) ||
		!strings.Contains(sql, `FROM "update_events" ORDER BY at DESC, id DESC LIMIT 50)`) {
		t.Errorf("❌ Update cap SQL = %q", sql)
	}
}

func TestRepositoryRecordInDryRun(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := NewRepository(dryRunDB(t), clock)

	run, err := repo.Record(context.Background(), models.RunFull, "")
	if err != nil {
		t.Fatalf("❌ Record failed: %v", err)
	}
	if run.User != "System" || run.Type != models.RunFull || run.ID == "" || !run.At.Equal(clock.now) {
		t.Errorf("❌ Recorded run = %+v", run)
	}
}
