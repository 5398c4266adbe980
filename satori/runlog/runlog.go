// Package runlog keeps the audit run history and the recent host update
// events in PostgreSQL.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/postgres/models"
)

const (
	// MaxAge is how long run entries are kept.
	MaxAge = 365 * 24 * time.Hour
	// MaxRuns caps the run log length.
	MaxRuns = 500
	// MaxUpdates caps the update event log length.
	MaxUpdates = 50

	DefaultLimit = 50
	MaxLimit     = 500
)

// Run is one audit run.
type Run struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

// String formats the run for the "Last Audit Run" summary.
func (r Run) String() string {
	return fmt.Sprintf("%s – %s – by %s", r.Type, r.At.Format("2 January 2006 @ 15:04"), r.User)
}

// Preference selects which run the summary shows.
type Preference string

const (
	PreferAny       Preference = "any"
	PreferFull      Preference = "full"
	PreferTest      Preference = "test"
	PreferScheduled Preference = "scheduled"
)

// ParsePreference maps unknown values to PreferAny.
func ParsePreference(s string) Preference {
	switch p := Preference(strings.ToLower(strings.TrimSpace(s))); p {
	case PreferFull, PreferTest, PreferScheduled:
		return p
	default:
		return PreferAny
	}
}

// RunType is the run type a preference matches, or "" for any.
func (p Preference) RunType() string {
	switch p {
	case PreferFull:
		return models.RunFull
	case PreferTest:
		return models.RunTest
	case PreferScheduled:
		return models.RunScheduled
	default:
		return ""
	}
}

// Filters narrows List.
type Filters struct {
	Type   string
	Since  *time.Time
	Limit  int
	Offset int
}

func (f Filters) normalized() Filters {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// RunLog records audit runs and update events.
type RunLog interface {
	Record(ctx context.Context, runType, user string) (Run, error)
	Latest(ctx context.Context, pref Preference) (*Run, error)
	List(ctx context.Context, f Filters) ([]Run, int, error)
	RecordUpdate(ctx context.Context, ev satori.UpdateEvent) error
	Updates(ctx context.Context, limit int) ([]satori.UpdateEvent, error)
}

// Repository is the PostgreSQL RunLog.
type Repository struct {
	db    *gorm.DB
	clock satori.Clock
}

// NewRepository wraps an open connection.
func NewRepository(db *gorm.DB, clock satori.Clock) *Repository {
	if clock == nil {
		clock = satori.SystemClock{}
	}
	return &Repository{db: db, clock: clock}
}

// Record appends a run and prunes the log.
func (r *Repository) Record(ctx context.Context, runType, user string) (Run, error) {
	if user == "" {
		user = "System"
	}
	row := models.AuditRun{
		RunID: uuid.NewString(),
		Type:  runType,
		User:  user,
		At:    r.clock.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Run{}, fmt.Errorf("failed to record run: %w", err)
	}
	if _, err := r.Prune(ctx); err != nil {
		return toRun(row), err
	}
	return toRun(row), nil
}

// Prune drops runs older than MaxAge and everything beyond the newest
// MaxRuns. It returns the number of rows removed.
func (r *Repository) Prune(ctx context.Context) (int64, error) {
	db := r.db.WithContext(ctx)

	res := deleteRunsBefore(db, r.clock.Now().UTC().Add(-MaxAge))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune old runs: %w", res.Error)
	}
	removed := res.RowsAffected

	res = deleteBeyondNewest(db, &models.AuditRun{}, MaxRuns)
	if res.Error != nil {
		return removed, fmt.Errorf("failed to cap run log: %w", res.Error)
	}
	return removed + res.RowsAffected, nil
}

func deleteRunsBefore(db *gorm.DB, cutoff time.Time) *gorm.DB {
	return db.Where("at < ?", cutoff).Delete(&models.AuditRun{})
}

// deleteBeyondNewest keeps the newest n rows of model by at, then id.
func deleteBeyondNewest(db *gorm.DB, model interface{}, n int) *gorm.DB {
	keep := db.Model(model).Select("id").Order("at DESC, id DESC").Limit(n)
	return db.Where("id NOT IN (?)", keep).Delete(model)
}

// Latest returns the newest run matching pref, or nil when none does.
func (r *Repository) Latest(ctx context.Context, pref Preference) (*Run, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditRun{})
	if t := pref.RunType(); t != "" {
		q = q.Where("type = ?", t)
	}
	var rows []models.AuditRun
	if err := q.Order("at DESC, id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	run := toRun(rows[0])
	return &run, nil
}

// List returns runs newest first with the total before paging.
func (r *Repository) List(ctx context.Context, f Filters) ([]Run, int, error) {
	f = f.normalized()
	q := r.db.WithContext(ctx).Model(&models.AuditRun{})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Since != nil {
		q = q.Where("at >= ?", *f.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	var rows []models.AuditRun
	if err := q.Order("at DESC, id DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query runs: %w", err)
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, toRun(row))
	}
	return runs, int(total), nil
}

// RecordUpdate stores an update event and keeps the newest MaxUpdates.
func (r *Repository) RecordUpdate(ctx context.Context, ev satori.UpdateEvent) error {
	row, err := toUpdateRow(ev, r.clock.Now().UTC())
	if err != nil {
		return err
	}
	db := r.db.WithContext(ctx)
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record update event: %w", err)
	}
	if err := deleteBeyondNewest(db, &models.UpdateEvent{}, MaxUpdates).Error; err != nil {
		return fmt.Errorf("failed to cap update log: %w", err)
	}
	return nil
}

// Updates returns recent update events, newest first.
func (r *Repository) Updates(ctx context.Context, limit int) ([]satori.UpdateEvent, error) {
	if limit <= 0 || limit > MaxUpdates {
		limit = MaxUpdates
	}
	var rows []models.UpdateEvent
	if err := r.db.WithContext(ctx).Order("at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query update events: %w", err)
	}
	out := make([]satori.UpdateEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := fromUpdateRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func toRun(row models.AuditRun) Run {
	return Run{ID: row.RunID, Type: row.Type, User: row.User, At: row.At}
}

func toUpdateRow(ev satori.UpdateEvent, now time.Time) (models.UpdateEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = now
	}
	raw, err := json.Marshal(ev.Items)
	if err != nil {
		return models.UpdateEvent{}, fmt.Errorf("failed to encode update items: %w", err)
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return models.UpdateEvent{}, fmt.Errorf("failed to encode update items: %w", err)
	}
	return models.UpdateEvent{
		EventID: ev.ID,
		Action:  string(ev.Action),
		Type:    ev.Type,
		Items:   models.JSONB{"items": items},
		At:      ev.At,
	}, nil
}

func fromUpdateRow(row models.UpdateEvent) (satori.UpdateEvent, error) {
	ev := satori.UpdateEvent{
		ID:     row.EventID,
		Action: satori.UpdateAction(row.Action),
		Type:   row.Type,
		At:     row.At,
	}
	if items, ok := row.Items["items"]; ok {
		raw, err := json.Marshal(items)
		if err != nil {
			return ev, fmt.Errorf("failed to decode update items: %w", err)
		}
		if err := json.Unmarshal(raw, &ev.Items); err != nil {
			return ev, fmt.Errorf("failed to decode update items: %w", err)
		}
	}
	return ev, nil
}
