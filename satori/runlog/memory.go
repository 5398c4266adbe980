package runlog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/postgres/models"
)

// MemoryLog is an in-process RunLog for tests and --memory mode. It
// applies the same retention rules as Repository.
type MemoryLog struct {
	mu      sync.Mutex
	clock   satori.Clock
	runs    []Run // newest first
	updates []models.UpdateEvent
}

// NewMemoryLog returns an empty log.
func NewMemoryLog(clock satori.Clock) *MemoryLog {
	if clock == nil {
		clock = satori.SystemClock{}
	}
	return &MemoryLog{clock: clock}
}

func (m *MemoryLog) Record(_ context.Context, runType, user string) (Run, error) {
	if user == "" {
		user = "System"
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	run := Run{ID: uuid.NewString(), Type: runType, User: user, At: now}
	m.runs = append([]Run{run}, m.runs...)

	cutoff := now.Add(-MaxAge)
	kept := m.runs[:0]
	for _, r := range m.runs {
		if !r.At.Before(cutoff) && len(kept) < MaxRuns {
			kept = append(kept, r)
		}
	}
	m.runs = kept
	return run, nil
}

func (m *MemoryLog) Latest(_ context.Context, pref Preference) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := pref.RunType()
	for _, r := range m.runs {
		if want == "" || r.Type == want {
			run := r
			return &run, nil
		}
	}
	return nil, nil
}

func (m *MemoryLog) List(_ context.Context, f Filters) ([]Run, int, error) {
	f = f.normalized()
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Run
	for _, r := range m.runs {
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Since != nil && r.At.Before(*f.Since) {
			continue
		}
		matched = append(matched, r)
	}
	total := len(matched)
	if f.Offset >= total {
		return []Run{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return append([]Run(nil), matched[f.Offset:end]...), total, nil
}

func (m *MemoryLog) RecordUpdate(_ context.Context, ev satori.UpdateEvent) error {
	row, err := toUpdateRow(ev, m.clock.Now().UTC())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append([]models.UpdateEvent{row}, m.updates...)
	if len(m.updates) > MaxUpdates {
		m.updates = m.updates[:MaxUpdates]
	}
	return nil
}

func (m *MemoryLog) Updates(_ context.Context, limit int) ([]satori.UpdateEvent, error) {
	if limit <= 0 || limit > MaxUpdates {
		limit = MaxUpdates
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]satori.UpdateEvent, 0, limit)
	for i, row := range m.updates {
		if i == limit {
			break
		}
		ev, err := fromUpdateRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
