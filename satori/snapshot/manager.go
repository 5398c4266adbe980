package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/SatoriAU/site-audit/satori/store"
)

const (
	keyPrefix = "satori:history:"
	// DefaultKeepMonths is how many months of history survive Cleanup by default.
	DefaultKeepMonths = 12
)

// Manager handles monthly snapshot CRUD and retention.
type Manager struct {
	kvStore store.KVStore
}

// NewManager creates a new Manager instance
func NewManager(kvStore store.KVStore) *Manager {
	return &Manager{kvStore: kvStore}
}

func monthKey(month string) string {
	return keyPrefix + month
}

// SaveMonth writes snap under its month, replacing any entry for that month.
func (m *Manager) SaveMonth(ctx context.Context, snap *store.MonthlySnapshot) error {
	if snap.Month == "" {
		return fmt.Errorf("monthly snapshot has no month")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal monthly snapshot: %w", err)
	}
	if err := m.kvStore.SetValue(ctx, monthKey(snap.Month), string(data)); err != nil {
		return fmt.Errorf("failed to store monthly snapshot %s: %w", snap.Month, err)
	}
	slog.Debug("Saved monthly snapshot", "month", snap.Month, "plugins", len(snap.Plugins))
	return nil
}

// GetMonth retrieves the snapshot for a YYYY-MM month.
func (m *Manager) GetMonth(ctx context.Context, month string) (*store.MonthlySnapshot, error) {
	raw, err := m.kvStore.GetValue(ctx, monthKey(month))
	if err != nil {
		return nil, fmt.Errorf("snapshot not found for month %s: %w", month, err)
	}

	var snap store.MonthlySnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", month, err)
	}
	if snap.Month == "" {
		snap.Month = month
	}
	return &snap, nil
}

// ListMonths returns every stored month, most recent first.
func (m *Manager) ListMonths(ctx context.Context) ([]string, error) {
	keys, err := m.kvStore.ListKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	months := make([]string, 0, len(keys))
	for _, key := range keys {
		if month := strings.TrimPrefix(key, keyPrefix); month != key && month != "" {
			months = append(months, month)
		}
	}

	// YYYY-MM sorts lexically.
	sort.Slice(months, func(i, j int) bool {
		return months[i] > months[j]
	})
	return months, nil
}

// LatestBefore returns the most recent snapshot whose month is strictly
// earlier than month, skipping entries that fail to load. It returns nil
// when there is none.
func (m *Manager) LatestBefore(ctx context.Context, month string) (*store.MonthlySnapshot, error) {
	months, err := m.ListMonths(ctx)
	if err != nil {
		return nil, err
	}
	for _, candidate := range months {
		if candidate >= month {
			continue
		}
		snap, err := m.GetMonth(ctx, candidate)
		if err != nil {
			slog.Warn("Skipping unreadable monthly snapshot", "month", candidate, "error", err)
			continue
		}
		return snap, nil
	}
	return nil, nil
}

// Cleanup keeps only the keep most recent months and returns how many were
// deleted.
func (m *Manager) Cleanup(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		keep = DefaultKeepMonths
	}
	months, err := m.ListMonths(ctx)
	if err != nil {
		return 0, err
	}
	if len(months) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, month := range months[keep:] {
		if err := m.kvStore.DeleteValue(ctx, monthKey(month)); err != nil {
			// Log but continue cleanup
			slog.Warn("Failed to delete old snapshot", "month", month, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
