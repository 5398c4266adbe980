package store

import (
	"time"

	"github.com/SatoriAU/site-audit/satori"
)

// MonthlySnapshot is the persisted baseline for one calendar month.
type MonthlySnapshot struct {
	Month    string            `json:"month"` // YYYY-MM
	Created  time.Time         `json:"created"`
	Scores   satori.ScoreSet   `json:"scores"`
	Plugins  map[string]string `json:"plugins"`
	Overview satori.Overview   `json:"overview"`
}

// MonthKey formats t as the YYYY-MM history key suffix.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
