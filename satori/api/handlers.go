package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/access"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/export"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/runlog"
	"github.com/SatoriAU/site-audit/satori/scheduler"
	"github.com/SatoriAU/site-audit/satori/snapshot"
	"github.com/SatoriAU/site-audit/satori/store"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// ReportBuilder builds reports on demand.
type ReportBuilder interface {
	Build(ctx context.Context, persist bool) (*report.Report, error)
	CachedJSON(ctx context.Context) (string, time.Time, error)
}

// RunTrigger starts manual runs.
type RunTrigger interface {
	RunNow(ctx context.Context, test bool, user string) (scheduler.Result, error)
}

// TestMailer sends the recipient preview email.
type TestMailer interface {
	SendTest(ctx context.Context, me string) ([]string, error)
}

// Handlers holds the collaborators of the API routes.
type Handlers struct {
	Config    *config.Config
	Reports   ReportBuilder
	Runner    RunTrigger
	Runs      runlog.RunLog
	Snapshots *snapshot.Manager
	Mailer    TestMailer
	Keys      store.KVStore
	Policy    *access.Policy
	Renderer  export.Renderer
	Clock     satori.Clock
}

type ctxKey struct{}

// UserFrom returns the authenticated user stored on ctx.
func UserFrom(ctx context.Context) (access.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(access.User)
	return u, ok
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Authenticate resolves the API key into a user. A missing or unknown key
// is rejected with 401.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(APIKeyHeader)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		meta, err := store.ValidateAPIKey(r.Context(), h.Keys, raw)
		if err != nil {
			if errors.Is(err, store.ErrInvalidAPIKey) {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			slog.Error("API key lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "key lookup failed")
			return
		}
		user := access.UserFromOwner(meta.Owner)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

func (h *Handlers) require(check func(access.User) error, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if err := check(user); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireDashboard enforces dashboard access.
func (h *Handlers) RequireDashboard(next http.Handler) http.Handler {
	return h.require(h.Policy.RequireDashboard, next)
}

// RequireSettings enforces settings access.
func (h *Handlers) RequireSettings(next http.Handler) http.Handler {
	return h.require(h.Policy.RequireSettings, next)
}

// ReportHandler builds a fresh report (without persisting) and serves it in
// the requested format. json?cached=1 serves the last refreshed JSON.
func (h *Handlers) ReportHandler(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")

	if format == export.FormatJSON && r.URL.Query().Get("cached") == "1" {
		data, at, err := h.Reports.CachedJSON(r.Context())
		if err == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			if !at.IsZero() {
				w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
			}
			_, _ = w.Write([]byte(data))
			return
		}
		if !store.IsNotFound(err) {
			slog.Warn("Cached JSON unavailable, building fresh report", "error", err)
		}
	}

	rep, err := h.Reports.Build(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := export.OptionsFromConfig(h.Config, h.Clock)
	dl, err := export.Render(r.Context(), rep, format, opts, h.Renderer)
	if err != nil {
		if errors.Is(err, export.ErrUnknownFormat) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	disposition := "attachment"
	if dl.Inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, dl.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Body)))
	if _, err := w.Write(dl.Body); err != nil {
		slog.Error("Failed to write export", "format", format, "error", err)
	}
}

// RunResponse describes a completed manual run.
type RunResponse struct {
	Run        runlog.Run `json:"run"`
	TotalScore int        `json:"total_score"`
	HasHigh    bool       `json:"has_high"`
}

// RunHandler triggers a manual run; ?test=1 makes it a test run.
func (h *Handlers) RunHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	test := r.URL.Query().Get("test") == "1"

	res, err := h.Runner.RunNow(r.Context(), test, user.Name())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{
		Run:        res.Run,
		TotalScore: res.Report.Scores.Total,
		HasHigh:    res.Report.HasHigh(),
	})
}

// RunListResponse is the run log page.
type RunListResponse struct {
	Latest *runlog.Run  `json:"latest"`
	Runs   []runlog.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// RunListHandler lists the run log. pref picks the summary entry (any,
// full, test, scheduled).
func (h *Handlers) RunListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := runlog.Filters{Type: q.Get("type")}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	runs, total, err := h.Runs.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	latest, err := h.Runs.Latest(r.Context(), runlog.ParsePreference(q.Get("pref")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if f.Limit <= 0 {
		f.Limit = runlog.DefaultLimit
	}
	writeJSON(w, http.StatusOK, RunListResponse{Latest: latest, Runs: runs, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// HistoryResponse lists stored monthly snapshots, newest first.
type HistoryResponse struct {
	Months []*store.MonthlySnapshot `json:"months"`
}

// HistoryHandler returns the monthly history.
func (h *Handlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	months, err := h.Snapshots.ListMonths(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := HistoryResponse{Months: make([]*store.MonthlySnapshot, 0, len(months))}
	for _, m := range months {
		snap, err := h.Snapshots.GetMonth(r.Context(), m)
		if err != nil {
			slog.Warn("Skipping unreadable snapshot", "month", m, "error", err)
			continue
		}
		out.Months = append(out.Months, snap)
	}
	writeJSON(w, http.StatusOK, out)
}

// NotifyTestRequest optionally overrides the preview address.
type NotifyTestRequest struct {
	Email string `json:"email"`
}

// NotifyTestResponse lists who a real report would reach.
type NotifyTestResponse struct {
	SentTo     string   `json:"sent_to"`
	Recipients []string `json:"recipients"`
}

// NotifyTestHandler sends the recipient preview email to the caller.
func (h *Handlers) NotifyTestHandler(w http.ResponseWriter, r *http.Request) {
	var req NotifyTestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}
	if req.Email == "" {
		user, _ := UserFrom(r.Context())
		req.Email = user.Email
	}
	if req.Email == "" {
		req.Email = h.Config.Notify.AdminEmail
	}

	recipients, err := h.Mailer.SendTest(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if recipients == nil {
		recipients = []string{}
	}
	writeJSON(w, http.StatusOK, NotifyTestResponse{SentTo: req.Email, Recipients: recipients})
}
