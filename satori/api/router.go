package api

import (
	"net/http"
)

// SetupRoutes registers the audit routes on mux.
func SetupRoutes(mux *http.ServeMux, h *Handlers) {
	// Reports and runs need dashboard access
	mux.Handle("GET /api/v1/report/{format}", h.Authenticate(h.RequireDashboard(http.HandlerFunc(h.ReportHandler))))
	mux.Handle("POST /api/v1/runs", h.Authenticate(h.RequireDashboard(http.HandlerFunc(h.RunHandler))))
	mux.Handle("GET /api/v1/runs", h.Authenticate(h.RequireDashboard(http.HandlerFunc(h.RunListHandler))))
	mux.Handle("GET /api/v1/history", h.Authenticate(h.RequireDashboard(http.HandlerFunc(h.HistoryHandler))))

	// Notification settings need settings access
	mux.Handle("POST /api/v1/notify/test", h.Authenticate(h.RequireSettings(http.HandlerFunc(h.NotifyTestHandler))))
}
