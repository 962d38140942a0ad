package api

import (
	"log/slog"
	"net/http"
)

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.maintenance.Status(req.Context())
	if err != nil {
		r.logger.Error("reading maintenance status", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleMaintenanceRun performs a maintenance pass immediately. Partial
// failures still return the report alongside the error.
func (r *Router) handleMaintenanceRun(w http.ResponseWriter, req *http.Request) {
	rep, err := r.maintenance.RunOnce(req.Context())
	if err != nil {
		r.logger.Error("running maintenance", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
