package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/sydlexius/musicmap/internal/backup"
)

func (r *Router) handleListBackups(w http.ResponseWriter, req *http.Request) {
	list, err := r.backup.List()
	if err != nil {
		r.logger.Error("listing backups", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreateBackup writes a snapshot, then applies the retention policy.
func (r *Router) handleCreateBackup(w http.ResponseWriter, req *http.Request) {
	info, err := r.backup.Backup(req.Context())
	if err != nil {
		r.logger.Error("creating backup", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	if _, err := r.backup.Prune(); err != nil {
		r.logger.Warn("pruning backups", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusCreated, info)
}

func (r *Router) handleDeleteBackup(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("filename")
	if !backup.ValidFilename(name) {
		writeError(w, http.StatusBadRequest, "invalid backup filename")
		return
	}
	if err := r.backup.Delete(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "backup not found")
			return
		}
		r.logger.Error("deleting backup", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
