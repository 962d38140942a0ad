package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sydlexius/musicmap/internal/history"
	"github.com/sydlexius/musicmap/internal/location"
	"github.com/sydlexius/musicmap/internal/version"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

type resolveRequest struct {
	Artists []location.ArtistRequest `json:"artists"`
}

// handleResolveLocations resolves the posted artists and returns one flat
// location object per distinct, non-empty name in input order.
func (r *Router) handleResolveLocations(w http.ResponseWriter, req *http.Request) {
	var body resolveRequest
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Artists) > r.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("at most %d artists per request", r.maxBatch))
		return
	}
	for i := range body.Artists {
		m := body.Artists[i].Meta
		body.Artists[i].Meta = location.NewSideMetadata(m.Genres, m.ProfileURL, m.ImageURL, m.ExternalURI)
	}

	res := r.resolver.ResolveBatch(req.Context(), body.Artists)
	r.logger.Debug("batch served",
		slog.String("run_id", res.RunID),
		slog.Int("requested", len(body.Artists)),
		slog.Int("returned", len(res.Locations)))
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	runs, err := r.historyService.List(req.Context(), limit)
	if err != nil {
		r.logger.Error("listing runs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	run, err := r.historyService.Get(req.Context(), req.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		r.logger.Error("getting run", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
