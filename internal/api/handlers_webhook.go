package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sydlexius/musicmap/internal/webhook"
)

type webhookBody struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Type    string   `json:"type"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

func (r *Router) handleListWebhooks(w http.ResponseWriter, req *http.Request) {
	webhooks, err := r.webhookService.List(req.Context())
	if err != nil {
		r.logger.Error("listing webhooks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (r *Router) handleGetWebhook(w http.ResponseWriter, req *http.Request) {
	wh, err := r.webhookService.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		r.webhookError(w, "getting webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (r *Router) handleCreateWebhook(w http.ResponseWriter, req *http.Request) {
	var body webhookBody
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wh := &webhook.Webhook{
		Name:    body.Name,
		URL:     body.URL,
		Type:    body.Type,
		Events:  body.Events,
		Enabled: true,
	}
	if body.Enabled != nil {
		wh.Enabled = *body.Enabled
	}

	if err := r.webhookService.Create(req.Context(), wh); err != nil {
		r.webhookError(w, "creating webhook", err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (r *Router) handleUpdateWebhook(w http.ResponseWriter, req *http.Request) {
	existing, err := r.webhookService.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		r.webhookError(w, "getting webhook", err)
		return
	}

	var body webhookBody
	if err := decodeJSON(w, req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.Name != "" {
		existing.Name = body.Name
	}
	if body.URL != "" {
		existing.URL = body.URL
	}
	if body.Type != "" {
		existing.Type = body.Type
	}
	if body.Events != nil {
		existing.Events = body.Events
	}
	if body.Enabled != nil {
		existing.Enabled = *body.Enabled
	}

	if err := r.webhookService.Update(req.Context(), existing); err != nil {
		r.webhookError(w, "updating webhook", err)
		return
	}
	updated, err := r.webhookService.GetByID(req.Context(), existing.ID)
	if err != nil {
		r.webhookError(w, "getting webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleDeleteWebhook(w http.ResponseWriter, req *http.Request) {
	if err := r.webhookService.Delete(req.Context(), req.PathValue("id")); err != nil {
		r.webhookError(w, "deleting webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// webhookError maps service errors onto status codes.
func (r *Router) webhookError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, webhook.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case errors.Is(err, webhook.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error(op, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
