package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sydlexius/musicmap/internal/provider"
)

// checkTimeout bounds a full connectivity sweep.
const checkTimeout = 30 * time.Second

type providerStatus struct {
	Name        provider.ProviderName        `json:"name"`
	DisplayName string                       `json:"display_name"`
	Registered  bool                         `json:"registered"`
	Capability  *provider.ProviderCapability `json:"capability,omitempty"`
}

// handleListProviders returns every known source with its access model and
// documented rate limits.
func (r *Router) handleListProviders(w http.ResponseWriter, req *http.Request) {
	caps := provider.ProviderCapabilities()
	statuses := make([]providerStatus, 0, len(provider.AllProviderNames()))
	for _, name := range provider.AllProviderNames() {
		s := providerStatus{
			Name:        name,
			DisplayName: name.DisplayName(),
			Registered:  r.providerRegistry.Get(name) != nil,
		}
		if c, ok := caps[name]; ok {
			s.Capability = &c
		}
		statuses = append(statuses, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}

// handleCheckProviders runs a connectivity check against every registered
// source. It answers 200 even when sources are down; the body says which.
func (r *Router) handleCheckProviders(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
	defer cancel()

	results := r.providerRegistry.CheckAll(ctx)
	if results == nil {
		results = []provider.CheckResult{}
	}
	healthy := true
	for _, res := range results {
		if !res.OK {
			healthy = false
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": healthy, "results": results})
}
