package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/musicmap/internal/provider"
)

const defaultBaseURL = "https://musicbrainz.org/ws/2"

// DefaultSearchLimit is the number of candidates requested per search.
const DefaultSearchLimit = 3

// Adapter is the music registry source backed by the MusicBrainz web service.
type Adapter struct {
	client    *http.Client
	limiter   *provider.RateLimiterMap
	logger    *slog.Logger
	baseURL   string
	userAgent string
}

// New creates a MusicBrainz adapter with the default base URL. contact is
// embedded in the User-Agent as the service requires.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger, contact string) *Adapter {
	return NewWithBaseURL(limiter, logger, contact, defaultBaseURL)
}

// NewWithBaseURL creates a MusicBrainz adapter with a custom base URL (for testing or mirrors).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, contact, baseURL string) *Adapter {
	return &Adapter{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:   limiter,
		logger:    logger.With(slog.String("provider", "musicbrainz")),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: provider.UserAgent(contact),
	}
}

// SetTimeout overrides the per-request timeout.
func (a *Adapter) SetTimeout(d time.Duration) {
	if d > 0 {
		a.client.Timeout = d
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.ProviderName { return provider.NameMusicBrainz }

// SearchArtist returns up to limit artists matching name, best score first.
func (a *Adapter) SearchArtist(ctx context.Context, name string, limit int) ([]provider.ArtistSearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	params := url.Values{
		"query": {name},
		"fmt":   {"json"},
		"limit": {strconv.Itoa(limit)},
	}
	reqURL := a.baseURL + "/artist?" + params.Encode()

	body, err := a.doRequest(ctx, reqURL, name)
	if err != nil {
		return nil, err
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := make([]provider.ArtistSearchResult, 0, len(resp.Artists))
	for _, mb := range resp.Artists {
		results = append(results, provider.ArtistSearchResult{
			ProviderID:     mb.ID,
			Name:           mb.Name,
			SortName:       mb.SortName,
			Type:           mb.Type,
			Disambiguation: mb.Disambiguation,
			Country:        mb.Country,
			Area:           mb.Area.name(),
			BeginArea:      mb.BeginArea.name(),
			Score:          mb.Score,
		})
	}
	return results, nil
}

// GetArtistArea fetches the full record for an artist and returns its areas.
func (a *Adapter) GetArtistArea(ctx context.Context, mbid string) (*provider.ArtistArea, error) {
	params := url.Values{"fmt": {"json"}}
	reqURL := a.baseURL + "/artist/" + url.PathEscape(mbid) + "?" + params.Encode()

	body, err := a.doRequest(ctx, reqURL, mbid)
	if err != nil {
		return nil, err
	}

	var mb MBArtist
	if err := json.Unmarshal(body, &mb); err != nil {
		return nil, fmt.Errorf("parsing artist response: %w", err)
	}

	return &provider.ArtistArea{
		ProviderID: mb.ID,
		Name:       mb.Name,
		Area:       mb.Area.name(),
		BeginArea:  mb.BeginArea.name(),
		Country:    mb.Country,
	}, nil
}

// TestConnection verifies connectivity to the MusicBrainz API.
func (a *Adapter) TestConnection(ctx context.Context) error {
	params := url.Values{
		"query": {"test"},
		"fmt":   {"json"},
		"limit": {"1"},
	}
	_, err := a.doRequest(ctx, a.baseURL+"/artist?"+params.Encode(), "test")
	return err
}

// doRequest executes an HTTP GET with rate limiting and standard headers.
func (a *Adapter) doRequest(ctx context.Context, reqURL, id string) ([]byte, error) {
	if err := a.limiter.Wait(ctx, provider.NameMusicBrainz); err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.NameMusicBrainz,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")

	a.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + escaped input
	if err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.NameMusicBrainz,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := provider.CheckStatus(provider.NameMusicBrainz, resp, id); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	return io.ReadAll(io.LimitReader(resp.Body, 512*1024))
}
