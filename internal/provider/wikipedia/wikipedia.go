package wikipedia

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/sydlexius/musicmap/internal/provider"
)

const defaultBaseURL = "https://en.wikipedia.org"

// maxPageBytes caps how much of an article is read; infoboxes sit at the top.
const maxPageBytes = 4 << 20

// Adapter is the biography source backed by English Wikipedia article pages.
type Adapter struct {
	client    *http.Client
	limiter   *provider.RateLimiterMap
	logger    *slog.Logger
	baseURL   string
	userAgent string
}

// New creates a Wikipedia adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger, contact string) *Adapter {
	return NewWithBaseURL(limiter, logger, contact, defaultBaseURL)
}

// NewWithBaseURL creates a Wikipedia adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, contact, baseURL string) *Adapter {
	return &Adapter{
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   limiter,
		logger:    logger.With(slog.String("provider", "wikipedia")),
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
func (a *Adapter) Name() provider.ProviderName { return provider.NameWikipedia }

// GetInfobox fetches the article for slug and returns the label/value rows
// of its first infobox table in page order. A missing page or a page without
// an infobox yields *provider.ErrNotFound.
func (a *Adapter) GetInfobox(ctx context.Context, slug string) ([]provider.InfoboxRow, error) {
	body, err := a.doRequest(ctx, a.baseURL+"/wiki/"+url.PathEscape(slug), slug)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	doc, err := html.Parse(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing article: %w", err)
	}

	table := findInfobox(doc)
	if table == nil {
		return nil, &provider.ErrNotFound{
			Provider: provider.NameWikipedia,
			ID:       slug + " infobox",
		}
	}
	return infoboxRows(table), nil
}

// TestConnection verifies connectivity by fetching the main page.
func (a *Adapter) TestConnection(ctx context.Context) error {
	body, err := a.doRequest(ctx, a.baseURL+"/wiki/Main_Page", "Main_Page")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// doRequest executes an HTTP GET with rate limiting and returns the open body
// of a 200 response.
func (a *Adapter) doRequest(ctx context.Context, reqURL, id string) (io.ReadCloser, error) {
	if err := a.limiter.Wait(ctx, provider.NameWikipedia); err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.NameWikipedia,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "text/html")

	a.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + escaped slug
	if err != nil {
		return nil, &provider.ErrProviderUnavailable{
			Provider: provider.NameWikipedia,
			Cause:    err,
		}
	}

	if err := provider.CheckStatus(provider.NameWikipedia, resp, id); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}
