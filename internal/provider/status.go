package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// defaultRetryAfter is used when a 429/503 carries no usable Retry-After header.
const defaultRetryAfter = 2 * time.Second

// CheckStatus maps a non-200 response to the typed source errors. It returns
// nil for 200 OK. The caller still owns the response body.
func CheckStatus(name ProviderName, resp *http.Response, id string) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return &ErrNotFound{Provider: name, ID: id}
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return &ErrProviderUnavailable{
			Provider:   name,
			Cause:      fmt.Errorf("HTTP %d", resp.StatusCode),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return &ErrProviderUnavailable{
			Provider: name,
			Cause:    fmt.Errorf("unexpected HTTP %d", resp.StatusCode),
		}
	}
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}
