// Package fetcher performs rate-limited HTTP requests against market data
// endpoints and classifies failures for the retry layer.
package fetcher

import (
	"context"
	"net/http"
	"net/url"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Get fetches rawURL with the query params and extra headers and returns
	// the body decoded to UTF-8.
	Get(ctx context.Context, rawURL string, params url.Values, header http.Header) ([]byte, error)
}
