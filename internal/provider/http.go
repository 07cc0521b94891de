package provider

import (
	"net/http"
	"time"
)

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Verify http.Client implements HTTPClient
var _ HTTPClient = (*http.Client)(nil)

// defaultTimeout bounds a single generateContent call. The caller's context
// may cut it shorter.
const defaultTimeout = 120 * time.Second

func defaultClient() HTTPClient {
	return &http.Client{Timeout: defaultTimeout}
}
