// Package urlparam implements the URL-param backend adapter (spec.md §4.4):
// GET the dialect-compiled search URL with an optional bearer token, and
// pass the response straight through unobfuscated.
package urlparam

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/samply/focus-go/internal/backend"
)

// Adapter talks to a backend that answers plain GET requests with an
// opaque body (not a count), matching the urlparam compiler dialect.
type Adapter struct {
	bearerToken string
	http        *http.Client
}

// New builds a URL-param adapter. bearerToken is optional; when empty, no
// Authorization header is sent.
func New(bearerToken string, httpClient *http.Client) *Adapter {
	return &Adapter{bearerToken: bearerToken, http: httpClient}
}

// CheckAvailability sends no request and always reports the backend as up:
// the adapter holds no base URL of its own (each Submit carries a full
// compiled URL), so there is nothing to probe at startup.
func (a *Adapter) CheckAvailability(ctx context.Context) error {
	return nil
}

// Submit GETs q.URL and returns the body untouched.
func (a *Adapter) Submit(ctx context.Context, q backend.CompiledQuery) (backend.SubmitResult, error) {
	if q.Kind != backend.KindURL {
		return backend.SubmitResult{}, fmt.Errorf("urlparam: wrong query kind %d", q.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.URL, nil)
	if err != nil {
		return backend.SubmitResult{}, err
	}
	if a.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.bearerToken)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "urlparam submit", Body: err.Error()}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.SubmitResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "urlparam submit", Status: resp.StatusCode, Body: string(respBody)}
	}

	return backend.SubmitResult{RawBody: string(respBody)}, nil
}
