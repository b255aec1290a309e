// Package exporter implements the Exporter backend adapter (spec.md §4.4,
// supplemented from exporter.rs): POST create-query/request depending on
// the task's execute flag, or GET status for a Status task.
package exporter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/samply/focus-go/internal/backend"
	"github.com/samply/focus-go/internal/task"
)

// requestShape names the method/verb pair for each TaskType, mirroring
// exporter.rs's CREATE/EXECUTE Params constants.
type requestShape struct {
	method string
	doing  string
}

var (
	createShape  = requestShape{method: "create-query", doing: "creating"}
	executeShape = requestShape{method: "request", doing: "executing"}
)

// Adapter talks to an exporter service that accepts opaque query bodies
// and tracks them by an execution id.
type Adapter struct {
	baseURL   string
	authValue string // full "x-api-key" header value
	http      *http.Client
}

// New builds an exporter adapter. apiKey is sent as the x-api-key header,
// matching exporter.rs's make_authheader.
func New(baseURL, apiKey string, httpClient *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, authValue: apiKey, http: httpClient}
}

// CheckAvailability is unimplemented upstream (exporter.rs's own
// check_availability is a TODO returning true unconditionally); Focus
// mirrors that rather than inventing an endpoint that does not exist.
func (a *Adapter) CheckAvailability(ctx context.Context) error {
	return nil
}

// Submit dispatches on q.ExporterTaskType. The exporter's reply is opaque
// text, not a count, so it comes back as SubmitResult.RawBody rather than
// a Report (spec.md §4.4's pass-through answer path).
func (a *Adapter) Submit(ctx context.Context, q backend.CompiledQuery) (backend.SubmitResult, error) {
	if q.Kind != backend.KindExporter {
		return backend.SubmitResult{}, fmt.Errorf("exporter: wrong query kind %d", q.Kind)
	}

	switch task.ExporterTaskType(q.ExporterTaskType) {
	case task.ExporterStatus:
		return a.status(ctx, q.ExporterBody)
	case task.ExporterExecute:
		return a.post(ctx, executeShape, q.ExporterBody)
	default:
		return a.post(ctx, createShape, q.ExporterBody)
	}
}

func (a *Adapter) setAuth(req *http.Request) {
	if a.authValue != "" {
		req.Header.Set("x-api-key", a.authValue)
	}
}

func (a *Adapter) post(ctx context.Context, shape requestShape, base64Body string) (backend.SubmitResult, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Body)
	if err != nil {
		raw = []byte(base64Body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/"+shape.method, bytes.NewReader(raw))
	if err != nil {
		return backend.SubmitResult{}, err
	}
	a.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "exporter " + shape.doing, Body: err.Error()}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "exporter " + shape.doing, Status: resp.StatusCode, Body: string(respBody)}
	}

	return backend.SubmitResult{RawBody: string(respBody)}, nil
}

func (a *Adapter) status(ctx context.Context, base64Body string) (backend.SubmitResult, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Body)
	if err != nil {
		raw = []byte(base64Body)
	}

	var parsed struct {
		QueryExecutionID string `json:"query-execution-id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.QueryExecutionID == "" {
		return backend.SubmitResult{}, fmt.Errorf("exporter: status body missing query-execution-id: %w", err)
	}

	url := fmt.Sprintf("%s/status?query-execution-id=%s", a.baseURL, parsed.QueryExecutionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backend.SubmitResult{}, err
	}
	a.setAuth(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "exporter status", Body: err.Error()}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return backend.SubmitResult{}, &backend.ErrBackendStatus{Op: "exporter status", Status: resp.StatusCode, Body: string(respBody)}
	}

	return backend.SubmitResult{RawBody: string(respBody)}, nil
}
