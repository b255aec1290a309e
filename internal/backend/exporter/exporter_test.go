package exporter

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samply/focus-go/internal/backend"
	"github.com/samply/focus-go/internal/task"
)

func TestSubmitCreatesQueryWhenNotExecuteTask(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("x-api-key")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()

	a := New(srv.URL, "secret-key", srv.Client())
	q := backend.CompiledQuery{
		Kind:             backend.KindExporter,
		ExporterBody:     base64.StdEncoding.EncodeToString([]byte(`{"query":"select 1"}`)),
		ExporterTaskType: string(task.ExporterCreate),
	}

	result, err := a.Submit(context.Background(), q)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotPath != "/create-query" {
		t.Fatalf("expected POST /create-query, got %s", gotPath)
	}
	if gotAuth != "secret-key" {
		t.Fatalf("expected x-api-key header, got %q", gotAuth)
	}
	if result.RawBody != "created" {
		t.Fatalf("expected raw pass-through body, got %q", result.RawBody)
	}
	if result.Report != nil {
		t.Fatalf("expected no report for exporter results, got %+v", result.Report)
	}
}

func TestSubmitExecutesQueryWhenExecuteTask(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("executing"))
	}))
	defer srv.Close()

	a := New(srv.URL, "", srv.Client())
	q := backend.CompiledQuery{
		Kind:             backend.KindExporter,
		ExporterBody:     base64.StdEncoding.EncodeToString([]byte(`{"query":"select 1"}`)),
		ExporterTaskType: string(task.ExporterExecute),
	}

	if _, err := a.Submit(context.Background(), q); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotPath != "/request" {
		t.Fatalf("expected POST /request, got %s", gotPath)
	}
}

func TestSubmitPollsStatusByQueryExecutionID(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"finished"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "", srv.Client())
	statusBody := base64.StdEncoding.EncodeToString([]byte(`{"query-execution-id":"abc-123"}`))
	q := backend.CompiledQuery{
		Kind:             backend.KindExporter,
		ExporterBody:     statusBody,
		ExporterTaskType: string(task.ExporterStatus),
	}

	result, err := a.Submit(context.Background(), q)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotURL != "/status?query-execution-id=abc-123" {
		t.Fatalf("unexpected status URL: %s", gotURL)
	}
	if result.RawBody != `{"status":"finished"}` {
		t.Fatalf("unexpected raw body: %q", result.RawBody)
	}
}

func TestSubmitRejectsWrongQueryKind(t *testing.T) {
	a := New("http://example.invalid", "", http.DefaultClient)
	_, err := a.Submit(context.Background(), backend.CompiledQuery{Kind: backend.KindSQL})
	if err == nil {
		t.Fatal("expected an error for a non-exporter query kind")
	}
}

func TestSubmitPropagatesNon200AsBackendStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	a := New(srv.URL, "", srv.Client())
	q := backend.CompiledQuery{
		Kind:             backend.KindExporter,
		ExporterBody:     base64.StdEncoding.EncodeToString([]byte(`{}`)),
		ExporterTaskType: string(task.ExporterCreate),
	}
	_, err := a.Submit(context.Background(), q)
	if _, ok := err.(*backend.ErrBackendStatus); !ok {
		t.Fatalf("expected ErrBackendStatus, got %T (%v)", err, err)
	}
}

func TestCheckAvailabilityAlwaysSucceeds(t *testing.T) {
	a := New("http://example.invalid", "", http.DefaultClient)
	if err := a.CheckAvailability(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
