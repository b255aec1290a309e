package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/backend"
	"github.com/samply/focus-go/internal/broker"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/compiler/cql"
	"github.com/samply/focus-go/internal/config"
	"github.com/samply/focus-go/internal/identity"
	"github.com/samply/focus-go/internal/logging"
	"github.com/samply/focus-go/internal/obfuscate"
	"github.com/samply/focus-go/internal/reportcache"
	"github.com/samply/focus-go/internal/task"
)

func uuidForTest() uuid.UUID { return uuid.New() }

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// fakeAdapter records every CompiledQuery handed to it and returns a
// pre-scripted SubmitResult.
type fakeAdapter struct {
	mu      sync.Mutex
	queries []backend.CompiledQuery
	result  backend.SubmitResult
	err     error
}

func (f *fakeAdapter) CheckAvailability(ctx context.Context) error { return nil }

func (f *fakeAdapter) Submit(ctx context.Context, q backend.CompiledQuery) (backend.SubmitResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.result, f.err
}

func testIdentity(t *testing.T) identity.AppIdentity {
	t.Helper()
	id, err := identity.ParseAppIdentity("worker.proxy1.broker")
	require.NoError(t, err)
	return id
}

func singletonConditionAST(key, value string) ast.Ast {
	cond := ast.Condition{Key: key, Type: ast.Equals, Value: ast.Value{Kind: ast.ValueString, String: value}}
	bucket := ast.Operation{Operand: ast.Or, Children: []ast.Child{{Condition: &cond}}}
	group := ast.Operation{Operand: ast.And, Children: []ast.Child{{Operation: &bucket}}}
	root := ast.Operation{Operand: ast.And, Children: []ast.Child{{Operation: &group}}}
	return ast.Ast{ID: "t1", Root: root}
}

func newBrokerClient(t *testing.T, handler http.HandlerFunc) (*broker.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := broker.New(srv.URL, testIdentity(t), "api-key", srv.Client(), logging.Noop())
	return c, srv
}

func TestProcessURLParamRoundTripsThroughAdapter(t *testing.T) {
	adapter := &fakeAdapter{result: backend.SubmitResult{RawBody: "3 matches"}}
	pool := &Pool{
		adapter:        adapter,
		catalogs:       catalog.NewRegistry(catalog.CCE()),
		endpointType:   config.EndpointURLParam,
		urlParamBase:   "http://backend.invalid",
		obfuscateCfg:   obfuscate.Config{Enabled: false},
		obfuscateCache: obfuscate.NewCache(1),
		reportCache:    reportcache.New(),
		log:            logging.Noop(),
	}

	tree := singletonConditionAST("gender", "male")
	body, err := task.EncodeBody(tree)
	require.NoError(t, err)

	tsk := task.Task{ID: uuidForTest(), Metadata: task.Metadata{Project: "cce"}, Body: body}

	out, err := pool.process(context.Background(), tsk)
	require.NoError(t, err)
	assert.Equal(t, "3 matches", out)
	require.Len(t, adapter.queries, 1)
	assert.Equal(t, backend.KindURL, adapter.queries[0].Kind)
}

func TestProcessCachesFingerprintAcrossCalls(t *testing.T) {
	adapter := &fakeAdapter{result: backend.SubmitResult{RawBody: "cached-body"}}
	pool := &Pool{
		adapter:        adapter,
		catalogs:       catalog.NewRegistry(catalog.CCE()),
		endpointType:   config.EndpointURLParam,
		urlParamBase:   "http://backend.invalid",
		obfuscateCfg:   obfuscate.Config{Enabled: false},
		obfuscateCache: obfuscate.NewCache(1),
		reportCache:    reportcache.New(),
		log:            logging.Noop(),
	}

	tree := singletonConditionAST("gender", "male")
	body, _ := task.EncodeBody(tree)
	tsk := task.Task{ID: uuidForTest(), Metadata: task.Metadata{Project: "cce"}, Body: body}

	_, err := pool.process(context.Background(), tsk)
	require.NoError(t, err)
	_, err = pool.process(context.Background(), tsk)
	require.NoError(t, err)

	assert.Len(t, adapter.queries, 1, "expected the second call to hit the report cache")
}

func TestProcessExporterBypassesASTCompiler(t *testing.T) {
	adapter := &fakeAdapter{result: backend.SubmitResult{RawBody: "created"}}
	pool := &Pool{
		adapter:      adapter,
		endpointType: config.EndpointExporter,
		log:          logging.Noop(),
	}

	rawBody := base64.StdEncoding.EncodeToString([]byte(`{"query":"select 1"}`))
	tsk := task.Task{ID: uuidForTest(), Metadata: task.Metadata{Project: "exporter", Execute: true}, Body: rawBody}

	out, err := pool.process(context.Background(), tsk)
	require.NoError(t, err)
	assert.Equal(t, "created", out)
	require.Len(t, adapter.queries, 1)
	assert.Equal(t, backend.KindExporter, adapter.queries[0].Kind)
	assert.Equal(t, rawBody, adapter.queries[0].ExporterBody)
}

func TestProcessInvalidDateSurfacesDetailNotGenericParseError(t *testing.T) {
	adapter := &fakeAdapter{result: backend.SubmitResult{RawBody: "unused"}}
	pool := &Pool{
		adapter:        adapter,
		catalogs:       catalog.NewRegistry(catalog.BBMRI()),
		endpointType:   config.EndpointBlaze,
		obfuscateCfg:   obfuscate.Config{Enabled: false},
		obfuscateCache: obfuscate.NewCache(1),
		reportCache:    reportcache.New(),
		log:            logging.Noop(),
	}

	cond := ast.Condition{
		Key:   "date_of_diagnosis",
		Type:  ast.Between,
		Value: ast.Value{Kind: ast.ValueDateRange, DateRange: ast.DateRange{Min: "not-a-date", Max: "2020-01-01"}},
	}
	bucket := ast.Operation{Operand: ast.Or, Children: []ast.Child{{Condition: &cond}}}
	group := ast.Operation{Operand: ast.And, Children: []ast.Child{{Operation: &bucket}}}
	root := ast.Operation{Operand: ast.And, Children: []ast.Child{{Operation: &group}}}
	tree := ast.Ast{ID: "t1", Root: root}

	body, err := task.EncodeBody(tree)
	require.NoError(t, err)
	tsk := task.Task{ID: uuidForTest(), Metadata: task.Metadata{Project: "bbmri"}, Body: body}

	_, processErr := pool.process(context.Background(), tsk)
	require.Error(t, processErr)

	var dateErr *cql.ErrInvalidDateFormat
	require.ErrorAs(t, processErr, &dateErr, "compile error must still unwrap to the cql date error, not an opaque decodeError")

	reason := classifyError(processErr)
	assert.NotEqual(t, "Cannot parse query", reason, "invalid-date must not collapse into the generic parse-error bucket")
	assert.Contains(t, reason, "Cannot execute query:")
	assert.Contains(t, reason, "invalid date")
}

func TestHandleClaimsBeforeAnsweringSucceeded(t *testing.T) {
	var mu sync.Mutex
	var statuses []task.Status

	brokerClient, srv := newBrokerClient(t, func(w http.ResponseWriter, r *http.Request) {
		var result task.Result
		_ = decodeJSON(r, &result)
		mu.Lock()
		statuses = append(statuses, result.Status)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	defer srv.Close()

	adapter := &fakeAdapter{result: backend.SubmitResult{RawBody: "ok"}}
	pool := &Pool{
		broker:         brokerClient,
		adapter:        adapter,
		catalogs:       catalog.NewRegistry(catalog.CCE()),
		self:           testIdentity(t),
		endpointType:   config.EndpointURLParam,
		urlParamBase:   "http://backend.invalid",
		obfuscateCfg:   obfuscate.Config{Enabled: false},
		obfuscateCache: obfuscate.NewCache(1),
		reportCache:    reportcache.New(),
		log:            logging.Noop(),
	}

	tree := singletonConditionAST("gender", "male")
	body, _ := task.EncodeBody(tree)
	from, err := identity.ParseProxyIdentity("proxy2.broker")
	require.NoError(t, err)
	tsk := task.Task{ID: uuidForTest(), From: from, Metadata: task.Metadata{Project: "cce"}, Body: body}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.handle(ctx, tsk)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, statuses, 2, "expected exactly 2 answers (claimed, succeeded)")
	assert.Equal(t, []task.Status{task.Claimed, task.Succeeded}, statuses)
}

func TestHandleAnswersPermFailedOnBackendError(t *testing.T) {
	var mu sync.Mutex
	var statuses []task.Status
	var bodies []string

	brokerClient, srv := newBrokerClient(t, func(w http.ResponseWriter, r *http.Request) {
		var result task.Result
		_ = decodeJSON(r, &result)
		mu.Lock()
		statuses = append(statuses, result.Status)
		if result.Body != nil {
			bodies = append(bodies, *result.Body)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	defer srv.Close()

	adapter := &fakeAdapter{err: &backend.ErrBackendStatus{Op: "urlparam submit", Status: 500, Body: "boom"}}
	pool := &Pool{
		broker:         brokerClient,
		adapter:        adapter,
		catalogs:       catalog.NewRegistry(catalog.CCE()),
		self:           testIdentity(t),
		endpointType:   config.EndpointURLParam,
		urlParamBase:   "http://backend.invalid",
		obfuscateCfg:   obfuscate.Config{Enabled: false},
		obfuscateCache: obfuscate.NewCache(1),
		reportCache:    reportcache.New(),
		log:            logging.Noop(),
	}

	tree := singletonConditionAST("gender", "male")
	body, _ := task.EncodeBody(tree)
	from, err := identity.ParseProxyIdentity("proxy2.broker")
	require.NoError(t, err)
	tsk := task.Task{ID: uuidForTest(), From: from, Metadata: task.Metadata{Project: "cce"}, Body: body}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.handle(ctx, tsk)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, statuses, 2)
	assert.Equal(t, task.PermFailed, statuses[1])
	// The Claimed result carries no body, so only the PermFailed reason is recorded.
	require.Len(t, bodies, 1)
	assert.Equal(t, "Cannot execute query: urlparam submit: unexpected status 500: boom", bodies[0])
}
