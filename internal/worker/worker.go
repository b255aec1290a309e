// Package worker implements the bounded producer/consumer pool that drives
// poll -> claim -> compile -> execute -> obfuscate -> answer (spec.md §4.1,
// §5 "Concurrency & Resource Model").
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/samply/focus-go/internal/backend"
	"github.com/samply/focus-go/internal/broker"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/compiler/cql"
	"github.com/samply/focus-go/internal/compiler/sqlimaging"
	urlparamc "github.com/samply/focus-go/internal/compiler/urlparam"
	"github.com/samply/focus-go/internal/config"
	"github.com/samply/focus-go/internal/identity"
	"github.com/samply/focus-go/internal/logging"
	"github.com/samply/focus-go/internal/obfuscate"
	"github.com/samply/focus-go/internal/observability"
	"github.com/samply/focus-go/internal/reportcache"
	"github.com/samply/focus-go/internal/task"
)

// queueSize and consumerPermits are the two design constants spec.md §4.1
// fixes: a 32-task producer buffer and 3 concurrent consumers.
const (
	queueSize       = 32
	consumerPermits = 3
)

// Pool runs the long-poll producer and its bounded consumers until ctx is
// cancelled.
type Pool struct {
	broker  *broker.Client
	adapter backend.Adapter
	catalogs *catalog.Registry
	self    identity.AppIdentity

	endpointType  config.EndpointType
	urlParamBase  string
	obfuscateCfg  obfuscate.Config
	obfuscateCache *obfuscate.Cache
	reportCache   *reportcache.Cache

	log logging.Logger
}

// New builds a pool. self is the worker's own broker identity, sent as the
// sender of every Claimed, Succeeded and PermFailed result.
func New(
	brokerClient *broker.Client,
	adapter backend.Adapter,
	catalogs *catalog.Registry,
	self identity.AppIdentity,
	endpointType config.EndpointType,
	urlParamBase string,
	obfuscateCfg obfuscate.Config,
	obfuscateCache *obfuscate.Cache,
	reportCache *reportcache.Cache,
	log logging.Logger,
) *Pool {
	return &Pool{
		broker:         brokerClient,
		adapter:        adapter,
		catalogs:       catalogs,
		self:           self,
		endpointType:   endpointType,
		urlParamBase:   urlParamBase,
		obfuscateCfg:   obfuscateCfg,
		obfuscateCache: obfuscateCache,
		reportCache:    reportCache,
		log:            log,
	}
}

// Run blocks until ctx is cancelled, long-polling the broker and dispatching
// polled tasks to a bounded pool of consumers, each of which claims its task (spec.md §4.1's producer ->
// bounded-buffer -> multi-consumer channel).
func (p *Pool) Run(ctx context.Context) error {
	tasks := make(chan task.Task, queueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.produce(ctx, tasks)
	}()

	sem := make(chan struct{}, consumerPermits)
	var consumerWG sync.WaitGroup

consume:
	for {
		select {
		case <-ctx.Done():
			break consume
		case t, ok := <-tasks:
			if !ok {
				break consume
			}
			observability.SetQueueDepth(len(tasks))
			sem <- struct{}{}
			consumerWG.Add(1)
			go func(t task.Task) {
				defer consumerWG.Done()
				defer func() { <-sem; observability.SetInFlight(len(sem)) }()
				observability.SetInFlight(len(sem))
				p.handle(ctx, t)
			}(t)
		}
	}

	consumerWG.Wait()
	wg.Wait()
	return ctx.Err()
}

// produce long-polls for tasks and pushes them into the bounded channel
// until ctx is cancelled.
func (p *Pool) produce(ctx context.Context, tasks chan<- task.Task) {
	defer close(tasks)
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := p.broker.PollTasks(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("worker: poll failed, retrying", "error", err)
			continue
		}
		for _, t := range claimed {
			select {
			case tasks <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handle runs the full claim/process/answer lifecycle for a single task
// (spec.md §4.1 step 2), isolating its failure from the rest of the pool.
func (p *Pool) handle(ctx context.Context, t task.Task) {
	tracer := otel.Tracer(observability.Tracer)
	ctx, span := tracer.Start(ctx, "handle_task")
	defer span.End()

	start := time.Now()
	observability.RecordTaskClaimed(string(p.endpointType))

	var claimWG sync.WaitGroup
	claimWG.Add(1)
	go func() {
		defer claimWG.Done()
		if err := p.broker.Answer(ctx, task.ClaimedResult(t, p.self)); err != nil {
			p.log.Warn("worker: claim failed, continuing", "task_id", t.ID, "error", err)
		}
	}()

	result, processErr := p.process(ctx, t)

	// The claim future must be joined before the final answer is sent, so
	// the broker always observes Claimed before Succeeded/PermFailed
	// (spec.md §5 "Ordering").
	claimWG.Wait()

	var final task.Result
	status := "succeeded"
	if processErr != nil {
		final = task.PermFailedResult(t, p.self, classifyError(processErr))
		status = "perm_failed"
		p.log.Warn("worker: task failed", "task_id", t.ID, "error", processErr)
	} else {
		final = task.SucceededResult(t, p.self, result)
	}

	if err := p.broker.AnswerWithRetry(ctx, final); err != nil {
		p.log.Error("worker: giving up answering task", "task_id", t.ID, "error", err)
	}

	observability.RecordTaskAnswered(string(p.endpointType), status, time.Since(start).Seconds())
}

// classifyError maps an internal error to the PermFailed body text spec.md
// §4.1/§7 name for each error kind.
func classifyError(err error) string {
	switch err.(type) {
	case *decodeError:
		return "Cannot parse query"
	case *obfuscateError:
		return "Cannot obfuscate result"
	default:
		return fmt.Sprintf("Cannot execute query: %s", err.Error())
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// classifyCompileError distinguishes compile errors that still carry a
// query-specific detail worth surfacing — ErrInvalidDateFormat and
// ErrOperatorValueMismatch (spec.md §7/§8.5: "Invalid date ... -> PermFailed
// with InvalidDateFormat") — from genuine decode/parse failures (bad
// payload, unknown criterion, unknown LOINC code, shape violations). Only
// the latter are wrapped as a decodeError, so classifyError emits "Cannot
// parse query" for just those and preserves the detail for the rest.
func classifyCompileError(err error) error {
	var dateErr *cql.ErrInvalidDateFormat
	var mismatchErr *cql.ErrOperatorValueMismatch
	if errors.As(err, &dateErr) || errors.As(err, &mismatchErr) {
		return err
	}
	return &decodeError{err: err}
}

type obfuscateError struct{ err error }

func (e *obfuscateError) Error() string { return e.err.Error() }
func (e *obfuscateError) Unwrap() error { return e.err }

// process runs compile -> execute -> obfuscate for one task, consulting the
// report cache first (spec.md §4.6).
func (p *Pool) process(ctx context.Context, t task.Task) (string, error) {
	if p.endpointType == config.EndpointExporter {
		return p.processExporter(ctx, t)
	}

	fp := reportcache.Fingerprint64(t.Metadata.Project, t.Body)
	if cached, ok := p.reportCache.Get(fp); ok {
		return cached, nil
	}

	q, err := p.compile(t)
	if err != nil {
		return "", classifyCompileError(err)
	}

	submitStart := time.Now()
	result, err := p.adapter.Submit(ctx, q)
	observability.RecordBackendSubmit(string(p.endpointType), time.Since(submitStart).Seconds())
	if err != nil {
		return "", err
	}

	if result.Report == nil {
		// URL-param backends answer with an opaque body; obfuscation does
		// not apply (spec.md §4.4).
		p.reportCache.Put(fp, result.RawBody)
		return result.RawBody, nil
	}

	obfuscated := p.obfuscateCache.Obfuscate(obfuscate.Report{
		Totals:      result.Report.Totals,
		Stratifiers: result.Report.Stratifiers,
	}, p.obfuscateCfg)

	body, err := encodeObfuscatedReport(obfuscated)
	if err != nil {
		return "", &obfuscateError{err: err}
	}

	p.reportCache.Put(fp, body)
	return body, nil
}

// processExporter bypasses the AST compiler entirely: the task's raw
// base64 body is forwarded to the exporter backend unchanged (spec.md
// §4.4, supplemented from exporter.rs).
func (p *Pool) processExporter(ctx context.Context, t task.Task) (string, error) {
	q := backend.CompiledQuery{
		Kind:             backend.KindExporter,
		ExporterBody:     t.Body,
		ExporterTaskType: string(t.Metadata.ExporterTaskType()),
	}

	submitStart := time.Now()
	result, err := p.adapter.Submit(ctx, q)
	observability.RecordBackendSubmit(string(p.endpointType), time.Since(submitStart).Seconds())
	if err != nil {
		return "", err
	}
	return result.RawBody, nil
}

// compile decodes the task body and renders it into the dialect its
// endpoint_type requires.
func (p *Pool) compile(t task.Task) (backend.CompiledQuery, error) {
	payload, err := task.DecodeBody(t.Body)
	if err != nil {
		return backend.CompiledQuery{}, err
	}
	if payload.Kind == task.PayloadIntermediateRep {
		return compileIntermediateRep(p.endpointType, payload.IR)
	}

	cat, err := p.catalogs.Lookup(t.Metadata.Project)
	if err != nil {
		return backend.CompiledQuery{}, err
	}

	switch p.endpointType {
	case config.EndpointBlaze:
		doc, err := cql.Compile(*payload.Ast, &cat.CQL)
		if err != nil {
			return backend.CompiledQuery{}, err
		}
		envelope, measureURL := cql.EnvelopeWithMeasureURL(doc, &cat.CQL)
		return backend.CompiledQuery{Kind: backend.KindFHIRBundle, FHIRBundleJSON: envelope, MeasureURL: measureURL}, nil

	case config.EndpointOmop:
		sql, err := sqlimaging.Compile(*payload.Ast, &cat.Imaging)
		if err != nil {
			return backend.CompiledQuery{}, err
		}
		return backend.CompiledQuery{Kind: backend.KindSQL, SQL: sql}, nil

	case config.EndpointURLParam:
		url, err := urlparamc.Compile(p.urlParamBase, *payload.Ast, &cat.Imaging)
		if err != nil {
			return backend.CompiledQuery{}, err
		}
		return backend.CompiledQuery{Kind: backend.KindURL, URL: url}, nil

	default:
		return backend.CompiledQuery{}, fmt.Errorf("worker: unsupported endpoint type %q", p.endpointType)
	}
}

// compileIntermediateRep handles a task that already carries a pre-compiled
// query, bypassing the AST compiler (supplemented from intermediate_rep.rs
// — see SPEC_FULL.md §12). The IR's own declared language must match the
// configured endpoint.
func compileIntermediateRep(endpointType config.EndpointType, ir *task.IntermediateRep) (backend.CompiledQuery, error) {
	switch endpointType {
	case config.EndpointBlaze:
		if ir.Lang != "cql" {
			return backend.CompiledQuery{}, fmt.Errorf("worker: intermediate rep lang %q does not match endpoint blaze", ir.Lang)
		}
		return backend.CompiledQuery{Kind: backend.KindFHIRBundle, FHIRBundleJSON: ir.Query}, nil
	case config.EndpointOmop:
		if ir.Lang != "sql" {
			return backend.CompiledQuery{}, fmt.Errorf("worker: intermediate rep lang %q does not match endpoint omop", ir.Lang)
		}
		return backend.CompiledQuery{Kind: backend.KindSQL, SQL: ir.Query}, nil
	case config.EndpointURLParam:
		if ir.Lang != "url" {
			return backend.CompiledQuery{}, fmt.Errorf("worker: intermediate rep lang %q does not match endpoint urlparam", ir.Lang)
		}
		return backend.CompiledQuery{Kind: backend.KindURL, URL: ir.Query}, nil
	default:
		return backend.CompiledQuery{}, fmt.Errorf("worker: unsupported endpoint type %q for intermediate rep", endpointType)
	}
}

func encodeObfuscatedReport(r obfuscate.ObfuscatedReport) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
