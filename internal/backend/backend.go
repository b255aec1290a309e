// Package backend defines the capability every concrete data-endpoint
// adapter implements (spec.md §9 "polymorphic backend dispatch" design
// note) and the flattened report shape the obfuscator consumes.
package backend

import (
	"context"
	"fmt"
)

// Report is a parsed, not-yet-obfuscated measure result: total counts per
// population group plus per-stratifier breakdowns (spec.md §4.5 "a parsed
// measure-report flattened to { totals, stratifiers }").
type Report struct {
	Totals      map[string]int64
	Stratifiers map[string]map[string]int64
}

// Adapter is the capability the worker pool programs against; it knows
// nothing about which concrete backend (FHIR measure evaluator, imaging
// SQL store, exporter service, URL-param API) it is talking to.
type Adapter interface {
	// CheckAvailability probes the backend once at startup.
	CheckAvailability(ctx context.Context) error
	// Submit executes a compiled query and returns its result.
	Submit(ctx context.Context, q CompiledQuery) (SubmitResult, error)
}

// SubmitResult is what an adapter hands back to the worker. Exactly one of
// Report or RawBody is populated: the FHIR and imaging-SQL backends return
// a Report (numeric counts the obfuscator can perturb); the exporter and
// URL-param backends return an opaque RawBody that passes straight through
// to the broker untouched, since obfuscation assumes counts and these
// backends' replies are not counts.
type SubmitResult struct {
	Report  *Report
	RawBody string
}

// QueryKind discriminates which dialect a CompiledQuery carries, so a
// misrouted query (e.g. SQL handed to the FHIR adapter) fails loudly
// instead of silently.
type QueryKind int

const (
	KindFHIRBundle QueryKind = iota
	KindSQL
	KindURL
	KindExporter
)

// CompiledQuery is the union of everything a dialect compiler can hand to
// an adapter. Exactly the fields matching Kind are meaningful.
type CompiledQuery struct {
	Kind QueryKind

	// FHIRBundleJSON is the cql.Envelope output: a transaction Bundle
	// carrying both the Library and Measure resources.
	FHIRBundleJSON string
	MeasureURL     string // canonical urn:uuid:<measure-uuid> to evaluate

	SQL string // sqlimaging.Compile output

	URL string // urlparam.Compile output

	// ExporterBody/ExporterTaskType bypass the AST compiler entirely —
	// ExporterBody is the task's raw base64 body, which the exporter
	// adapter base64-decodes before posting it (spec.md §4.4,
	// supplemented from exporter.rs).
	ExporterBody     string
	ExporterTaskType string
}

// ErrBackendStatus is a non-2xx response from a backend HTTP call,
// classified as "Cannot execute query: {detail}" per spec.md §7.
type ErrBackendStatus struct {
	Op     string
	Status int
	Body   string
}

func (e *ErrBackendStatus) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}
