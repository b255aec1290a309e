// Package cql compiles the canonical criteria AST into the FHIR-based
// clinical query language dialect (spec.md §4.2): retrieval/filter
// bifurcation, per-project snippet tables, and the outer CQL/measure
// templates.
package cql

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/logging"
)

// maxDepth bounds the recursion over Operation nesting (spec.md §9 design
// note: "bound recursion depth (~10 levels)").
const maxDepth = 10

// Log receives warnings about catalog gaps encountered during compilation
// (e.g. a referenced code system with no known URI) and about skipped
// condition types. Callers wire a scoped
// logger in at startup; it defaults to discarding everything so the package
// stays usable without one.
var Log logging.Logger = logging.Noop()

// orderedSet preserves first-insertion order while deduplicating, used for
// the running code_systems set the algorithm builds up as it walks the
// tree.
type orderedSet struct {
	order []string
	seen  map[string]bool
}

func newOrderedSet(seed []string) *orderedSet {
	s := &orderedSet{seen: make(map[string]bool, len(seed))}
	for _, v := range seed {
		s.add(v)
	}
	return s
}

func (s *orderedSet) add(v string) {
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.order = append(s.order, v)
}

// Document is the compiled CQL document body, prior to being wrapped in the
// measure-evaluator JSON envelope.
type Document struct {
	CQL string
}

// Compile translates an AST into a single CQL document by substituting into
// the project's cql_template.
func Compile(tree ast.Ast, cat *catalog.CQL) (Document, error) {
	codeSystems := newOrderedSet(cat.MandatoryCodeSystems)

	retrieval, filter, err := compileOperation(tree.Root, 0, cat, codeSystems)
	if err != nil {
		return Document{}, err
	}

	filter = collapseDanglingGroups(filter)

	if isEmptyOrParensOnly(retrieval) {
		retrieval = "true"
	}

	filterClause := ""
	if strings.TrimSpace(filter) != "" {
		filterClause = "where (" + filter + ")"
	}

	lists := renderCodeSystemLines(codeSystems.order, cat.CodeSystems)

	out := cat.Template
	out = strings.ReplaceAll(out, "{{lists}}", lists)
	out = strings.ReplaceAll(out, "{{retrieval_criteria}}", retrieval)
	out = strings.ReplaceAll(out, "{{filter_criteria}}", filterClause)

	return Document{CQL: out}, nil
}

// Envelope wraps a compiled Document inside the project's body_template,
// generating fresh library/measure UUIDs independently per call.
func Envelope(doc Document, cat *catalog.CQL) string {
	envelope, _ := EnvelopeWithMeasureURL(doc, cat)
	return envelope
}

// EnvelopeWithMeasureURL is Envelope plus the canonical measure URL the
// caller must pass to the FHIR adapter's $evaluate-measure call, since the
// measure UUID is generated fresh inside the envelope and otherwise lost
// to the caller.
func EnvelopeWithMeasureURL(doc Document, cat *catalog.CQL) (envelope string, measureURL string) {
	libraryUUID := uuid.New().String()
	measureUUID := uuid.New().String()
	encoded := base64.StdEncoding.EncodeToString([]byte(doc.CQL))

	out := cat.BodyTemplate
	out = strings.ReplaceAll(out, "{{LIBRARY_UUID}}", libraryUUID)
	out = strings.ReplaceAll(out, "{{MEASURE_UUID}}", measureUUID)
	out = strings.ReplaceAll(out, "{{LIBRARY_ENCODED}}", encoded)
	return out, "urn:uuid:" + measureUUID
}

// compileOperation implements spec.md §4.2 step 3's "If Operation" bullet.
// It is used uniformly for the root Operation and every nested one: an
// Operation with no children produces empty fragments (the tautology case);
// otherwise children are joined with the operand's infix, the retrieval
// fragment is wrapped in one pair of parentheses, and the filter fragment
// has any trailing dangling-operator residue truncated.
func compileOperation(op ast.Operation, depth int, cat *catalog.CQL, codeSystems *orderedSet) (string, string, error) {
	if depth > maxDepth {
		return "", "", &ErrQueryTooDeep{MaxDepth: maxDepth}
	}
	if len(op.Children) == 0 {
		return "", "", nil
	}

	infix := op.Operand.Infix()
	retrievalParts := make([]string, 0, len(op.Children))
	filterParts := make([]string, 0, len(op.Children))

	for _, child := range op.Children {
		rFrag, fFrag, err := compileChild(child, depth+1, cat, codeSystems)
		if err != nil {
			return "", "", err
		}
		retrievalParts = append(retrievalParts, rFrag)
		if strings.TrimSpace(fFrag) != "" {
			filterParts = append(filterParts, fFrag)
		}
	}

	retrieval := "(" + strings.Join(retrievalParts, infix) + ")"
	filter := truncateTrailingResidue(strings.Join(filterParts, infix))

	return retrieval, filter, nil
}

func compileChild(child ast.Child, depth int, cat *catalog.CQL, codeSystems *orderedSet) (string, string, error) {
	if child.IsOperation() {
		return compileOperation(*child.Operation, depth, cat, codeSystems)
	}
	return compileCondition(*child.Condition, cat, codeSystems)
}

// compileCondition implements spec.md §4.2 step 3's "If Condition" bullet.
func compileCondition(cond ast.Condition, cat *catalog.CQL, codeSystems *orderedSet) (string, string, error) {
	querySnippet, ok := cat.Snippets[catalog.SnippetKey{CriterionKey: cond.Key, Role: catalog.RoleQuery}]
	if !ok {
		return "", "", &ErrUnknownCriterion{Key: cond.Key}
	}
	filterSnippet := cat.Snippets[catalog.SnippetKey{CriterionKey: cond.Key, Role: catalog.RoleFilter}]

	for i, csName := range cat.CriterionCodeLists[cond.Key] {
		placeholder := fmt.Sprintf("{{A%d}}", i+1)
		querySnippet = strings.ReplaceAll(querySnippet, placeholder, csName)
		filterSnippet = strings.ReplaceAll(filterSnippet, placeholder, csName)
		codeSystems.add(csName)
	}

	if strings.Contains(querySnippet, "{{K}}") || strings.Contains(filterSnippet, "{{K}}") {
		loinc, ok := cat.ObservationLoincCodes[cond.Key]
		if !ok {
			return "", "", &ErrUnknownOption{Key: cond.Key}
		}
		querySnippet = strings.ReplaceAll(querySnippet, "{{K}}", loinc)
		filterSnippet = strings.ReplaceAll(filterSnippet, "{{K}}", loinc)
	}

	return applyConditionValue(cond, cat, querySnippet, filterSnippet)
}

func applyConditionValue(cond ast.Condition, cat *catalog.CQL, querySnippet, filterSnippet string) (string, string, error) {
	switch cond.Type {
	case ast.Between:
		return applyBetween(cond, querySnippet, filterSnippet)

	case ast.In:
		if cond.Value.Kind != ast.ValueStringArray {
			return "", "", &ErrOperatorValueMismatch{Key: cond.Key, Type: string(cond.Type)}
		}
		values := ExpandWorkarounds(cat, cond.Value.StringArray)
		return expandAndJoin(values, querySnippet), filterSnippetOrEmpty(values, filterSnippet), nil

	case ast.Equals:
		if cond.Value.Kind != ast.ValueString {
			return "", "", &ErrOperatorValueMismatch{Key: cond.Key, Type: string(cond.Type)}
		}
		values := ExpandWorkarounds(cat, []string{cond.Value.String})
		return expandAndJoin(values, querySnippet), filterSnippetOrEmpty(values, filterSnippet), nil

	case ast.NotEquals, ast.Contains, ast.LowerThan, ast.GreaterThan:
		// Log-and-skip per spec.md §4.2's condition-value table.
		Log.Warn("cql: condition type not supported, skipped", "key", cond.Key, "type", string(cond.Type))
		return "", "", nil

	default:
		return "", "", &ErrOperatorValueMismatch{Key: cond.Key, Type: string(cond.Type)}
	}
}

func applyBetween(cond ast.Condition, querySnippet, filterSnippet string) (string, string, error) {
	switch cond.Value.Kind {
	case ast.ValueDateRange:
		d1, err := parseCQLDate(cond.Value.DateRange.Min)
		if err != nil {
			return "", "", &ErrInvalidDateFormat{Key: cond.Key, Value: cond.Value.DateRange.Min}
		}
		d2, err := parseCQLDate(cond.Value.DateRange.Max)
		if err != nil {
			return "", "", &ErrInvalidDateFormat{Key: cond.Key, Value: cond.Value.DateRange.Max}
		}
		return substituteD(querySnippet, d1, d2), substituteD(filterSnippet, d1, d2), nil

	case ast.ValueNumRange:
		d1 := formatDecimal(cond.Value.NumRange.Min)
		d2 := formatDecimal(cond.Value.NumRange.Max)
		return substituteD(querySnippet, d1, d2), substituteD(filterSnippet, d1, d2), nil

	default:
		return "", "", &ErrOperatorValueMismatch{Key: cond.Key, Type: string(cond.Type)}
	}
}

func substituteD(snippet, d1, d2 string) string {
	if snippet == "" {
		return ""
	}
	snippet = strings.ReplaceAll(snippet, "{{D1}}", d1)
	snippet = strings.ReplaceAll(snippet, "{{D2}}", d2)
	return snippet
}

func filterSnippetOrEmpty(values []string, filterSnippet string) string {
	if strings.TrimSpace(filterSnippet) == "" {
		return ""
	}
	return expandAndJoin(values, filterSnippet)
}

// expandAndJoin substitutes {{C}} for each value and OR-joins the results.
// A single value is left bare; more than one is individually wrapped in
// parentheses before joining (spec.md §8 scenario 2's singleton-gender
// output has no per-condition parens, while scenario 4's 7-way sample_kind
// expansion does).
func expandAndJoin(values []string, snippet string) string {
	if snippet == "" {
		return ""
	}
	terms := make([]string, 0, len(values))
	for _, v := range values {
		term := strings.ReplaceAll(snippet, "{{C}}", v)
		terms = append(terms, term)
	}
	if len(terms) > 1 {
		for i, t := range terms {
			terms[i] = "(" + t + ")"
		}
	}
	return strings.Join(terms, " or ")
}

// ExpandWorkarounds appends a value's synonyms (if any) from
// sample_type_workarounds, keeping the original value last, matching the
// 7-item ordering in spec.md §8 scenario 4.
func ExpandWorkarounds(cat *catalog.CQL, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, cat.SampleTypeWorkarounds[v]...)
		out = append(out, v)
	}
	return out
}

// renderCodeSystemLines emits one "codesystem" declaration per name in
// order, looking up its URI in the project's code_systems table. A name with
// no known URI still gets a line (empty URI) so the CQL stays syntactically
// valid, but is logged as a warning (spec.md §4.2 step 7).
func renderCodeSystemLines(names []string, uris map[string]string) string {
	lines := make([]string, 0, len(names))
	for _, name := range names {
		uri, ok := uris[name]
		if !ok {
			Log.Warn("cql: code system has no known URI", "name", name)
		}
		lines = append(lines, fmt.Sprintf("codesystem %s: '%s'", name, uri))
	}
	return strings.Join(lines, "\n")
}

func truncateTrailingResidue(s string) string {
	idx := strings.LastIndex(s, ")")
	if idx == -1 {
		return s
	}
	return s[:idx+1]
}

// collapseDanglingGroups implements the global rewrite in spec.md §4.2 step
// 4: adjacent, unparenthesized groups left by the per-operation join
// collapse into an OR.
func collapseDanglingGroups(s string) string {
	return strings.ReplaceAll(s, ")(", ") or (")
}

func isEmptyOrParensOnly(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return true
	}
	for _, r := range trimmed {
		if r != '(' && r != ')' {
			return false
		}
	}
	return true
}
