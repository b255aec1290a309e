// Package catalog holds the static, read-only per-project tables the query
// compiler consults: code systems, snippet templates, criterion code-lists,
// the CQL/body templates, and the SQL/URL-param dialect's category/criterion
// tables. These are data, not code (spec.md §9's "Criteria catalogs as
// data" design note) — each project's table set lives in its own file and
// is registered once at process startup.
package catalog

import "fmt"

// Role discriminates which half of a CQL snippet pair is being looked up.
type Role int

const (
	RoleQuery Role = iota
	RoleFilter
)

// SnippetKey is the composite key into CQL.Snippets.
type SnippetKey struct {
	CriterionKey string
	Role         Role
}

// CQL is the catalog slice the CQL compiler consumes.
type CQL struct {
	CodeSystems           map[string]string     // name -> canonical URI
	ObservationLoincCodes map[string]string     // criterion key -> LOINC code
	CriterionCodeLists    map[string][]string   // criterion key -> ordered code-system names
	Snippets              map[SnippetKey]string // (criterion key, role) -> template
	MandatoryCodeSystems  []string              // ordered set every output must declare
	SampleTypeWorkarounds map[string][]string   // value -> synonym values to OR-expand
	Template              string                // outer CQL document template
	BodyTemplate          string                // outer JSON envelope template
}

// Imaging is the catalog slice the SQL and URL-param compilers share
// (eucaim_sql.rs and eucaim_api.rs draw on the same criteria.rs tables in
// the original source).
type Imaging struct {
	Category  map[string]int    // criterion key -> 0 (patient-level) or 1 (image-level)
	ParamName map[string]string // criterion key -> output column/param name
	Criterion map[string]string // raw condition value -> backend-specific code
}

// Catalog is one project's full table set.
type Catalog struct {
	Project string
	CQL     CQL
	Imaging Imaging
}

// Registry resolves a project tag (from task metadata) to its Catalog.
type Registry struct {
	catalogs map[string]*Catalog
}

// NewRegistry builds a registry pre-loaded with every known project.
func NewRegistry(catalogs ...*Catalog) *Registry {
	r := &Registry{catalogs: make(map[string]*Catalog, len(catalogs))}
	for _, c := range catalogs {
		r.catalogs[c.Project] = c
	}
	return r
}

// ErrUnknownProject is returned when a task names a project tag with no
// registered catalog.
type ErrUnknownProject struct{ Project string }

func (e *ErrUnknownProject) Error() string {
	return fmt.Sprintf("catalog: unknown project %q", e.Project)
}

// Lookup resolves a project tag to its catalog.
func (r *Registry) Lookup(project string) (*Catalog, error) {
	c, ok := r.catalogs[project]
	if !ok {
		return nil, &ErrUnknownProject{Project: project}
	}
	return c, nil
}

// DefaultRegistry builds the registry with all four shipped project
// catalogs (bbmri, dktk, cce, pscc — SPEC_FULL.md §12).
func DefaultRegistry() *Registry {
	return NewRegistry(BBMRI(), DKTK(), CCE(), PSCC())
}
