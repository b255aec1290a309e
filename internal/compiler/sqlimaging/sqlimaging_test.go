package sqlimaging

import (
	"strings"
	"testing"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/compiler"
)

func condition(key, value string) ast.Child {
	return ast.Child{Condition: &ast.Condition{Key: key, Type: ast.Equals, Value: ast.Value{Kind: ast.ValueString, String: value}}}
}

func bucket(c ast.Child) ast.Child {
	return ast.Child{Operation: &ast.Operation{Operand: ast.Or, Children: []ast.Child{c}}}
}

func group(buckets ...ast.Child) ast.Child {
	return ast.Child{Operation: &ast.Operation{Operand: ast.And, Children: buckets}}
}

func TestCompileSplitsPatientAndImagePredicates(t *testing.T) {
	tree := ast.Ast{Root: ast.Operation{
		Operand: ast.And,
		Children: []ast.Child{
			group(
				bucket(condition("gender", "male")),
				bucket(condition("modality", "mr")),
			),
		},
	}}

	got, err := Compile(tree, &catalog.CCE().Imaging)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(got, "gender = 'male'") {
		t.Fatalf("expected patient predicate in subquery, got %q", got)
	}
	if !strings.Contains(got, "modality = 'MR'") {
		t.Fatalf("expected image predicate in outer clause, got %q", got)
	}
	if !strings.Contains(got, "COALESCE(SUM(study_count), 0)") {
		t.Fatalf("expected COALESCE(SUM(...),0) aggregate, got %q", got)
	}
}

func TestCompileDropsUnknownCriteria(t *testing.T) {
	tree := ast.Ast{Root: ast.Operation{
		Operand: ast.And,
		Children: []ast.Child{
			group(bucket(condition("unknown-key", "whatever"))),
		},
	}}

	got, err := Compile(tree, &catalog.CCE().Imaging)
	if err != nil {
		t.Fatalf("expected dropped unknown key, not an error: %v", err)
	}
	if !strings.Contains(got, "WHERE 1=1") {
		t.Fatalf("expected tautology when all patient predicates dropped, got %q", got)
	}
}

func TestCompileRejectsTooBroadQuery(t *testing.T) {
	tree := ast.Ast{Root: ast.Operation{Operand: ast.Or, Children: []ast.Child{group(bucket(condition("gender", "male")))}}}

	_, err := Compile(tree, &catalog.CCE().Imaging)
	qgErr, ok := err.(*compiler.QueryGenerationError)
	if !ok {
		t.Fatalf("expected QueryGenerationError, got %T (%v)", err, err)
	}
	if qgErr.Level != "top" {
		t.Fatalf("expected top-level rejection, got %q", qgErr.Level)
	}
}
