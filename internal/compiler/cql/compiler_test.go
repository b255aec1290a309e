package cql

import (
	"strings"
	"testing"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/catalog"
)

func strCond(key string, val string) ast.Child {
	return ast.Child{Condition: &ast.Condition{Key: key, Type: ast.Equals, Value: ast.Value{Kind: ast.ValueString, String: val}}}
}

func op(operand ast.Operand, children ...ast.Child) ast.Child {
	return ast.Child{Operation: &ast.Operation{Operand: operand, Children: children}}
}

func TestEmptyDisjunctionCompilesToTrue(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{ID: "q1", Root: ast.Operation{Operand: ast.Or, Children: nil}}

	doc, err := Compile(tree, &cat.CQL)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(doc.CQL, "define InInitialPopulation:\n  true") {
		t.Fatalf("expected tautology true, got:\n%s", doc.CQL)
	}
	if strings.Contains(doc.CQL, "where (") {
		t.Fatalf("did not expect a filter clause, got:\n%s", doc.CQL)
	}
}

func TestMaleOrFemaleGender(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{
		ID: "q2",
		Root: ast.Operation{
			Operand: ast.Or,
			Children: []ast.Child{
				op(ast.And,
					op(ast.Or, strCond("gender", "male"), strCond("gender", "female")),
				),
			},
		},
	}

	doc, err := Compile(tree, &cat.CQL)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(doc.CQL, "((Patient.gender = 'male' or Patient.gender = 'female'))") {
		t.Fatalf("unexpected retrieval criteria:\n%s", doc.CQL)
	}
	if strings.Contains(doc.CQL, "where (") {
		t.Fatalf("did not expect a filter clause, got:\n%s", doc.CQL)
	}
	for _, mandatory := range cat.CQL.MandatoryCodeSystems {
		if !strings.Contains(doc.CQL, "codesystem "+mandatory+":") {
			t.Errorf("missing mandatory code system %q", mandatory)
		}
	}
}

func TestDiagnosisAgeBetween(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{
		ID: "q3",
		Root: ast.Operation{
			Operand: ast.And,
			Children: []ast.Child{
				{Condition: &ast.Condition{
					Key:  "diagnosis_age_donor",
					Type: ast.Between,
					Value: ast.Value{Kind: ast.ValueNumRange, NumRange: ast.NumRange{Min: 30, Max: 70}},
				}},
			},
		},
	}

	doc, err := Compile(tree, &cat.CQL)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := "AgeInYearsAt(FHIRHelpers.ToDateTime(C.onset)) between Ceiling(30) and Ceiling(70)"
	if !strings.Contains(doc.CQL, want) {
		t.Fatalf("expected %q in:\n%s", want, doc.CQL)
	}
}

func TestSampleKindInWithWorkaround(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{
		ID: "q4",
		Root: ast.Operation{
			Operand: ast.And,
			Children: []ast.Child{
				{Condition: &ast.Condition{
					Key:  "sample_kind",
					Type: ast.In,
					Value: ast.Value{Kind: ast.ValueStringArray, StringArray: []string{"blood-plasma"}},
				}},
			},
		},
	}

	doc, err := Compile(tree, &cat.CQL)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	expectedValues := []string{
		"plasma-edta", "plasma-citrat", "plasma-heparin",
		"plasma-cell-free", "plasma-other", "plasma", "blood-plasma",
	}
	for _, v := range expectedValues {
		if !strings.Contains(doc.CQL, "'"+v+"'") {
			t.Errorf("missing expanded value %q in:\n%s", v, doc.CQL)
		}
	}
	if strings.Count(doc.CQL, " or ") < 6 {
		t.Errorf("expected at least 6 OR joins across retrieval+filter, got:\n%s", doc.CQL)
	}
	if !strings.Contains(doc.CQL, "where (") {
		t.Errorf("expected a filter clause, got:\n%s", doc.CQL)
	}
}

func TestInvalidDateFormat(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{
		ID: "q5",
		Root: ast.Operation{
			Operand: ast.And,
			Children: []ast.Child{
				{Condition: &ast.Condition{
					Key:  "date_of_diagnosis",
					Type: ast.Between,
					Value: ast.Value{Kind: ast.ValueDateRange, DateRange: ast.DateRange{Min: "not-a-date", Max: "2024-01-01"}},
				}},
			},
		},
	}

	_, err := Compile(tree, &cat.CQL)
	if err == nil {
		t.Fatal("expected InvalidDateFormat error")
	}
	var dateErr *ErrInvalidDateFormat
	if !isInvalidDateFormat(err, &dateErr) {
		t.Fatalf("expected ErrInvalidDateFormat, got %T: %v", err, err)
	}
}

func isInvalidDateFormat(err error, target **ErrInvalidDateFormat) bool {
	if e, ok := err.(*ErrInvalidDateFormat); ok {
		*target = e
		return true
	}
	return false
}

func TestDateBetweenEmitsAtSymbolTwice(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{
		ID: "q6",
		Root: ast.Operation{
			Operand: ast.And,
			Children: []ast.Child{
				{Condition: &ast.Condition{
					Key:  "date_of_diagnosis",
					Type: ast.Between,
					Value: ast.Value{Kind: ast.ValueDateRange, DateRange: ast.DateRange{Min: "2020-01-01", Max: "2024-01-01"}},
				}},
			},
		},
	}

	doc, err := Compile(tree, &cat.CQL)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := strings.Count(doc.CQL, "@2020-01-01") + strings.Count(doc.CQL, "@2024-01-01"); got != 2 {
		t.Fatalf("expected exactly 2 @YYYY-MM-DD occurrences, got %d in:\n%s", got, doc.CQL)
	}
}

func TestUnknownCriterionKey(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{
		ID: "q7",
		Root: ast.Operation{
			Operand: ast.And,
			Children: []ast.Child{strCond("totally_unknown_key", "x")},
		},
	}
	_, err := Compile(tree, &cat.CQL)
	if err == nil {
		t.Fatal("expected ErrUnknownCriterion")
	}
	if _, ok := err.(*ErrUnknownCriterion); !ok {
		t.Fatalf("expected ErrUnknownCriterion, got %T", err)
	}
}

func TestQueryTooDeep(t *testing.T) {
	cat := catalog.BBMRI()
	leaf := strCond("gender", "male")
	deep := leaf
	for i := 0; i < maxDepth+2; i++ {
		deep = op(ast.And, deep)
	}
	tree := ast.Ast{ID: "deep", Root: *deep.Operation}

	_, err := Compile(tree, &cat.CQL)
	if err == nil {
		t.Fatal("expected ErrQueryTooDeep")
	}
	if _, ok := err.(*ErrQueryTooDeep); !ok {
		t.Fatalf("expected ErrQueryTooDeep, got %T: %v", err, err)
	}
}

func TestEnvelopeSubstitutesFreshUUIDsAndBase64(t *testing.T) {
	cat := catalog.BBMRI()
	tree := ast.Ast{ID: "q8", Root: ast.Operation{Operand: ast.And, Children: nil}}
	doc, err := Compile(tree, &cat.CQL)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	first := Envelope(doc, &cat.CQL)
	second := Envelope(doc, &cat.CQL)
	if first == second {
		t.Fatal("expected independently random UUIDs across calls")
	}
	if strings.Contains(first, "{{") {
		t.Fatalf("unsubstituted placeholder remains:\n%s", first)
	}
}
