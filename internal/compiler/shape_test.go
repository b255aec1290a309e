package compiler

import (
	"testing"

	"github.com/samply/focus-go/internal/ast"
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

func TestValidateFixedShapeHappyPath(t *testing.T) {
	tree := ast.Ast{Root: ast.Operation{
		Operand: ast.And,
		Children: []ast.Child{
			group(bucket(condition("gender", "male")), bucket(condition("diagnosis", "breast-cancer"))),
		},
	}}

	leaves, err := ValidateFixedShape(tree)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(leaves))
	}
}

func TestValidateFixedShapeRejectsTopLevelOr(t *testing.T) {
	tree := ast.Ast{Root: ast.Operation{Operand: ast.Or, Children: []ast.Child{group(bucket(condition("gender", "male")))}}}
	_, err := ValidateFixedShape(tree)
	qgErr, ok := err.(*QueryGenerationError)
	if !ok {
		t.Fatalf("expected QueryGenerationError, got %T", err)
	}
	if qgErr.Level != "top" {
		t.Fatalf("expected top-level error, got %q", qgErr.Level)
	}
}

func TestValidateFixedShapeRejectsMultiCriterionBucket(t *testing.T) {
	tree := ast.Ast{Root: ast.Operation{
		Operand: ast.And,
		Children: []ast.Child{
			{Operation: &ast.Operation{
				Operand: ast.And,
				Children: []ast.Child{
					{Operation: &ast.Operation{
						Operand:  ast.Or,
						Children: []ast.Child{condition("gender", "male"), condition("gender", "female")},
					}},
				},
			}},
		},
	}}

	_, err := ValidateFixedShape(tree)
	qgErr, ok := err.(*QueryGenerationError)
	if !ok {
		t.Fatalf("expected QueryGenerationError, got %T", err)
	}
	if qgErr.Level != "bucket" {
		t.Fatalf("expected bucket-level error, got %q", qgErr.Level)
	}
}
