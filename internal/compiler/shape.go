// Package compiler holds the fixed-shape tree validation shared by the SQL
// imaging and URL-param dialects (spec.md §4.3): both compile the same AST
// under the same three-level shape restriction, differing only in how they
// render the flattened criteria afterward.
package compiler

import (
	"fmt"

	"github.com/samply/focus-go/internal/ast"
)

// QueryGenerationError is returned when the input AST violates the fixed
// three-level shape the SQL/URL-param dialects require, naming the
// offending level per spec.md §4.3.
type QueryGenerationError struct {
	Level  string
	Detail string
}

func (e *QueryGenerationError) Error() string {
	return fmt.Sprintf("query generation: %s: %s", e.Level, e.Detail)
}

// ValidateFixedShape walks an AST enforcing spec.md §4.3's shape:
//   - top level: Operation, Operand=And, over groups (And at top; Or rejected)
//   - group level: each group is an Operation, Operand=And, over buckets
//   - bucket level: each bucket is an Operation, Operand=Or, wrapping exactly
//     one Condition (more than one criterion in a bucket is rejected)
//
// It returns the flattened, in-order list of leaf conditions.
func ValidateFixedShape(tree ast.Ast) ([]ast.Condition, error) {
	if tree.Root.Operand != ast.And {
		return nil, &QueryGenerationError{Level: "top", Detail: "top level must be AND, not OR"}
	}

	var leaves []ast.Condition
	for _, groupChild := range tree.Root.Children {
		if !groupChild.IsOperation() {
			return nil, &QueryGenerationError{Level: "group", Detail: "top-level child must be an Operation"}
		}
		group := *groupChild.Operation
		if group.Operand != ast.And {
			return nil, &QueryGenerationError{Level: "group", Detail: "second level must be AND"}
		}

		for _, bucketChild := range group.Children {
			if !bucketChild.IsOperation() {
				return nil, &QueryGenerationError{Level: "bucket", Detail: "group child must be an Operation"}
			}
			bucket := *bucketChild.Operation
			if bucket.Operand != ast.Or {
				return nil, &QueryGenerationError{Level: "bucket", Detail: "third level must be OR"}
			}
			if len(bucket.Children) != 1 {
				return nil, &QueryGenerationError{Level: "bucket", Detail: "bucket must wrap exactly one criterion"}
			}
			leafChild := bucket.Children[0]
			if leafChild.IsOperation() {
				return nil, &QueryGenerationError{Level: "bucket", Detail: "bucket's single child must be a Condition"}
			}
			leaves = append(leaves, *leafChild.Condition)
		}
	}

	return leaves, nil
}
