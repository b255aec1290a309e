// Package urlparam compiles the fixed-shape criteria AST into a URL query
// string (spec.md §4.3), the dialect eucaim_api.rs speaks against the
// imaging exchange's search endpoint. It shares the category/criterion
// tables and the fixed-shape validation with the sqlimaging dialect, but
// orders and joins leaves as "key=value&key=value&..." instead of SQL
// predicates.
package urlparam

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/compiler"
	"github.com/samply/focus-go/internal/logging"
)

// Log receives warnings for silently-dropped unknown keys/values (spec.md
// §4.3: unknown key/value yields an empty substitution, not an error).
var Log logging.Logger = logging.Noop()

// Compile renders "<baseURL>/search?key1=value1&key2=value2&...", walking
// leaves in AST order. Unknown keys/values are dropped with a warning
// rather than failing the build.
func Compile(baseURL string, tree ast.Ast, cat *catalog.Imaging) (string, error) {
	leaves, err := compiler.ValidateFixedShape(tree)
	if err != nil {
		return "", err
	}

	var pairs []string
	for _, cond := range leaves {
		pair, ok := renderPair(cond, cat)
		if !ok {
			continue
		}
		pairs = append(pairs, pair)
	}

	return fmt.Sprintf("%s/search?%s", strings.TrimRight(baseURL, "/"), strings.Join(pairs, "&")), nil
}

func renderPair(cond ast.Condition, cat *catalog.Imaging) (string, bool) {
	if _, known := cat.Category[cond.Key]; !known {
		Log.Warn("urlparam: unknown criterion key dropped", "key", cond.Key)
		return "", false
	}

	param, known := cat.ParamName[cond.Key]
	if !known {
		Log.Warn("urlparam: criterion key has no param mapping", "key", cond.Key)
		return "", false
	}

	if cond.Value.Kind != ast.ValueString {
		Log.Warn("urlparam: non-string condition value dropped", "key", cond.Key)
		return "", false
	}

	code, known := cat.Criterion[cond.Value.String]
	if !known {
		Log.Warn("urlparam: unknown criterion value dropped", "key", cond.Key, "value", cond.Value.String)
		return "", false
	}

	return fmt.Sprintf("%s=%s", param, url.QueryEscape(code)), true
}
