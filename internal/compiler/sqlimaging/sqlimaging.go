// Package sqlimaging compiles the fixed-shape criteria AST into the SQL
// dialect spoken by the imaging-data store (spec.md §4.3), mirroring
// eucaim_sql.rs's predicate assembly over the same criteria tables.
package sqlimaging

import (
	"fmt"
	"strings"

	"github.com/samply/focus-go/internal/ast"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/compiler"
	"github.com/samply/focus-go/internal/logging"
)

// Log receives warnings for silently-dropped unknown keys/values (spec.md
// §4.3 "An unknown key/value yields an empty substitution (silently
// dropped), NOT an error").
var Log logging.Logger = logging.Noop()

const selectTemplate = `SELECT COALESCE(SUM(study_count), 0) AS total
FROM image_studies
WHERE patient_id IN (
  SELECT patient_id FROM patients WHERE %s
)
AND %s`

// Compile renders the SELECT statement for an image-study count query.
// Unknown criterion keys or values are dropped with a warning, per
// spec.md §4.3; they do not fail the build.
func Compile(tree ast.Ast, cat *catalog.Imaging) (string, error) {
	leaves, err := compiler.ValidateFixedShape(tree)
	if err != nil {
		return "", err
	}

	var patientPreds, imagePreds []string
	for _, cond := range leaves {
		predicate, level, ok := renderPredicate(cond, cat)
		if !ok {
			continue
		}
		if level == 1 {
			imagePreds = append(imagePreds, predicate)
		} else {
			patientPreds = append(patientPreds, predicate)
		}
	}

	patientClause := joinOrTrue(patientPreds)
	imageClause := joinOrTrue(imagePreds)

	return fmt.Sprintf(selectTemplate, patientClause, imageClause), nil
}

// renderPredicate maps a leaf condition through the category and criterion
// tables; the column name comes from the ParamName table.
// A field the source comment flags as "integer in the DB" is still compiled
// as a quoted string-equality predicate here — preserved deliberately, see
// DESIGN.md.
func renderPredicate(cond ast.Condition, cat *catalog.Imaging) (predicate string, level int, ok bool) {
	level, known := cat.Category[cond.Key]
	if !known {
		Log.Warn("sqlimaging: unknown criterion key dropped", "key", cond.Key)
		return "", 0, false
	}

	column, known := cat.ParamName[cond.Key]
	if !known {
		Log.Warn("sqlimaging: criterion key has no column mapping", "key", cond.Key)
		return "", 0, false
	}

	if cond.Value.Kind != ast.ValueString {
		Log.Warn("sqlimaging: non-string condition value dropped", "key", cond.Key)
		return "", 0, false
	}

	code, known := cat.Criterion[cond.Value.String]
	if !known {
		Log.Warn("sqlimaging: unknown criterion value dropped", "key", cond.Key, "value", cond.Value.String)
		return "", 0, false
	}

	return fmt.Sprintf("%s = '%s'", column, code), level, true
}

func joinOrTrue(preds []string) string {
	if len(preds) == 0 {
		return "1=1"
	}
	return strings.Join(preds, " AND ")
}
