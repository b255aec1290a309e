package cql

import (
	"strconv"
	"strings"
	"time"
)

// formatDecimal renders a float64 the way the CQL Ceiling(...) examples in
// spec.md §8 expect: "30", not "30.000000".
func formatDecimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseCQLDate accepts either RFC3339 or a bare YYYY-MM-DD date and formats
// the result as "@YYYY-MM-DD", CQL's date-literal syntax.
func parseCQLDate(raw string) (string, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return "@" + t.Format("2006-01-02"), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return "@" + t.Format("2006-01-02"), nil
	}
	return "", errInvalidDate(raw)
}

func errInvalidDate(raw string) error {
	return &dateParseError{raw: raw}
}

type dateParseError struct{ raw string }

func (e *dateParseError) Error() string { return "unparseable date: " + strings.TrimSpace(e.raw) }
