package store

import (
	"fmt"
	"strings"
)

// Dialect renders the few SQL fragments that differ between engines
type Dialect interface {
	Name() string
	// TryCastNumeric wraps a column so non-numeric or empty values become NULL instead of failing
	TryCastNumeric(col string) string
	// Placeholder renders the n-th (1-based) bind parameter
	Placeholder(n int) string
	QuoteIdent(name string) string
	// TextKey renders col as text ordered bytewise, the order Go's strings.Compare uses
	TextKey(col string) string
}

// SQLiteDialect also serves libsql
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) TryCastNumeric(col string) string {
	return fmt.Sprintf("(CASE WHEN typeof(%[1]s) IN ('integer','real') THEN CAST(%[1]s AS REAL) "+
		"WHEN typeof(%[1]s) = 'text' AND %[2]s THEN CAST(trim(%[1]s) AS REAL) ELSE NULL END)",
		col, sqliteNumericText(col))
}

// sqliteNumericText matches text holding exactly one well-formed decimal:
// optional sign, digits with at most one '.', optional exponent with digits.
// CAST alone would read the numeric prefix of "1-2" or "7e".
func sqliteNumericText(col string) string {
	s := "trim(" + col + ")"
	l := "lower(" + s + ")"
	conds := []string{
		s + " GLOB '*[0-9]*'",
		s + " NOT GLOB '*[^0-9.eE+-]*'",
		"length(" + s + ") - length(replace(" + s + ", '.', '')) <= 1",
		"length(" + l + ") - length(replace(" + l + ", 'e', '')) <= 1",
		l + " NOT GLOB '*e*.*'",
		"(" + l + " NOT GLOB '*e*' OR " + l + " GLOB '*[0-9]*e*')",
		l + " NOT GLOB '*e'",
		l + " NOT GLOB '*e[+-]'",
		// a sign may only lead the number or follow the exponent marker
		"replace(replace(substr(" + l + ", 2), 'e+', 'x'), 'e-', 'x') NOT GLOB '*[+-]*'",
	}
	return "(" + strings.Join(conds, " AND ") + ")"
}

func (SQLiteDialect) Placeholder(int) string { return "?" }

func (SQLiteDialect) QuoteIdent(name string) string { return quoteIdent(name) }

func (SQLiteDialect) TextKey(col string) string { return "CAST(" + col + " AS TEXT)" }

// PostgresDialect is used for pgx handles
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) TryCastNumeric(col string) string {
	return fmt.Sprintf("(CASE WHEN btrim(%[1]s::text) ~ '^[-+]?([0-9]+\\.?[0-9]*|\\.[0-9]+)([eE][-+]?[0-9]+)?$' "+
		"THEN btrim(%[1]s::text)::double precision ELSE NULL END)", col)
}

func (PostgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }

func (PostgresDialect) TextKey(col string) string { return "(" + col + `)::text COLLATE "C"` }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DialectFor maps a driver name onto its dialect
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite", "libsql":
		return SQLiteDialect{}, nil
	case "postgres", "pgx", "postgresql":
		return PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown datasource driver: %s", driver)
	}
}
