// Package table describes tables participating in a copy: the source, the
// shadow, and their introspected column/key metadata.
package table

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// TableInfo is a normalized, introspected view of a single MySQL table.
// It is populated from information_schema, not from the CREATE TABLE
// statement the user supplied (that lives in pkg/schema) — this is what
// the running server actually has.
type TableInfo struct {
	db         *sql.DB
	SchemaName string
	TableName  string

	Columns             []string
	NonGeneratedColumns []string
	KeyColumns          []string // ordered primary/unique key columns
	KeyIsAutoInc        bool
	Engine              string
	EstimatedRows       uint64
}

// NewTableInfo returns an unpopulated TableInfo. Call SetInfo to introspect.
func NewTableInfo(db *sql.DB, schema, table string) *TableInfo {
	return &TableInfo{db: db, SchemaName: schema, TableName: table}
}

// QuotedName returns the backtick-quoted, schema-qualified name, escaping
// any backtick in either identifier by doubling it.
func (t *TableInfo) QuotedName() string {
	return fmt.Sprintf("%s.%s", QuoteIdentifier(t.SchemaName), QuoteIdentifier(t.TableName))
}

// QuoteIdentifier backtick-quotes a single identifier, doubling any
// embedded backtick. Identifiers are accepted verbatim including non-ASCII
// content; MySQL identifiers are not restricted to ASCII.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteColumns quotes and comma-joins a list of column names.
func QuoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// Exists reports whether the table is currently present on the server.
func (t *TableInfo) Exists(ctx context.Context) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx, "SELECT 1 FROM information_schema.tables WHERE table_schema=? AND table_name=?",
		t.SchemaName, t.TableName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetInfo introspects the table's columns, key columns, engine, and
// estimated row count from information_schema.
func (t *TableInfo) SetInfo(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, `
		SELECT column_name, extra, generation_expression
		FROM information_schema.columns
		WHERE table_schema=? AND table_name=?
		ORDER BY ordinal_position`, t.SchemaName, t.TableName)
	if err != nil {
		return err
	}
	defer rows.Close()
	t.Columns = nil
	t.NonGeneratedColumns = nil
	for rows.Next() {
		var name, extra, genExpr string
		if err := rows.Scan(&name, &extra, &genExpr); err != nil {
			return err
		}
		t.Columns = append(t.Columns, name)
		if genExpr == "" {
			t.NonGeneratedColumns = append(t.NonGeneratedColumns, name)
		}
		if strings.Contains(extra, "auto_increment") {
			t.KeyIsAutoInc = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s.%s not found or has no columns", t.SchemaName, t.TableName)
	}

	keyCols, err := t.queryKeyColumns(ctx, "PRIMARY KEY")
	if err != nil {
		return err
	}
	if keyCols == nil {
		// No PRIMARY KEY: fall back to the first UNIQUE constraint with no
		// nullable column, mirroring pkg/schema.Table.UniqueKey's rule that
		// MySQL only honors a UNIQUE index as an implicit clustering key
		// when every column in it is NOT NULL.
		keyCols, err = t.queryUniqueKeyColumns(ctx)
		if err != nil {
			return err
		}
	}
	t.KeyColumns = keyCols

	return t.db.QueryRowContext(ctx, `
		SELECT engine, table_rows
		FROM information_schema.tables
		WHERE table_schema=? AND table_name=?`, t.SchemaName, t.TableName).Scan(&t.Engine, &t.EstimatedRows)
}

// queryKeyColumns returns the ordered columns of the table's constraint of
// the given type, or nil if it has none. A table has at most one PRIMARY
// KEY, so this is only ever called with "PRIMARY KEY"; queryUniqueKeyColumns
// handles the UNIQUE fallback separately since several UNIQUE constraints
// can exist and only the first NOT-NULL one qualifies.
func (t *TableInfo) queryKeyColumns(ctx context.Context, constraintType string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT k.constraint_name, k.column_name
		FROM information_schema.key_column_usage k
		JOIN information_schema.table_constraints c
			ON c.constraint_name = k.constraint_name
			AND c.table_schema = k.table_schema
			AND c.table_name = k.table_name
		WHERE k.table_schema=? AND k.table_name=? AND c.constraint_type=?
		ORDER BY k.constraint_name, k.ordinal_position`, t.SchemaName, t.TableName, constraintType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var firstConstraint string
	var cols []string
	for rows.Next() {
		var constraintName, col string
		if err := rows.Scan(&constraintName, &col); err != nil {
			return nil, err
		}
		if firstConstraint == "" {
			firstConstraint = constraintName
		}
		if constraintName != firstConstraint {
			break
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

// queryUniqueKeyColumns returns the columns of the first UNIQUE constraint
// whose columns are all NOT NULL, or nil if no such constraint exists.
func (t *TableInfo) queryUniqueKeyColumns(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT k.constraint_name, k.column_name, col.is_nullable
		FROM information_schema.key_column_usage k
		JOIN information_schema.table_constraints c
			ON c.constraint_name = k.constraint_name
			AND c.table_schema = k.table_schema
			AND c.table_name = k.table_name
		JOIN information_schema.columns col
			ON col.table_schema = k.table_schema
			AND col.table_name = k.table_name
			AND col.column_name = k.column_name
		WHERE k.table_schema=? AND k.table_name=? AND c.constraint_type='UNIQUE'
		ORDER BY k.constraint_name, k.ordinal_position`, t.SchemaName, t.TableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type candidate struct {
		cols       []string
		allNotNull bool
	}
	var order []string
	byName := map[string]*candidate{}
	for rows.Next() {
		var constraintName, col, isNullable string
		if err := rows.Scan(&constraintName, &col, &isNullable); err != nil {
			return nil, err
		}
		c, ok := byName[constraintName]
		if !ok {
			c = &candidate{allNotNull: true}
			byName[constraintName] = c
			order = append(order, constraintName)
		}
		c.cols = append(c.cols, col)
		if isNullable == "YES" {
			c.allNotNull = false
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, name := range order {
		if c := byName[name]; c.allNotNull {
			return c.cols, nil
		}
	}
	return nil, nil
}

// IntersectNonGeneratedColumns returns the backtick-quoted, comma-joined
// list of non-generated columns present in both t1 and t2, in t1's order.
// This is the safe-copy projection used by both the chunk copier and the
// replayer so that a dropped or added column never appears in either side
// of a REPLACE INTO ... SELECT.
func IntersectNonGeneratedColumns(t1, t2 *TableInfo) string {
	set := make(map[string]bool, len(t2.NonGeneratedColumns))
	for _, c := range t2.NonGeneratedColumns {
		set[c] = true
	}
	var out []string
	for _, c := range t1.NonGeneratedColumns {
		if set[c] {
			out = append(out, c)
		}
	}
	return QuoteColumns(out)
}
