package table

import (
	"fmt"
	"strings"
)

// Datum is a single typed value, used inside chunk boundaries so that
// string-vs-numeric PK comparisons stay correct in generated SQL.
type Datum struct {
	Val any
}

// Boundary is one edge of a chunk's primary-key range: a tuple of Datums
// (one per key column) plus whether the bound is inclusive.
type Boundary struct {
	Value     []Datum
	Inclusive bool
}

// Chunk describes one contiguous, non-overlapping primary-key range of the
// source table, as copied by a single chunk-copier iteration.
type Chunk struct {
	Table      *TableInfo
	ChunkSize  uint64
	LowerBound *Boundary // nil means unbounded (start of table)
	UpperBound *Boundary // nil means unbounded (end of table, final chunk)
}

// String renders the chunk as a SQL WHERE-clause fragment over the table's
// key columns, using the lexicographic row-value-constructor comparison
// spec.md §4.5 calls for ("pk > last_pk AND pk <= last_pk + N").
func (c *Chunk) String() string {
	keys := c.Table.KeyColumns
	var clauses []string
	if c.LowerBound != nil {
		op := ">"
		if c.LowerBound.Inclusive {
			op = ">="
		}
		clauses = append(clauses, rowCompare(keys, c.LowerBound.Value, op))
	}
	if c.UpperBound != nil {
		op := "<"
		if c.UpperBound.Inclusive {
			op = "<="
		}
		clauses = append(clauses, rowCompare(keys, c.UpperBound.Value, op))
	}
	if len(clauses) == 0 {
		return "1=1"
	}
	return strings.Join(clauses, " AND ")
}

// rowCompare renders a lexicographic row-value-constructor comparison:
// (`a`,`b`) > (1,2). MySQL evaluates this tuple comparison lexicographically,
// which is exactly the ordering a composite primary key needs.
func rowCompare(keys []string, vals []Datum, op string) string {
	lhs := make([]string, len(keys))
	for i, k := range keys {
		lhs[i] = QuoteIdentifier(k)
	}
	rhs := make([]string, len(vals))
	for i, v := range vals {
		rhs[i] = formatDatum(v)
	}
	if len(keys) == 1 {
		return fmt.Sprintf("%s %s %s", lhs[0], op, rhs[0])
	}
	return fmt.Sprintf("(%s) %s (%s)", strings.Join(lhs, ","), op, strings.Join(rhs, ","))
}

func formatDatum(d Datum) string {
	switch v := d.Val.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", v)
	}
}
