// Package schema is the Schema Model & Parser and Schema Differ components:
// it turns CREATE TABLE text into a normalized in-memory object and compares
// two such objects to classify a schema change.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Column is one column of a normalized table.
type Column struct {
	Name       string
	Type       string // canonical SQL type, e.g. "int", "varchar(255)"
	Unsigned   bool
	Length     *int
	Decimal    *int
	Nullable   bool
	Default    *string
	Collation  string
	Charset    string
	AutoInc    bool
	Generated  string // expression, empty if not generated
	Stored     bool   // true: GENERATED ... STORED, false: VIRTUAL
	Comment    string
}

// IndexColumn is one column (optionally prefix-length-limited) of an index.
type IndexColumn struct {
	Name   string
	Prefix int // 0 means "whole column"
}

// IndexKind classifies an index the way spec.md §3 enumerates them.
type IndexKind string

const (
	IndexPrimary    IndexKind = "primary"
	IndexUnique     IndexKind = "unique"
	IndexNonUnique  IndexKind = "non-unique"
	IndexFulltext   IndexKind = "fulltext"
	IndexSpatial    IndexKind = "spatial"
)

// Index is one key or index on the table.
type Index struct {
	Name    string
	Kind    IndexKind
	Columns []IndexColumn
}

// PartitionKind is the PARTITION BY method.
type PartitionKind string

const (
	PartitionNone PartitionKind = "none"
	PartitionRange PartitionKind = "range"
	PartitionList  PartitionKind = "list"
	PartitionHash  PartitionKind = "hash"
	PartitionKey   PartitionKind = "key"
)

// PartitionValues is the VALUES clause of one partition definition.
type PartitionValues struct {
	Type   string // "LESS_THAN", "IN", or "" when not applicable (hash/key)
	Values []string
}

// PartitionDefinition is one named partition.
type PartitionDefinition struct {
	Name   string
	Values *PartitionValues
}

// Partitioning is the table's partitioning descriptor. A nil or
// Kind==PartitionNone Partitioning means the table is not partitioned.
type Partitioning struct {
	Kind        PartitionKind
	Expr        string // partitioning expression/column list, restored verbatim
	Partitions  int    // PARTITIONS n, 0 if defined purely by Definitions
	Definitions []PartitionDefinition
}

// Options are table-level options.
type Options struct {
	Engine    string
	Charset   string
	Collation string
	RowFormat string
	Comment   string
}

// Table is the normalized in-memory schema object spec.md §3 describes.
type Table struct {
	Name       string
	Columns    []Column
	Indexes    []Index
	Partition  *Partitioning
	Options    Options
}

// ColumnByName returns the named column, or nil.
func (t *Table) ColumnByName(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// PrimaryKey returns the table's PRIMARY KEY index, or nil if it has none.
func (t *Table) PrimaryKey() *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Kind == IndexPrimary {
			return &t.Indexes[i]
		}
	}
	return nil
}

// UniqueKey returns the first non-primary unique index with no nullable
// column, usable as a substitute PK, or nil. MySQL only honors a UNIQUE
// index as an implicit clustering key when every column in it is NOT NULL.
func (t *Table) UniqueKey() *Index {
	for i := range t.Indexes {
		idx := &t.Indexes[i]
		if idx.Kind != IndexUnique {
			continue
		}
		allNotNull := true
		for _, c := range idx.Columns {
			if col := t.ColumnByName(c.Name); col == nil || col.Nullable {
				allNotNull = false
				break
			}
		}
		if allNotNull {
			return idx
		}
	}
	return nil
}

// KeyColumns returns the ordered column names identifying a row: the
// primary key if present, else a qualifying unique key, else nil.
func (t *Table) KeyColumns() []string {
	idx := t.PrimaryKey()
	if idx == nil {
		idx = t.UniqueKey()
	}
	if idx == nil {
		return nil
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = c.Name
	}
	return cols
}

// canonicalType normalizes display-width-only differences the way spec.md
// §3 requires: "int(11)" and "int" are the same type. Only the bare integer
// keyword types carry a meaningless display width; every other type's
// length is semantically significant (varchar(10) != varchar(20)).
var integerBareTypes = map[string]bool{
	"tinyint": true, "smallint": true, "mediumint": true, "int": true, "bigint": true,
}

func canonicalType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	paren := strings.IndexByte(t, '(')
	if paren < 0 {
		return t
	}
	base := strings.TrimSpace(t[:paren])
	rest := t[paren:]
	if integerBareTypes[base] {
		closeParen := strings.IndexByte(rest, ')')
		if closeParen >= 0 {
			suffix := strings.TrimSpace(rest[closeParen+1:])
			if suffix == "" {
				return base
			}
			return base + " " + suffix
		}
	}
	return t
}

// Canonical returns a byte-identical-comparable rendering of the table:
// indexes sorted by name, types normalized, charset/collation resolved
// from the table level down to each column. Two tables are semantically
// equal (spec.md §3) iff their Canonical() strings match.
func (t *Table) Canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TABLE %s\n", t.Name)

	resolvedCharset := t.Options.Charset
	resolvedCollation := t.Options.Collation

	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	for _, c := range cols {
		charset := c.Charset
		if charset == "" {
			charset = resolvedCharset
		}
		collation := c.Collation
		if collation == "" {
			collation = resolvedCollation
		}
		def := ""
		if c.Default != nil {
			def = *c.Default
		}
		fmt.Fprintf(&b, "COL %s %s unsigned=%v null=%v default=%q charset=%s collation=%s autoinc=%v generated=%q stored=%v\n",
			c.Name, canonicalType(c.Type), c.Unsigned, c.Nullable, def, charset, collation, c.AutoInc, c.Generated, c.Stored)
	}

	idxs := make([]Index, len(t.Indexes))
	copy(idxs, t.Indexes)
	sort.Slice(idxs, func(i, j int) bool { return idxs[i].Name < idxs[j].Name })
	for _, idx := range idxs {
		cols := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			if c.Prefix > 0 {
				cols[i] = fmt.Sprintf("%s(%d)", c.Name, c.Prefix)
			} else {
				cols[i] = c.Name
			}
		}
		fmt.Fprintf(&b, "IDX %s %s [%s]\n", idx.Name, idx.Kind, strings.Join(cols, ","))
	}

	if t.Partition != nil && t.Partition.Kind != PartitionNone {
		fmt.Fprintf(&b, "PARTITION %s %s partitions=%d\n", t.Partition.Kind, t.Partition.Expr, t.Partition.Partitions)
		for _, d := range t.Partition.Definitions {
			if d.Values != nil {
				fmt.Fprintf(&b, "  PART %s %s %v\n", d.Name, d.Values.Type, d.Values.Values)
			} else {
				fmt.Fprintf(&b, "  PART %s\n", d.Name)
			}
		}
	}

	fmt.Fprintf(&b, "OPTIONS engine=%s rowformat=%s comment=%q\n", t.Options.Engine, t.Options.RowFormat, t.Options.Comment)
	return b.String()
}

// Equal reports whether t and other are semantically equal per spec.md §3.
func (t *Table) Equal(other *Table) bool {
	return t.Canonical() == other.Canonical()
}
