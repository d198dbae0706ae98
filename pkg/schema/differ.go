package schema

import (
	"fmt"

	"github.com/opsql/osc/pkg/ocerr"
)

// Classification is the outcome of diffing two schema objects (spec.md §3).
type Classification string

const (
	ClassIdentical Classification = "identical"
	ClassSafeCopy  Classification = "safe-copy"
	ClassUnsafe    Classification = "unsafe"
	ClassRejected  Classification = "rejected"
)

// ChangeKind is the kind of one entry in a Diff.
type ChangeKind string

const (
	ColumnAdd      ChangeKind = "column-add"
	ColumnDrop     ChangeKind = "column-drop"
	ColumnModify   ChangeKind = "column-modify"
	IndexAdd       ChangeKind = "index-add"
	IndexDrop      ChangeKind = "index-drop"
	OptionChange   ChangeKind = "option-change"
	PartitionChange ChangeKind = "partition-change"
)

// Change is one ordered entry of a Diff.
type Change struct {
	Kind   ChangeKind
	Name   string
	Detail string
}

// Diff is the output of DiffTables: an ordered change list plus classification.
type Diff struct {
	Changes        []Change
	Classification Classification
	Reasons        []string
}

// Options tunes the Differ's policy decisions, mapping 1:1 onto the
// "Recognized options" of spec.md §6.
type Options struct {
	AllowNewPK           bool
	AllowNoPK            bool
	EliminateDups        bool
	FailForImplicitConv  bool
	NoEngineCheck        bool
	RmPartition          bool
}

// DiffTables compares old and new and classifies the change, applying the
// six ordered rules of spec.md §4.2.
func DiffTables(old, newT *Table, opts Options) (*Diff, error) {
	if opts.RmPartition && newT.Partition != nil {
		stripped := *newT
		none := Partitioning{Kind: PartitionNone}
		stripped.Partition = &none
		newT = &stripped
	}

	if old.Equal(newT) {
		return &Diff{Classification: ClassIdentical}, nil
	}

	d := &Diff{}

	// Rule 1: new has no PK/unique key and allow_no_pk is false -> rejected.
	if newT.KeyColumns() == nil && !opts.AllowNoPK {
		return rejected(d, "new schema has no primary or unique key and allow_no_pk is false")
	}

	// Rule 2: old.PK != new.PK and allow_new_pk is false -> rejected.
	oldPK := keyColumnSet(old)
	newPK := keyColumnSet(newT)
	if !sameStringSet(oldPK, newPK) && !opts.AllowNewPK {
		return rejected(d, "primary key changed and allow_new_pk is false")
	}

	// Rule 3: collation change reinterprets existing bytes non-injectively.
	for _, oc := range old.Columns {
		nc := newT.ColumnByName(oc.Name)
		if nc == nil {
			continue
		}
		if collationNarrowsCharset(oc, *nc) && !opts.EliminateDups {
			return rejectedWithCode(d, "CollationChangeCollision",
				fmt.Sprintf("column %q collation change %s -> %s may collapse distinct values and eliminate_dups is false", oc.Name, oc.Collation, nc.Collation))
		}
	}

	// Rule 4: safe-copy projection column lacks a compatible source and
	// fail_for_implicit_conv is true.
	if opts.FailForImplicitConv {
		for _, nc := range newT.Columns {
			oc := old.ColumnByName(nc.Name)
			if oc == nil {
				continue
			}
			if !compatibleForImplicitCopy(*oc, nc) {
				return rejected(d, fmt.Sprintf("column %q requires an implicit conversion from %q to %q and fail_for_implicit_conv is true", nc.Name, oc.Type, nc.Type))
			}
		}
	}

	// Rule 5: engine mismatch.
	if old.Options.Engine != "" && newT.Options.Engine != "" &&
		old.Options.Engine != newT.Options.Engine && !opts.NoEngineCheck {
		return rejected(d, fmt.Sprintf("engine changed from %q to %q and no_engine_check is false", old.Options.Engine, newT.Options.Engine))
	}

	// Rule 6: otherwise, safe-copy. Build the ordered diff.
	buildColumnDiff(d, old, newT)
	buildIndexDiff(d, old, newT)
	buildOptionDiff(d, old, newT)
	buildPartitionDiff(d, old, newT)

	unsafe := false
	for _, oc := range old.Columns {
		nc := newT.ColumnByName(oc.Name)
		if nc == nil {
			continue
		}
		if !compatibleForImplicitCopy(oc, *nc) {
			unsafe = true
			d.Reasons = append(d.Reasons, fmt.Sprintf("column %q conversion %q -> %q is lossy", oc.Name, oc.Type, nc.Type))
		}
	}
	if unsafe {
		d.Classification = ClassUnsafe
		return d, nil
	}

	d.Classification = ClassSafeCopy
	return d, nil
}

func rejected(d *Diff, reason string) (*Diff, error) {
	d.Classification = ClassRejected
	d.Reasons = append(d.Reasons, reason)
	return d, ocerr.New(ocerr.KindValidation, reason)
}

func rejectedWithCode(d *Diff, code, reason string) (*Diff, error) {
	d.Classification = ClassRejected
	d.Reasons = append(d.Reasons, reason)
	return d, ocerr.New(ocerr.KindValidation, code+": "+reason)
}

func keyColumnSet(t *Table) map[string]bool {
	set := map[string]bool{}
	for _, c := range t.KeyColumns() {
		set[c] = true
	}
	return set
}

func sameStringSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// collationNarrowsCharset reports whether changing oc's collation to nc's
// would collapse previously-distinct byte sequences, judged by suffix
// strictness: _bin is strictest, then _cs, then every other collation
// (_ci, _ai, ...). The rule trips whenever strictness decreases, so
// `latin1_bin -> latin1_general_cs` trips as well as `_bin`/`_cs -> _ci`.
// A column with no explicit collation on either side is not checked.
func collationNarrowsCharset(oc, nc Column) bool {
	if oc.Collation == "" || nc.Collation == "" || oc.Collation == nc.Collation {
		return false
	}
	return collationStrictness(nc.Collation) < collationStrictness(oc.Collation)
}

func collationStrictness(collation string) int {
	n := len(collation)
	switch {
	case n >= 4 && collation[n-4:] == "_bin":
		return 2
	case n >= 3 && collation[n-3:] == "_cs":
		return 1
	}
	return 0
}

// compatibleForImplicitCopy reports whether a row in oc's type can be
// copied into nc's type without MySQL raising a truncation/conversion
// error under default (non-strict, since this engine sets sql_mode='')
// semantics. It models the narrowing cases spec.md §4.2 rule 4 names:
// a shorter target integer or varchar length.
func compatibleForImplicitCopy(oc, nc Column) bool {
	if oc.Type == nc.Type {
		return true
	}
	if oc.Length != nil && nc.Length != nil && *nc.Length < *oc.Length {
		return false
	}
	if integerRank(nc.Type) > 0 && integerRank(oc.Type) > 0 && integerRank(nc.Type) < integerRank(oc.Type) {
		return false
	}
	return true
}

var intRank = map[string]int{"tinyint": 1, "smallint": 2, "mediumint": 3, "int": 4, "bigint": 5}

func integerRank(canonType string) int {
	base := canonType
	if i := indexOfSpaceOrParen(base); i >= 0 {
		base = base[:i]
	}
	return intRank[base]
}

func indexOfSpaceOrParen(s string) int {
	for i, r := range s {
		if r == ' ' || r == '(' {
			return i
		}
	}
	return -1
}

func buildColumnDiff(d *Diff, old, newT *Table) {
	for _, nc := range newT.Columns {
		if old.ColumnByName(nc.Name) == nil {
			d.Changes = append(d.Changes, Change{Kind: ColumnAdd, Name: nc.Name, Detail: nc.Type})
		}
	}
	for _, oc := range old.Columns {
		if newT.ColumnByName(oc.Name) == nil {
			d.Changes = append(d.Changes, Change{Kind: ColumnDrop, Name: oc.Name})
		}
	}
	for _, oc := range old.Columns {
		nc := newT.ColumnByName(oc.Name)
		if nc == nil {
			continue
		}
		if oc.Type != nc.Type || oc.Nullable != nc.Nullable || ptrStr(oc.Default) != ptrStr(nc.Default) {
			d.Changes = append(d.Changes, Change{Kind: ColumnModify, Name: oc.Name, Detail: fmt.Sprintf("%s -> %s", oc.Type, nc.Type)})
		}
	}
}

func ptrStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func buildIndexDiff(d *Diff, old, newT *Table) {
	for _, ni := range newT.Indexes {
		if indexByName(old, ni.Name) == nil {
			d.Changes = append(d.Changes, Change{Kind: IndexAdd, Name: ni.Name})
		}
	}
	for _, oi := range old.Indexes {
		if indexByName(newT, oi.Name) == nil {
			d.Changes = append(d.Changes, Change{Kind: IndexDrop, Name: oi.Name})
		}
	}
}

func indexByName(t *Table, name string) *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}

func buildOptionDiff(d *Diff, old, newT *Table) {
	if old.Options.Engine != newT.Options.Engine {
		d.Changes = append(d.Changes, Change{Kind: OptionChange, Name: "engine", Detail: old.Options.Engine + " -> " + newT.Options.Engine})
	}
	if old.Options.RowFormat != newT.Options.RowFormat {
		d.Changes = append(d.Changes, Change{Kind: OptionChange, Name: "row_format", Detail: old.Options.RowFormat + " -> " + newT.Options.RowFormat})
	}
	if old.Options.Comment != newT.Options.Comment {
		d.Changes = append(d.Changes, Change{Kind: OptionChange, Name: "comment"})
	}
}

func buildPartitionDiff(d *Diff, old, newT *Table) {
	oldKind, newKind := PartitionNone, PartitionNone
	if old.Partition != nil {
		oldKind = old.Partition.Kind
	}
	if newT.Partition != nil {
		newKind = newT.Partition.Kind
	}
	if oldKind != newKind {
		d.Changes = append(d.Changes, Change{Kind: PartitionChange, Detail: fmt.Sprintf("%s -> %s", oldKind, newKind)})
	}
}
