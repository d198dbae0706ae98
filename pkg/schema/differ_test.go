package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTable() *Table {
	return &Table{
		Name: "orders",
		Columns: []Column{
			{Name: "id", Type: "int", Nullable: false},
			{Name: "status", Type: "varchar(20)", Nullable: false},
		},
		Indexes: []Index{
			{Name: "PRIMARY", Kind: IndexPrimary, Columns: []IndexColumn{{Name: "id"}}},
		},
		Options: Options{Engine: "InnoDB"},
	}
}

func TestDiffTablesIdentical(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	d, err := DiffTables(old, newT, Options{})
	require.NoError(t, err)
	assert.Equal(t, ClassIdentical, d.Classification)
	assert.Empty(t, d.Changes)
}

func TestDiffTablesAddColumnIsSafe(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Columns = append(newT.Columns, Column{Name: "notes", Type: "varchar(100)", Nullable: true})

	d, err := DiffTables(old, newT, Options{})
	require.NoError(t, err)
	assert.Equal(t, ClassSafeCopy, d.Classification)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, ColumnAdd, d.Changes[0].Kind)
	assert.Equal(t, "notes", d.Changes[0].Name)
}

func TestDiffTablesDropColumn(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Columns = newT.Columns[:1]

	d, err := DiffTables(old, newT, Options{})
	require.NoError(t, err)
	assert.Equal(t, ClassSafeCopy, d.Classification)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, ColumnDrop, d.Changes[0].Kind)
	assert.Equal(t, "status", d.Changes[0].Name)
}

func TestDiffTablesRejectsNoKeyByDefault(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Indexes = nil

	d, err := DiffTables(old, newT, Options{})
	require.Error(t, err)
	assert.Equal(t, ClassRejected, d.Classification)
}

func TestDiffTablesAllowNoPK(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Indexes = nil

	// Dropping the only key also changes the PK (rule 2), so AllowNewPK is
	// needed alongside AllowNoPK for the change to pass.
	d, err := DiffTables(old, newT, Options{AllowNoPK: true, AllowNewPK: true})
	require.NoError(t, err)
	assert.Equal(t, ClassSafeCopy, d.Classification)
}

func TestDiffTablesRejectsPKChangeByDefault(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Indexes = []Index{{Name: "PRIMARY", Kind: IndexPrimary, Columns: []IndexColumn{{Name: "status"}}}}

	d, err := DiffTables(old, newT, Options{})
	require.Error(t, err)
	assert.Equal(t, ClassRejected, d.Classification)
}

func TestDiffTablesAllowNewPK(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Indexes = []Index{{Name: "PRIMARY", Kind: IndexPrimary, Columns: []IndexColumn{{Name: "status"}}}}

	d, err := DiffTables(old, newT, Options{AllowNewPK: true})
	require.NoError(t, err)
	assert.NotEqual(t, ClassRejected, d.Classification)
}

func TestDiffTablesRejectsCollationNarrowing(t *testing.T) {
	old := baseTable()
	old.Columns[1].Collation = "latin1_bin"
	newT := baseTable()
	newT.Columns[1].Collation = "latin1_general_ci"

	d, err := DiffTables(old, newT, Options{})
	require.Error(t, err)
	assert.Equal(t, ClassRejected, d.Classification)
}

func TestDiffTablesCollationNarrowingAllowedWithEliminateDups(t *testing.T) {
	old := baseTable()
	old.Columns[1].Collation = "latin1_bin"
	newT := baseTable()
	newT.Columns[1].Collation = "latin1_general_ci"

	d, err := DiffTables(old, newT, Options{EliminateDups: true})
	require.NoError(t, err)
	assert.NotEqual(t, ClassRejected, d.Classification)
}

func TestDiffTablesFailForImplicitConv(t *testing.T) {
	old := baseTable()
	old.Columns[1].Type = "varchar(20)"
	l20 := 20
	old.Columns[1].Length = &l20
	newT := baseTable()
	l10 := 10
	newT.Columns[1].Type = "varchar(10)"
	newT.Columns[1].Length = &l10

	d, err := DiffTables(old, newT, Options{FailForImplicitConv: true})
	require.Error(t, err)
	assert.Equal(t, ClassRejected, d.Classification)

	d2, err := DiffTables(old, newT, Options{})
	require.NoError(t, err)
	assert.Equal(t, ClassUnsafe, d2.Classification)
}

func TestDiffTablesEngineMismatchRejected(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Options.Engine = "MyISAM"

	d, err := DiffTables(old, newT, Options{})
	require.Error(t, err)
	assert.Equal(t, ClassRejected, d.Classification)
}

func TestDiffTablesEngineMismatchAllowedWithNoEngineCheck(t *testing.T) {
	old := baseTable()
	newT := baseTable()
	newT.Options.Engine = "MyISAM"

	d, err := DiffTables(old, newT, Options{NoEngineCheck: true})
	require.NoError(t, err)
	assert.NotEqual(t, ClassRejected, d.Classification)
}

func TestDiffTablesRmPartitionStripsBeforeComparing(t *testing.T) {
	old := baseTable()
	old.Partition = &Partitioning{Kind: PartitionNone}
	newT := baseTable()
	newT.Partition = &Partitioning{Kind: PartitionHash, Expr: "id", Partitions: 4}

	d, err := DiffTables(old, newT, Options{RmPartition: true})
	require.NoError(t, err)
	assert.Equal(t, ClassIdentical, d.Classification)
}

func TestDiffTablesUnsafeShrinkingIntegerType(t *testing.T) {
	old := baseTable()
	old.Columns[0].Type = "bigint"
	newT := baseTable()
	newT.Columns[0].Type = "int"

	d, err := DiffTables(old, newT, Options{})
	require.NoError(t, err)
	assert.Equal(t, ClassUnsafe, d.Classification)
	assert.NotEmpty(t, d.Reasons)
}
