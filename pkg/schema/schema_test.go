package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalTypeNormalizesIntegerWidth(t *testing.T) {
	assert.Equal(t, "int", canonicalType("int(11)"))
	assert.Equal(t, "bigint", canonicalType("BIGINT(20)"))
	assert.Equal(t, "int unsigned", canonicalType("int(11) unsigned"))
}

func TestCanonicalTypePreservesSemanticLength(t *testing.T) {
	assert.Equal(t, "varchar(10)", canonicalType("varchar(10)"))
	assert.Equal(t, "decimal(10,2)", canonicalType("decimal(10,2)"))
}

func TestTableEqualIgnoresDisplayWidth(t *testing.T) {
	a := &Table{Name: "t", Columns: []Column{{Name: "id", Type: "int(11)", Nullable: false}}}
	b := &Table{Name: "t", Columns: []Column{{Name: "id", Type: "int", Nullable: false}}}
	assert.True(t, a.Equal(b))
}

func TestTableEqualDetectsNullabilityChange(t *testing.T) {
	a := &Table{Name: "t", Columns: []Column{{Name: "id", Type: "int", Nullable: false}}}
	b := &Table{Name: "t", Columns: []Column{{Name: "id", Type: "int", Nullable: true}}}
	assert.False(t, a.Equal(b))
}

func TestTableEqualIndexOrderIndependent(t *testing.T) {
	a := &Table{Name: "t", Indexes: []Index{
		{Name: "b_idx", Kind: IndexNonUnique, Columns: []IndexColumn{{Name: "b"}}},
		{Name: "a_idx", Kind: IndexNonUnique, Columns: []IndexColumn{{Name: "a"}}},
	}}
	b := &Table{Name: "t", Indexes: []Index{
		{Name: "a_idx", Kind: IndexNonUnique, Columns: []IndexColumn{{Name: "a"}}},
		{Name: "b_idx", Kind: IndexNonUnique, Columns: []IndexColumn{{Name: "b"}}},
	}}
	assert.True(t, a.Equal(b))
}

func TestUniqueKeyRequiresAllColumnsNotNull(t *testing.T) {
	tbl := &Table{
		Columns: []Column{{Name: "email", Nullable: true}},
		Indexes: []Index{{Name: "uq_email", Kind: IndexUnique, Columns: []IndexColumn{{Name: "email"}}}},
	}
	assert.Nil(t, tbl.UniqueKey())

	tbl.Columns[0].Nullable = false
	uk := tbl.UniqueKey()
	assert.NotNil(t, uk)
	assert.Equal(t, "uq_email", uk.Name)
}

func TestKeyColumnsPrefersPrimaryOverUnique(t *testing.T) {
	tbl := &Table{
		Indexes: []Index{
			{Name: "uq", Kind: IndexUnique, Columns: []IndexColumn{{Name: "email"}}},
			{Name: "PRIMARY", Kind: IndexPrimary, Columns: []IndexColumn{{Name: "id"}}},
		},
	}
	assert.Equal(t, []string{"id"}, tbl.KeyColumns())
}

func TestKeyColumnsNilWhenNeitherPresent(t *testing.T) {
	tbl := &Table{}
	assert.Nil(t, tbl.KeyColumns())
}
