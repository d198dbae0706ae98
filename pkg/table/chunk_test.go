package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func singleKeyTable() *TableInfo {
	return &TableInfo{SchemaName: "shop", TableName: "orders", KeyColumns: []string{"id"}}
}

func compositeKeyTable() *TableInfo {
	return &TableInfo{SchemaName: "shop", TableName: "order_items", KeyColumns: []string{"order_id", "line_no"}}
}

func TestChunkStringUnbounded(t *testing.T) {
	c := &Chunk{Table: singleKeyTable()}
	assert.Equal(t, "1=1", c.String())
}

func TestChunkStringLowerBoundOnly(t *testing.T) {
	c := &Chunk{
		Table:      singleKeyTable(),
		LowerBound: &Boundary{Value: []Datum{{Val: 100}}, Inclusive: false},
	}
	assert.Equal(t, "`id` > 100", c.String())
}

func TestChunkStringBothBoundsInclusiveUpper(t *testing.T) {
	c := &Chunk{
		Table:      singleKeyTable(),
		LowerBound: &Boundary{Value: []Datum{{Val: 100}}, Inclusive: false},
		UpperBound: &Boundary{Value: []Datum{{Val: 200}}, Inclusive: true},
	}
	assert.Equal(t, "`id` > 100 AND `id` <= 200", c.String())
}

func TestChunkStringCompositeKey(t *testing.T) {
	c := &Chunk{
		Table:      compositeKeyTable(),
		LowerBound: &Boundary{Value: []Datum{{Val: 5}, {Val: 2}}, Inclusive: true},
		UpperBound: &Boundary{Value: []Datum{{Val: 5}, {Val: 10}}, Inclusive: true},
	}
	assert.Equal(t, "(`order_id`,`line_no`) >= (5,2) AND (`order_id`,`line_no`) <= (5,10)", c.String())
}

func TestChunkStringQuotesAndEscapesStringDatum(t *testing.T) {
	c := &Chunk{
		Table:      &TableInfo{KeyColumns: []string{"code"}},
		LowerBound: &Boundary{Value: []Datum{{Val: "o'brien"}}, Inclusive: false},
	}
	assert.Equal(t, "`code` > 'o''brien'", c.String())
}
