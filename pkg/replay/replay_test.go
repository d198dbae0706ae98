package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsql/osc/pkg/table"
)

func TestFormatKeyValue(t *testing.T) {
	assert.Equal(t, "42", formatKeyValue(42))
	assert.Equal(t, "'o''brien'", formatKeyValue("o'brien"))
}

func TestRowValueListSingleColumn(t *testing.T) {
	keys := [][]any{{1}, {2}, {3}}
	assert.Equal(t, "1,2,3", rowValueList(keys))
}

func TestRowValueListCompositeColumns(t *testing.T) {
	keys := [][]any{{1, "a"}, {2, "b"}}
	assert.Equal(t, "(1,'a'),(2,'b')", rowValueList(keys))
}

func TestNewAppliesDefaultBatchSize(t *testing.T) {
	r := New(nil, nil, nil, nil, Options{}, nil)
	assert.Equal(t, DefaultBatchSize, r.opts.BatchSize)
}

func TestNewKeepsExplicitBatchSize(t *testing.T) {
	r := New(nil, nil, nil, nil, Options{BatchSize: 42}, nil)
	assert.Equal(t, 42, r.opts.BatchSize)
}

func TestDeleteStmt(t *testing.T) {
	src := &table.TableInfo{KeyColumns: []string{"id"}}
	target := &table.TableInfo{SchemaName: "shop", TableName: "_orders_new"}
	r := &Replayer{source: src, target: target}

	stmt := r.deleteStmt([][]any{{1}, {2}})
	assert.Equal(t, "DELETE FROM `shop`.`_orders_new` WHERE (`id`) IN (1,2)", stmt)
}

func TestReplaceStmt(t *testing.T) {
	src := &table.TableInfo{SchemaName: "shop", TableName: "orders", KeyColumns: []string{"id"}, NonGeneratedColumns: []string{"id", "status"}}
	target := &table.TableInfo{SchemaName: "shop", TableName: "_orders_new", NonGeneratedColumns: []string{"id", "status"}}
	r := &Replayer{source: src, target: target}

	stmt := r.replaceStmt([][]any{{1}})
	assert.Contains(t, stmt, "REPLACE INTO `shop`.`_orders_new`")
	assert.Contains(t, stmt, "SELECT `id`, `status` FROM `shop`.`orders`")
	assert.Contains(t, stmt, "WHERE (`id`) IN (1)")
}
