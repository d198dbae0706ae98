package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreateTableBasic(t *testing.T) {
	sql := `CREATE TABLE orders (
		id BIGINT NOT NULL AUTO_INCREMENT,
		customer_id INT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'new',
		PRIMARY KEY (id),
		UNIQUE KEY uq_customer (customer_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COMMENT='order table'`

	tbl, err := ParseCreateTable(sql, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, "orders", tbl.Name)
	require.Len(t, tbl.Columns, 3)

	id := tbl.ColumnByName("id")
	require.NotNil(t, id)
	assert.True(t, id.AutoInc)
	assert.False(t, id.Nullable)

	status := tbl.ColumnByName("status")
	require.NotNil(t, status)
	require.NotNil(t, status.Default)
	assert.Equal(t, "'new'", *status.Default)

	pk := tbl.PrimaryKey()
	require.NotNil(t, pk)
	assert.Equal(t, []IndexColumn{{Name: "id"}}, pk.Columns)

	assert.Equal(t, "InnoDB", tbl.Options.Engine)
	assert.Equal(t, "utf8mb4", tbl.Options.Charset)
	assert.Equal(t, "order table", tbl.Options.Comment)
}

func TestParseCreateTableInlinePrimaryKey(t *testing.T) {
	sql := `CREATE TABLE t (id INT PRIMARY KEY, name VARCHAR(10))`
	tbl, err := ParseCreateTable(sql, ParseOptions{})
	require.NoError(t, err)

	pk := tbl.PrimaryKey()
	require.NotNil(t, pk)
	assert.Equal(t, "PRIMARY", pk.Name)
	assert.Equal(t, []string{"id"}, tbl.KeyColumns())
}

func TestParseCreateTableRejectsCheckConstraint(t *testing.T) {
	sql := `CREATE TABLE t (id INT PRIMARY KEY, age INT, CHECK (age >= 0))`
	_, err := ParseCreateTable(sql, ParseOptions{})
	require.Error(t, err)
}

func TestParseCreateTableRejectsMultipleCreateTables(t *testing.T) {
	sql := `CREATE TABLE a (id INT PRIMARY KEY); CREATE TABLE b (id INT PRIMARY KEY);`
	_, err := ParseCreateTable(sql, ParseOptions{})
	require.Error(t, err)
}

func TestParseCreateTableRejectsOtherStatements(t *testing.T) {
	sql := `DROP TABLE t; CREATE TABLE t (id INT PRIMARY KEY);`
	_, err := ParseCreateTable(sql, ParseOptions{})
	require.Error(t, err)

	tbl, err := ParseCreateTable(sql, ParseOptions{SkipNonCreateTable: true})
	require.NoError(t, err)
	assert.Equal(t, "t", tbl.Name)
}

func TestParseCreateTableRejectsMalformedSQL(t *testing.T) {
	_, err := ParseCreateTable(`CREATE TABLE (((`, ParseOptions{})
	require.Error(t, err)
}

func TestParseCreateTableNoStatement(t *testing.T) {
	_, err := ParseCreateTable(``, ParseOptions{})
	require.Error(t, err)
}

func TestParseCreateTablePartitioned(t *testing.T) {
	sql := `CREATE TABLE events (
		id INT NOT NULL,
		created_at INT NOT NULL,
		PRIMARY KEY (id, created_at)
	) PARTITION BY RANGE (created_at) (
		PARTITION p0 VALUES LESS THAN (100),
		PARTITION p1 VALUES LESS THAN (200)
	)`
	tbl, err := ParseCreateTable(sql, ParseOptions{})
	require.NoError(t, err)
	require.NotNil(t, tbl.Partition)
	assert.Equal(t, PartitionRange, tbl.Partition.Kind)
	assert.Len(t, tbl.Partition.Definitions, 2)
}

func TestRewriteCreateTableRenames(t *testing.T) {
	sql := `CREATE TABLE orders (id INT PRIMARY KEY)`
	out, err := RewriteCreateTable(sql, "_orders_new", false)
	require.NoError(t, err)
	assert.Contains(t, out, "_orders_new")
	assert.NotContains(t, out, "`orders`")
}

func TestRewriteCreateTableStripsPartition(t *testing.T) {
	sql := `CREATE TABLE events (id INT PRIMARY KEY) PARTITION BY HASH (id) PARTITIONS 4`
	withPartition, err := RewriteCreateTable(sql, "_events_new", false)
	require.NoError(t, err)
	assert.Contains(t, withPartition, "PARTITION")

	stripped, err := RewriteCreateTable(sql, "_events_new", true)
	require.NoError(t, err)
	assert.NotContains(t, stripped, "PARTITION")
}

func TestRewriteCreateTableRejectsMalformed(t *testing.T) {
	_, err := RewriteCreateTable(`not sql`, "x", false)
	require.Error(t, err)
}

func TestRewriteCreateTableNoCreateStatement(t *testing.T) {
	_, err := RewriteCreateTable(`DROP TABLE t`, "x", false)
	require.Error(t, err)
}
