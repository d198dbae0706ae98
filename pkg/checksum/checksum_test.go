package checksum

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opsql/osc/pkg/table"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestNewCheckerRejectsNilTables(t *testing.T) {
	t1 := table.NewTableInfo(nil, "shop", "orders")

	_, err := NewChecker(nil, nil, t1, nil)
	require.Error(t, err)

	_, err = NewChecker(nil, t1, nil, nil)
	require.Error(t, err)
}

func TestNewCheckerDefaultsConfig(t *testing.T) {
	t1 := table.NewTableInfo(nil, "shop", "orders")
	t2 := table.NewTableInfo(nil, "shop", "_orders_new")

	c, err := NewChecker(nil, t1, t2, nil)
	require.NoError(t, err)
	assert.Equal(t, table.DefaultChunkSize, c.cfg.ChunkSize)
	assert.Equal(t, uint64(0), c.ChunksChecked)
}

func TestNewCheckerKeepsExplicitConfig(t *testing.T) {
	t1 := table.NewTableInfo(nil, "shop", "orders")
	t2 := table.NewTableInfo(nil, "shop", "_orders_new")

	c, err := NewChecker(nil, t1, t2, &Config{ChunkSize: 42})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c.cfg.ChunkSize)
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, table.DefaultChunkSize, DefaultConfig().ChunkSize)
}
