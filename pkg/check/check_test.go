package check

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsql/osc/pkg/schema"
	"github.com/opsql/osc/pkg/table"
)

func TestRunChecksPostSetupPrimaryKeyMissing(t *testing.T) {
	src := &table.TableInfo{SchemaName: "shop", TableName: "orders"}
	r := Resources{Source: src}

	err := RunChecks(context.Background(), r, nil, ScopePostSetup)
	require.Error(t, err)
}

func TestRunChecksPostSetupPrimaryKeyAllowed(t *testing.T) {
	src := &table.TableInfo{SchemaName: "shop", TableName: "orders"}
	r := Resources{Source: src, AllowNoPK: true}

	err := RunChecks(context.Background(), r, nil, ScopePostSetup)
	require.NoError(t, err)
}

func TestRunChecksPostSetupPrimaryKeyPresent(t *testing.T) {
	src := &table.TableInfo{SchemaName: "shop", TableName: "orders", KeyColumns: []string{"id"}}
	r := Resources{Source: src}

	err := RunChecks(context.Background(), r, nil, ScopePostSetup)
	require.NoError(t, err)
}

func TestRunChecksEngineMismatch(t *testing.T) {
	src := &table.TableInfo{SchemaName: "shop", TableName: "orders", KeyColumns: []string{"id"}, Engine: "InnoDB"}
	target := &schema.Table{Options: schema.Options{Engine: "MyISAM"}}
	r := Resources{Source: src, Target: target}

	err := RunChecks(context.Background(), r, nil, ScopePostSetup)
	require.Error(t, err)
}

func TestRunChecksEngineMismatchAllowed(t *testing.T) {
	src := &table.TableInfo{SchemaName: "shop", TableName: "orders", KeyColumns: []string{"id"}, Engine: "InnoDB"}
	target := &schema.Table{Options: schema.Options{Engine: "MyISAM"}}
	r := Resources{Source: src, Target: target, NoEngineCheck: true}

	err := RunChecks(context.Background(), r, nil, ScopePostSetup)
	require.NoError(t, err)
}

func TestRunChecksUnknownScopeIsNoOp(t *testing.T) {
	err := RunChecks(context.Background(), Resources{}, nil, Scope(99))
	assert.NoError(t, err)
}

func TestRunChecksNilResourcesAreSkipped(t *testing.T) {
	err := RunChecks(context.Background(), Resources{}, nil, ScopePreflight)
	assert.NoError(t, err)

	err = RunChecks(context.Background(), Resources{}, nil, ScopeCutover)
	assert.NoError(t, err)
}
