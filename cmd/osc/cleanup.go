package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opsql/osc/pkg/controller"
)

// CleanupCmd is spec.md §6's standalone `cleanup` invocation mode: a no-op
// if no cleanup-state file is found, otherwise it removes every artifact
// the state file names. Table is an optional filter within Database;
// omitted, it sweeps every state file found under TmpDir for that schema.
type CleanupCmd struct {
	connection `kong:"embed"`

	Table  string `help:"Only clean up this table; default cleans up every state file found for the schema."`
	TmpDir string `help:"Directory to scan for cleanup-state files." default:"/tmp"`
}

func (cmd *CleanupCmd) Run() error {
	cfg := controller.Config{
		DSN:        cmd.connection.dsn(),
		SchemaName: cmd.Database,
		TableName:  cmd.Table,
		TmpDir:     cmd.TmpDir,
	}
	return controller.Cleanup(context.Background(), cfg, logrus.New())
}
