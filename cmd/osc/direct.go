package main

import (
	"context"

	"github.com/opsql/osc/pkg/controller"
	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/table"
)

// DirectCmd is spec.md §6's `direct` mode: "simply executes a native DDL"
// against the target table, no shadow table, no triggers, no cutover. It
// tries ALGORITHM=INSTANT, then (if allowed) ALGORITHM=INPLACE, then a
// plain ALTER TABLE as a last resort, mirroring teacher's
// attemptMySQLDDL/attemptInstantDDL/attemptInplaceDDL sequence.
type DirectCmd struct {
	connection `kong:"embed"`

	Table           string `help:"Table the DDL applies to." required:""`
	Alter           string `arg:"" help:"ALTER TABLE clause to apply, everything after the table name (e.g. \"ADD COLUMN data VARCHAR(10)\")."`
	AllowInplaceDDL bool   `help:"Permit ALGORITHM=INPLACE if INSTANT is not applicable (blocks binlog-based replicas while running)."`
}

func (cmd *DirectCmd) Run() error {
	db, err := dbconn.New(cmd.connection.dsn(), dbconn.NewConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	dbCfg := dbconn.NewConfig()
	tbl := table.NewTableInfo(db, cmd.Database, cmd.Table)

	if err := controller.AttemptFastDDL(context.Background(), db, dbCfg, tbl, cmd.Alter, cmd.AllowInplaceDDL); err == nil {
		return nil
	}

	stmt := "ALTER TABLE " + tbl.QuotedName() + " " + cmd.Alter
	_, err = dbconn.RetryableTransaction(context.Background(), db, dbCfg, stmt)
	return err
}
