package controller

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/table"
)

// AttemptFastDDL tries MySQL's own online-DDL algorithms before falling
// back to the full copy engine, grounded on teacher's
// Runner.attemptMySQLDDL/attemptInstantDDL/attemptInplaceDDL: INSTANT
// covers the common "add a nullable column" case with no table rebuild at
// all; INPLACE covers a wider set of changes but blocks replicas applying
// via the binlog, so it is opt-in (teacher's AttemptInplaceDDL gate).
// alterClause is everything after "ALTER TABLE <name>", e.g.
// "ADD COLUMN data VARCHAR(10)". Exported so the `direct` CLI mode can run
// the identical attempt outside of a full Controller.Run.
func AttemptFastDDL(ctx context.Context, db *sql.DB, dbCfg *dbconn.Config, tbl *table.TableInfo, alterClause string, allowInplace bool) error {
	instant := fmt.Sprintf("ALTER TABLE %s %s, ALGORITHM=INSTANT", tbl.QuotedName(), alterClause)
	if _, err := dbconn.RetryableTransaction(ctx, db, dbCfg, instant); err == nil {
		return nil
	}

	if !allowInplace {
		return fmt.Errorf("instant DDL not applicable for %q", alterClause)
	}
	inplace := fmt.Sprintf("ALTER TABLE %s %s, ALGORITHM=INPLACE, LOCK=NONE", tbl.QuotedName(), alterClause)
	_, err := dbconn.RetryableTransaction(ctx, db, dbCfg, inplace)
	return err
}
