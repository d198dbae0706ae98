package dbconn

import (
	"context"
	"database/sql"

	"github.com/opsql/osc/pkg/table"
	"github.com/sirupsen/logrus"
)

// TableLock holds a server-wide LOCK TABLES ... WRITE across the given
// tables, following teacher's pkg/dbconn.TableLock. It is used for the
// cutover's short, bounded lock window (spec.md §4.7).
type TableLock struct {
	lockTxn *sql.Tx
	logger  *logrus.Logger
}

// NewTableLock attempts to acquire LOCK TABLES ... WRITE on all of tables
// in a single statement. It does not retry — the caller (the controller's
// cutover loop) is expected to retry after catching up on replay, per
// spec.md §4.7's "If the cap is hit, release locks and return to
// REPLAY_CATCHUP."
func NewTableLock(ctx context.Context, db *sql.DB, tables []*table.TableInfo, cfg *Config, logger *logrus.Logger) (*TableLock, error) {
	lockStmt := "LOCK TABLES "
	for i, t := range tables {
		if i > 0 {
			lockStmt += ", "
		}
		lockStmt += t.QuotedName() + " WRITE"
	}
	trx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if err := standardizeTrx(ctx, trx, cfg); err != nil {
		_ = trx.Rollback()
		return nil, err
	}
	logger.Warnf("trying to acquire table locks, timeout: %ds", cfg.LockWaitTimeout)
	if _, err := trx.ExecContext(ctx, lockStmt); err != nil {
		_ = trx.Rollback()
		logger.Warnf("failed to acquire table lock(s): %v", err)
		return nil, err
	}
	logger.Warn("table lock(s) acquired")
	return &TableLock{lockTxn: trx, logger: logger}, nil
}

// ExecUnderLock runs statements on the lock-holding connection, so they are
// serialized with whatever else holds the lock.
func (l *TableLock) ExecUnderLock(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if stmt == "" {
			continue
		}
		if _, err := l.lockTxn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the lock and rolls back the holding transaction.
func (l *TableLock) Close() error {
	if _, err := l.lockTxn.Exec("UNLOCK TABLES"); err != nil {
		return err
	}
	if err := l.lockTxn.Rollback(); err != nil {
		return err
	}
	l.logger.Warn("table lock(s) released")
	return nil
}
