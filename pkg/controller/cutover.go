package controller

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/ocerr"
	"github.com/opsql/osc/pkg/replay"
	"github.com/opsql/osc/pkg/table"
)

// cutover performs the locked swap of spec.md §4.7, grounded directly on
// teacher's pkg/migration.CutOver: a bounded retry loop around a single
// locked attempt, where each attempt re-acquires LOCK TABLES, drains the
// remaining delta rows under the lock, and — only if that drain converges
// within the iteration cap — issues the single-statement RENAME TABLE that
// is this design's linearization point (spec.md O3).
type cutover struct {
	db          *sql.DB
	dbCfg       *dbconn.Config
	source      *table.TableInfo
	shadow      *table.TableInfo
	delta       *table.TableInfo
	oldTableSQL string // fully quoted, schema-qualified _T_old name
	replayer    *replay.Replayer
	logger      *logrus.Logger
	lockCap     time.Duration
	maxAttempts int
}

// run retries attempt up to maxAttempts times, each time catching the
// replayer back up outside the lock before trying again — mirroring
// spec.md §4.7's "If the cap is hit, release locks and return to
// REPLAY_CATCHUP" without the caller having to drive that loop itself.
func (co *cutover) run(ctx context.Context) error {
	for attempt := 0; attempt < co.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ocerr.Wrap(ocerr.KindCancelled, err, "cutover cancelled")
		}
		if attempt > 0 {
			if co.logger != nil {
				co.logger.Warnf("cutover attempt %d: catching up before retry", attempt+1)
			}
			if err := co.replayer.CatchUp(ctx, co.db); err != nil {
				return err
			}
		}
		converged, err := co.attempt(ctx)
		if err != nil {
			return err
		}
		if converged {
			return nil
		}
	}
	return ocerr.New(ocerr.KindFatalDB, "cutover did not converge within the iteration cap after max attempts")
}

// attempt runs one locked cutover window, bounded by lockCap (spec.md P4:
// "cutover lock duration <= configured cap ... or the attempt is abandoned
// and retried"). It returns converged=false (no error) whenever the lock
// window should simply be retried: lock acquisition contention, final
// replay hitting its iteration cap, or the lockCap deadline expiring.
func (co *cutover) attempt(ctx context.Context) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, co.lockCap)
	defer cancel()

	lock, err := dbconn.NewTableLock(lockCtx, co.db, []*table.TableInfo{co.source, co.shadow, co.delta}, co.dbCfg, co.logger)
	if err != nil {
		if co.logger != nil {
			co.logger.Warnf("cutover: could not acquire table locks, will retry: %v", err)
		}
		return false, nil
	}

	converged, err := co.replayer.FinalReplay(lockCtx, lock)
	if err != nil {
		_ = lock.Close()
		if lockCtx.Err() != nil && ctx.Err() == nil {
			if co.logger != nil {
				co.logger.Warnf("cutover: lock window exceeded %s, releasing locks and retrying", co.lockCap)
			}
			return false, nil
		}
		return false, err
	}
	if !converged {
		if err := lock.Close(); err != nil {
			return false, err
		}
		if co.logger != nil {
			co.logger.Warn("cutover: final replay hit its iteration cap, releasing locks and retrying")
		}
		return false, nil
	}

	renameStmt := fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
		co.source.QuotedName(), co.oldTableSQL, co.shadow.QuotedName(), co.source.QuotedName())
	if err := lock.ExecUnderLock(lockCtx, renameStmt); err != nil {
		_ = lock.Close()
		return false, ocerr.Wrap(ocerr.KindFatalDB, err, "rename under lock failed")
	}
	if err := lock.Close(); err != nil {
		return false, err
	}
	return true, nil
}
