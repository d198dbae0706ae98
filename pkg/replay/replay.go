// Package replay is the Replayer component (spec.md §4.6): it consumes the
// change-capture log in chg_id order and applies it to the shadow table,
// converging toward the source tail.
package replay

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/ocerr"
	"github.com/opsql/osc/pkg/table"
	"github.com/opsql/osc/pkg/triggerlog"
)

// DefaultBatchSize is B in spec.md §4.6 ("batches of B rows (default 500)").
const DefaultBatchSize = 500

// Options tunes catch-up convergence thresholds (spec.md §4.6/§4.7).
type Options struct {
	BatchSize        int
	MaxReplayLag     int64
	MaxReplayTime    time.Duration
	FinalReplayLimit int
	MaxIterations    int // cap on the cutover's bounded final-replay loop
}

// Replayer applies _T_chg rows to target in chg_id order.
type Replayer struct {
	cfg    *dbconn.Config
	log    *triggerlog.Log
	source *table.TableInfo
	target *table.TableInfo
	opts   Options
	logger *logrus.Logger

	H int64 // high-water mark
}

// New returns a Replayer with H starting at 0 (before any chg_id).
func New(log *triggerlog.Log, source, target *table.TableInfo, cfg *dbconn.Config, opts Options, logger *logrus.Logger) *Replayer {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Replayer{cfg: cfg, log: log, source: source, target: target, opts: opts, logger: logger}
}

// applyBatch pulls up to opts.BatchSize rows after H from the change log,
// builds one REPLACE and one DELETE statement (merging keys the way
// teacher's repl.subscription.flushDeltaMap batches its deletes and
// replaces), and runs them through execFn — either a retryable transaction
// on the normal pool, or the cutover's lock-holding connection.
func (r *Replayer) applyBatch(ctx context.Context, execFn func(ctx context.Context, stmts ...string) error) (int, error) {
	rows, err := r.log.Poll(ctx, r.H, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var deleteKeys [][]any
	var upsertKeys [][]any
	for _, row := range rows {
		switch row.Type {
		case triggerlog.ChangeDelete:
			deleteKeys = append(deleteKeys, row.KeyOld)
		default:
			upsertKeys = append(upsertKeys, row.KeyNew)
		}
	}

	var stmts []string
	if len(deleteKeys) > 0 {
		stmts = append(stmts, r.deleteStmt(deleteKeys))
	}
	if len(upsertKeys) > 0 {
		stmts = append(stmts, r.replaceStmt(upsertKeys))
	}
	if err := execFn(ctx, stmts...); err != nil {
		return 0, ocerr.Wrap(ocerr.KindTransientDB, err, "failed to apply replay batch")
	}

	last := rows[len(rows)-1].ChgID
	if err := r.log.Ack(ctx, last); err != nil {
		return 0, err
	}
	r.H = last
	return len(rows), nil
}

// deleteStmt mirrors teacher's subscription.createDeleteStmt: a single
// DELETE keyed by a row-value-constructor IN-list over the primary key.
func (r *Replayer) deleteStmt(keys [][]any) string {
	return fmt.Sprintf("DELETE FROM %s WHERE (%s) IN (%s)",
		r.target.QuotedName(), table.QuoteColumns(r.source.KeyColumns), rowValueList(keys))
}

// replaceStmt mirrors teacher's subscription.createReplaceStmt: re-read the
// current row from the source rather than trusting the logged values, so
// an insert-then-update collapses to the row's latest state (spec.md §4.6:
// "If the source row no longer exists, the change is treated as a delete").
func (r *Replayer) replaceStmt(keys [][]any) string {
	projection := table.IntersectNonGeneratedColumns(r.source, r.target)
	return fmt.Sprintf("REPLACE INTO %s (%s) SELECT %s FROM %s WHERE (%s) IN (%s)",
		r.target.QuotedName(), projection, projection, r.source.QuotedName(),
		table.QuoteColumns(r.source.KeyColumns), rowValueList(keys))
}

// execInOrder runs the batch's statements (at most one DELETE, then one
// REPLACE) one after another when not serialized under the cutover lock,
// each in its own retryable transaction. The order matters: a key deleted
// and re-inserted within one batch appears in both statements, and the
// REPLACE must land after the DELETE or the row would be lost.
func (r *Replayer) execInOrder(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := dbconn.RetryableTransaction(ctx, db, r.cfg, s); err != nil {
			return err
		}
	}
	return nil
}

func rowValueList(keys [][]any) string {
	tuples := make([]string, len(keys))
	for i, k := range keys {
		vals := make([]string, len(k))
		for j, v := range k {
			vals[j] = formatKeyValue(v)
		}
		if len(vals) == 1 {
			tuples[i] = vals[0]
		} else {
			tuples[i] = "(" + strings.Join(vals, ",") + ")"
		}
	}
	return strings.Join(tuples, ",")
}

func formatKeyValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CatchUp runs batches against db until the delta table's depth is within
// MaxReplayLag or MaxReplayTime elapses — the catch-up phase of spec.md
// §4.6.
func (r *Replayer) CatchUp(ctx context.Context, db *sql.DB) error {
	deadline := time.Now().Add(r.opts.MaxReplayTime)
	for {
		if r.opts.MaxReplayTime > 0 && time.Now().After(deadline) {
			return nil
		}
		depth, err := r.log.Depth(ctx)
		if err != nil {
			return err
		}
		if depth <= r.opts.MaxReplayLag {
			return nil
		}
		n, err := r.applyBatch(ctx, func(ctx context.Context, stmts ...string) error {
			return r.execInOrder(ctx, db, stmts)
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// FinalReplay drains the log down to empty (or FinalReplayLimit rows left),
// executing every batch on the cutover's lock-holding connection so it is
// serialized with the rename (spec.md §4.7). It returns false if the
// bounded iteration cap was hit before the log drained, signalling the
// controller to release locks and return to REPLAY_CATCHUP.
func (r *Replayer) FinalReplay(ctx context.Context, lock *dbconn.TableLock) (converged bool, err error) {
	maxIter := r.opts.MaxIterations
	if maxIter == 0 {
		maxIter = 1000
	}
	for i := 0; i < maxIter; i++ {
		depth, err := r.log.Depth(ctx)
		if err != nil {
			return false, err
		}
		if int(depth) <= r.opts.FinalReplayLimit {
			return true, nil
		}
		n, err := r.applyBatch(ctx, lock.ExecUnderLock)
		if err != nil {
			return false, err
		}
		if n == 0 {
			return true, nil
		}
	}
	return false, nil
}
