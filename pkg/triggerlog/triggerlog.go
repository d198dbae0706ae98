// Package triggerlog is the Change Capture Log component (spec.md §4.4): a
// delta table plus three AFTER triggers on the source table that record
// every insert/update/delete committed during a copy.
package triggerlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/ocerr"
	"github.com/opsql/osc/pkg/table"
)

// ChangeType is the chg_type column of the delta table (spec.md §3).
type ChangeType int

const (
	ChangeInsert    ChangeType = 1
	ChangeUpdateNew ChangeType = 2
	ChangeDelete    ChangeType = 3
)

// Names holds the session-scoped identifiers for one log instance
// (spec.md §3: `_T_chg`, `_T_chg_ins`, `_T_chg_upd`, `_T_chg_del`).
type Names struct {
	DeltaTable string
	TrigIns    string
	TrigUpd    string
	TrigDel    string
}

// Log owns the delta table and its three triggers against one source table.
type Log struct {
	db      *sql.DB
	cfg     *dbconn.Config
	src     *table.TableInfo
	names   Names
	lastAck int64
}

// New returns a Log that has not yet been installed.
func New(db *sql.DB, cfg *dbconn.Config, src *table.TableInfo, names Names) *Log {
	return &Log{db: db, cfg: cfg, src: src, names: names}
}

// Install creates the delta table and the three triggers through one
// RetryableTransaction call. MySQL commits each CREATE TABLE and CREATE
// TRIGGER implicitly, so a failure part-way does not roll back the objects
// already created; they stay until Uninstall (run by cleanup) drops them.
func (l *Log) Install(ctx context.Context) error {
	keyCols := l.src.KeyColumns
	var colDefs string
	for _, c := range keyCols {
		colDefs += fmt.Sprintf(", %s_new %s, %s_old %s", c, "VARBINARY(767)", c, "VARBINARY(767)")
	}
	createDelta := fmt.Sprintf(`CREATE TABLE %s (
		chg_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		chg_type TINYINT NOT NULL%s,
		chg_ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB`, table.QuoteIdentifier(l.names.DeltaTable), colDefs)

	insCols, insNewVals := l.triggerColumns("NEW")
	delCols, delOldVals := l.triggerColumns("OLD")
	updCols, updVals := l.triggerColumns("NEW")

	createIns := fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s FOR EACH ROW INSERT INTO %s (chg_type%s) VALUES (%d%s)",
		table.QuoteIdentifier(l.names.TrigIns), l.src.QuotedName(), table.QuoteIdentifier(l.names.DeltaTable), insCols, ChangeInsert, insNewVals)
	createUpd := fmt.Sprintf(
		"CREATE TRIGGER %s AFTER UPDATE ON %s FOR EACH ROW BEGIN IF %s THEN INSERT INTO %s (chg_type%s) VALUES (%d%s); END IF; INSERT INTO %s (chg_type%s) VALUES (%d%s); END",
		table.QuoteIdentifier(l.names.TrigUpd), l.src.QuotedName(), l.keyChangedPredicate(),
		table.QuoteIdentifier(l.names.DeltaTable), delCols, ChangeDelete, delOldVals,
		table.QuoteIdentifier(l.names.DeltaTable), updCols, ChangeUpdateNew, updVals)
	createDel := fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s FOR EACH ROW INSERT INTO %s (chg_type%s) VALUES (%d%s)",
		table.QuoteIdentifier(l.names.TrigDel), l.src.QuotedName(), table.QuoteIdentifier(l.names.DeltaTable), delCols, ChangeDelete, delOldVals)

	if _, err := dbconn.RetryableTransaction(ctx, l.db, l.cfg, createDelta, createIns, createUpd, createDel); err != nil {
		return ocerr.Wrap(ocerr.KindFatalDB, err, "failed to install change-capture log")
	}
	return nil
}

// keyChangedPredicate renders "NEW.a <> OLD.a OR NEW.b <> OLD.b ..." over
// the table's key columns, used by the UPDATE trigger to detect a
// primary-key-changing update (spec.md §3: such an update is encoded as a
// delete of the old key plus an insert of the new one, since a plain
// chg_type=2/new-key-only row would leave the stale old-key row behind in
// the shadow table).
func (l *Log) keyChangedPredicate() string {
	var preds []string
	for _, c := range l.src.KeyColumns {
		q := table.QuoteIdentifier(c)
		preds = append(preds, fmt.Sprintf("NEW.%s <> OLD.%s", q, q))
	}
	return strings.Join(preds, " OR ")
}

// triggerColumns renders the `_new`/`_old` column list and VALUES fragment
// for one trigger body, referencing the key columns off the given row alias
// (NEW or OLD).
func (l *Log) triggerColumns(alias string) (cols string, vals string) {
	suffix := "_new"
	if alias == "OLD" {
		suffix = "_old"
	}
	for _, c := range l.src.KeyColumns {
		cols += fmt.Sprintf(", %s%s", c, suffix)
		vals += fmt.Sprintf(", %s.%s", alias, table.QuoteIdentifier(c))
	}
	return cols, vals
}

// Uninstall drops the triggers and the delta table, tolerating any of them
// already being gone (cleanup must be idempotent, spec.md P3).
func (l *Log) Uninstall(ctx context.Context) error {
	stmts := []string{
		"DROP TRIGGER IF EXISTS " + table.QuoteIdentifier(l.names.TrigIns),
		"DROP TRIGGER IF EXISTS " + table.QuoteIdentifier(l.names.TrigUpd),
		"DROP TRIGGER IF EXISTS " + table.QuoteIdentifier(l.names.TrigDel),
		"DROP TABLE IF EXISTS " + table.QuoteIdentifier(l.names.DeltaTable),
	}
	if _, err := dbconn.RetryableTransaction(ctx, l.db, l.cfg, stmts...); err != nil {
		return ocerr.Wrap(ocerr.KindCleanup, err, "failed to uninstall change-capture log")
	}
	return nil
}

// Row is one change recorded in the delta table.
type Row struct {
	ChgID    int64
	Type     ChangeType
	KeyNew   []any // nil when Type == ChangeDelete
	KeyOld   []any // nil unless Type == ChangeDelete
}

// Poll returns up to limit rows with chg_id > after, ordered by chg_id
// (spec.md §4.6: "Streams _T_chg ordered by chg_id, in batches of B rows").
func (l *Log) Poll(ctx context.Context, after int64, limit int) ([]Row, error) {
	keyCols := l.src.KeyColumns
	var selCols string
	for _, c := range keyCols {
		selCols += fmt.Sprintf(", %s_new, %s_old", c, c)
	}
	query := fmt.Sprintf("SELECT chg_id, chg_type%s FROM %s WHERE chg_id > ? ORDER BY chg_id LIMIT ?",
		selCols, table.QuoteIdentifier(l.names.DeltaTable))
	rows, err := l.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, ocerr.Wrap(ocerr.KindTransientDB, err, "failed to poll change-capture log")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var chgID int64
		var chgType ChangeType
		scanTargets := make([]any, 2+2*len(keyCols))
		newVals := make([]sql.NullString, len(keyCols))
		oldVals := make([]sql.NullString, len(keyCols))
		scanTargets[0] = &chgID
		scanTargets[1] = &chgType
		for i := range keyCols {
			scanTargets[2+2*i] = &newVals[i]
			scanTargets[2+2*i+1] = &oldVals[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, ocerr.Wrap(ocerr.KindTransientDB, err, "failed to scan change-capture row")
		}
		r := Row{ChgID: chgID, Type: chgType}
		if chgType == ChangeDelete {
			r.KeyOld = nullStringsToAny(oldVals)
		} else {
			r.KeyNew = nullStringsToAny(newVals)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStringsToAny(v []sql.NullString) []any {
	out := make([]any, len(v))
	for i, s := range v {
		if s.Valid {
			out[i] = s.String
		}
	}
	return out
}

// Ack advances the high-water mark to upTo and deletes every consumed row,
// preserving invariant I4 (H is monotonic; no row with chg_id <= H is
// reapplied).
func (l *Log) Ack(ctx context.Context, upTo int64) error {
	if upTo <= l.lastAck {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE chg_id <= ?", table.QuoteIdentifier(l.names.DeltaTable))
	if _, err := l.db.ExecContext(ctx, stmt, upTo); err != nil {
		return ocerr.Wrap(ocerr.KindTransientDB, err, "failed to ack change-capture log")
	}
	l.lastAck = upTo
	return nil
}

// Depth returns the number of unconsumed rows, used by the controller to
// decide convergence (spec.md §4.6).
func (l *Log) Depth(ctx context.Context) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + table.QuoteIdentifier(l.names.DeltaTable)
	if err := l.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, ocerr.Wrap(ocerr.KindTransientDB, err, "failed to measure change-capture depth")
	}
	return n, nil
}
