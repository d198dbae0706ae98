package controller

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opsql/osc/pkg/dbconn"
	"github.com/opsql/osc/pkg/ocerr"
	"github.com/opsql/osc/pkg/table"
	"github.com/opsql/osc/pkg/triggerlog"
)

// Cleanup implements the standalone `cleanup` invocation mode of spec.md
// §6: "no-op if no state file; otherwise drop shadow/delta/triggers/old per
// recorded identifiers; if no target specified, find and kill the running
// OSC process on the instance." It is idempotent (spec.md P3): running it
// against a directory with no matching state file, or twice in a row,
// leaves the same post-state.
func Cleanup(ctx context.Context, cfg Config, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}
	cfg = cfg.withDefaults()

	paths, err := filepath.Glob(filepath.Join(cfg.TmpDir, "osc.*.state"))
	if err != nil {
		return ocerr.Wrap(ocerr.KindIO, err, "failed to scan for cleanup-state files")
	}
	if len(paths) == 0 {
		logger.Info("cleanup: no state file found, nothing to do")
		return nil
	}

	db, err := dbconn.New(cfg.DSN, dbconn.NewConfig())
	if err != nil {
		return ocerr.Wrap(ocerr.KindFatalDB, err, "failed to connect")
	}
	defer db.Close()
	dbCfg := dbconn.NewConfig()

	var firstErr error
	for _, path := range paths {
		sf, err := readStateFile(path)
		if err != nil {
			logger.Warnf("cleanup: skipping unreadable state file %s: %v", path, err)
			continue
		}
		if cfg.SchemaName != "" && sf.SchemaName != cfg.SchemaName {
			continue
		}
		if cfg.TableName != "" && sf.SourceTable != cfg.TableName {
			continue
		}
		if err := cleanupOne(ctx, db, dbCfg, logger, sf, path); err != nil {
			logger.Errorf("cleanup: failed for %s.%s: %v", sf.SchemaName, sf.SourceTable, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Infof("cleanup: removed artifacts for %s.%s", sf.SchemaName, sf.SourceTable)
	}
	return firstErr
}

// cleanupOne drops every artifact a single cleanup-state record names,
// then best-effort signals the recorded PID if it is still alive (spec.md
// §6: "find and kill the running OSC process") before deleting the state
// file as the last step (spec.md: "deleted as the last cleanup step").
func cleanupOne(ctx context.Context, db *sql.DB, dbCfg *dbconn.Config, logger *logrus.Logger, sf *stateFile, path string) error {
	killStaleProcess(sf.PID, logger)

	log := triggerlog.New(db, dbCfg, table.NewTableInfo(db, sf.SchemaName, sf.SourceTable), triggerlog.Names{
		DeltaTable: sf.DeltaTable,
		TrigIns:    sf.TrigIns,
		TrigUpd:    sf.TrigUpd,
		TrigDel:    sf.TrigDel,
	})
	if err := log.Uninstall(ctx); err != nil {
		return err
	}
	for _, name := range []string{sf.ShadowTable, sf.OldTable} {
		if name == "" {
			continue
		}
		drop := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", table.QuoteIdentifier(sf.SchemaName), table.QuoteIdentifier(name))
		if _, err := dbconn.RetryableTransaction(ctx, db, dbCfg, drop); err != nil {
			return err
		}
	}
	if sf.OutfileDir != "" {
		_ = os.RemoveAll(sf.OutfileDir)
	}
	return removeStateFile(path)
}

// killStaleProcess sends SIGTERM to pid if it still belongs to a live
// process, the "kill the running OSC process" half of spec.md §6's
// cleanup mode. A failure to signal (already exited, no permission) is
// not an error: the goal is best-effort, not a hard dependency.
func killStaleProcess(pid int, logger *logrus.Logger) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return // not running
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil && logger != nil {
		logger.Warnf("cleanup: failed to signal stale osc process %d: %v", pid, err)
	}
}
