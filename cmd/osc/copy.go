package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsql/osc/pkg/controller"
	"github.com/opsql/osc/pkg/hook"
)

// CopyCmd runs the full copy engine: VALIDATE through CUTOVER and CLEANUP
// (spec.md §6's `copy` invocation mode). It maps 1:1 onto controller.Config,
// one flag per recognized option.
type CopyCmd struct {
	connection `kong:"embed"`

	Table       string `help:"Table to change." required:""`
	Alter       string `arg:"" help:"Path to a file containing the desired CREATE TABLE statement."`
	CurrentDDL  string `help:"Path to a file containing the current CREATE TABLE statement; fetched via SHOW CREATE TABLE if omitted."`

	AllowNewPK          bool `help:"Permit a primary-key change (spec.md rule 2)."`
	AllowNoPK           bool `name:"unblock-table-creation-without-pk" help:"Permit tables without a primary or unique key."`
	EliminateDups       bool `help:"Use REPLACE INTO semantics to silently drop duplicate rows."`
	FailForImplicitConv bool `help:"Reject column type changes requiring an implicit conversion."`
	RmPartition         bool `help:"Drop the PARTITION BY clause from the new schema."`
	NoEngineCheck       bool `help:"Skip the storage-engine-match preflight check."`
	ForceCleanup        bool `help:"Drop a pre-existing shadow/delta table left by a prior failed run."`

	AlterClause     string `help:"ALTER TABLE clause tried as native INSTANT/INPLACE DDL before the copy engine runs at all; omit to always use the copy engine."`
	SkipFastDDL     bool   `help:"Never attempt native ALGORITHM=INSTANT/INPLACE DDL, even if --alter-clause is set."`
	AllowInplaceDDL bool   `help:"Permit ALGORITHM=INPLACE as the fast-path fallback after INSTANT (blocks binlog-based replicas while running)."`

	EnableOutfileCompression bool   `help:"Compress per-chunk outfiles with zstd before loading."`
	CompressedOutfileExt     string `default:".zst" help:"Extension for compressed outfiles."`
	ChunkSize                uint64 `default:"1000" help:"Rows per copy chunk."`
	AdditionalWhere          string `help:"Extra WHERE predicate ANDed into every chunk and replay query."`
	SkipAffectedRowsCheck    bool   `help:"Skip the outfile/infile row-count cross-check after each chunk."`
	CopyConcurrency          int    `default:"4" help:"Number of chunks copied in parallel."`

	MaxReplayLag   int64         `default:"0" help:"Chg-table rows behind before catch-up is considered converged."`
	MaxReplayTime  time.Duration `default:"30s" help:"Maximum time to spend draining the delta table per phase."`
	CutoverLockCap time.Duration `default:"30s" help:"Maximum duration of a single cutover lock attempt (spec.md P4)."`
	RunChecksum    bool          `help:"Checksum source against shadow before the cutover lock."`

	TmpDir         string `help:"Directory for outfiles and the cleanup-state file." default:"/tmp"`
	HookBeforeInit string `name:"hook-before-init-connection" help:"Path to a hook script for before_init_connection."`
	HookAfterDDL   string `name:"hook-after-run-ddl" help:"Path to a hook script for after_run_ddl."`
	HookAfterChunk string `name:"hook-after-select-chunk-into-outfile" help:"Path to a hook script for after_select_chunk_into_outfile."`
	HookBeforeDrop string `name:"hook-before-cleanup" help:"Path to a hook script for before_cleanup."`
	HookAfterDrop  string `name:"hook-after-cleanup" help:"Path to a hook script for after_cleanup."`
}

func (cmd *CopyCmd) Run() error {
	newDDL, err := os.ReadFile(cmd.Alter)
	if err != nil {
		return err
	}
	var oldDDL []byte
	if cmd.CurrentDDL != "" {
		oldDDL, err = os.ReadFile(cmd.CurrentDDL)
		if err != nil {
			return err
		}
	}

	cfg := controller.Config{
		DSN:                 cmd.connection.dsn(),
		SchemaName:          cmd.Database,
		TableName:           cmd.Table,
		OldCreateTableSQL:   string(oldDDL),
		NewCreateTableSQL:   string(newDDL),
		AllowNewPK:          cmd.AllowNewPK,
		AllowNoPK:           cmd.AllowNoPK,
		EliminateDups:       cmd.EliminateDups,
		FailForImplicitConv: cmd.FailForImplicitConv,
		RmPartition:         cmd.RmPartition,
		NoEngineCheck:       cmd.NoEngineCheck,
		ForceCleanup:        cmd.ForceCleanup,

		AlterClause:     cmd.AlterClause,
		SkipFastDDL:     cmd.SkipFastDDL,
		AllowInplaceDDL: cmd.AllowInplaceDDL,

		EnableOutfileCompression: cmd.EnableOutfileCompression,
		CompressedOutfileExt:     cmd.CompressedOutfileExt,
		ChunkSize:                cmd.ChunkSize,
		AdditionalWhere:          cmd.AdditionalWhere,
		SkipAffectedRowsCheck:    cmd.SkipAffectedRowsCheck,
		CopyConcurrency:          cmd.CopyConcurrency,

		MaxReplayLag:   cmd.MaxReplayLag,
		MaxReplayTime:  cmd.MaxReplayTime,
		CutoverLockCap: cmd.CutoverLockCap,
		RunChecksum:    cmd.RunChecksum,

		TmpDir: cmd.TmpDir,
		HookPaths: hook.Paths{
			hook.BeforeInitConnection:        cmd.HookBeforeInit,
			hook.AfterRunDDL:                 cmd.HookAfterDDL,
			hook.AfterSelectChunkIntoOutfile: cmd.HookAfterChunk,
			hook.BeforeCleanup:               cmd.HookBeforeDrop,
			hook.AfterCleanup:                cmd.HookAfterDrop,
		},
	}
	for point, path := range cfg.HookPaths {
		if path == "" {
			delete(cfg.HookPaths, point)
		}
	}

	logger := logrus.New()
	c := controller.New(cfg, logger)
	return c.Run(context.Background())
}
