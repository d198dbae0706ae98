package controller

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opsql/osc/pkg/ocerr"
)

// stateFile is the durable, crash-recoverable record spec.md §3/§6 calls
// the cleanup-state file: everything a later `cleanup` invocation needs to
// find and remove every artifact of an interrupted run. It is written
// before the first state-mutating DDL and deleted as the last cleanup step
// (spec.md invariant: "created at first mutation of server state and
// deleted only after all artifacts are gone").
type stateFile struct {
	SchemaName  string
	SourceTable string
	ShadowTable string
	DeltaTable  string
	OldTable    string
	OutfileDir  string
	TrigIns     string
	TrigUpd     string
	TrigDel     string
	PID         int
}

func statePath(tmpDir string, pid int) string {
	return filepath.Join(tmpDir, fmt.Sprintf("osc.%d.state", pid))
}

// writeStateFile durably writes sf as a line-delimited key=value record,
// using the write-to-temp-then-rename idiom so a crash mid-write never
// leaves a half-written state file behind (the same durable-write shape
// teacher's runner uses for its periodic checkpoint dumps, adapted here
// from a SQL table to a flat file since this engine's resume point is a
// file per spec.md §6, not a checkpoint table).
func writeStateFile(path string, sf stateFile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "schema_name=%s\n", sf.SchemaName)
	fmt.Fprintf(&b, "source_table=%s\n", sf.SourceTable)
	fmt.Fprintf(&b, "shadow_table=%s\n", sf.ShadowTable)
	fmt.Fprintf(&b, "delta_table=%s\n", sf.DeltaTable)
	fmt.Fprintf(&b, "old_table=%s\n", sf.OldTable)
	fmt.Fprintf(&b, "outfile_dir=%s\n", sf.OutfileDir)
	fmt.Fprintf(&b, "trig_ins=%s\n", sf.TrigIns)
	fmt.Fprintf(&b, "trig_upd=%s\n", sf.TrigUpd)
	fmt.Fprintf(&b, "trig_del=%s\n", sf.TrigDel)
	fmt.Fprintf(&b, "pid=%d\n", sf.PID)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return ocerr.Wrap(ocerr.KindIO, err, "failed to write cleanup-state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return ocerr.Wrap(ocerr.KindIO, err, "failed to install cleanup-state file")
	}
	return nil
}

// readStateFile parses a cleanup-state file previously written by
// writeStateFile. A missing file is reported via os.IsNotExist on the
// returned error, which `cleanup` treats as the no-op case (spec.md §6:
// "cleanup (no-op if no state file)").
func readStateFile(path string) (*stateFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sf := &stateFile{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "schema_name":
			sf.SchemaName = v
		case "source_table":
			sf.SourceTable = v
		case "shadow_table":
			sf.ShadowTable = v
		case "delta_table":
			sf.DeltaTable = v
		case "old_table":
			sf.OldTable = v
		case "outfile_dir":
			sf.OutfileDir = v
		case "trig_ins":
			sf.TrigIns = v
		case "trig_upd":
			sf.TrigUpd = v
		case "trig_del":
			sf.TrigDel = v
		case "pid":
			sf.PID, _ = strconv.Atoi(v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ocerr.Wrap(ocerr.KindIO, err, "failed to read cleanup-state file")
	}
	return sf, nil
}

func removeStateFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ocerr.Wrap(ocerr.KindCleanup, err, "failed to remove cleanup-state file")
	}
	return nil
}
