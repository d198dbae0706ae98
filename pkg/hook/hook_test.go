package hook

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointString(t *testing.T) {
	assert.Equal(t, "before_init_connection", BeforeInitConnection.String())
	assert.Equal(t, "after_run_ddl", AfterRunDDL.String())
	assert.Equal(t, "after_select_chunk_into_outfile", AfterSelectChunkIntoOutfile.String())
	assert.Equal(t, "before_cleanup", BeforeCleanup.String())
	assert.Equal(t, "after_cleanup", AfterCleanup.String())
	assert.Equal(t, "unknown", Point(99).String())
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hook scripts are POSIX shell only")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))
	return path
}

func TestRunMissingHookIsNoOp(t *testing.T) {
	r := New(Paths{}, nil, nil)
	assert.NoError(t, r.Run(context.Background(), BeforeInitConnection))
}

func TestRunExecutesRegisteredHook(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := writeScript(t, dir, "hook.sh", "touch "+marker+"\n")

	r := New(Paths{AfterRunDDL: script}, nil, nil)
	require.NoError(t, r.Run(context.Background(), AfterRunDDL))

	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

func TestRunPassesEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	script := writeScript(t, dir, "hook.sh", "echo \"$OSC_TABLE\" > "+out+"\n")

	r := New(Paths{AfterRunDDL: script}, []string{"OSC_TABLE=orders"}, nil)
	require.NoError(t, r.Run(context.Background(), AfterRunDDL))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "orders\n", string(got))
}

func TestRunPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hook.sh", "exit 1\n")

	r := New(Paths{BeforeCleanup: script}, nil, nil)
	err := r.Run(context.Background(), BeforeCleanup)
	require.Error(t, err)
}
