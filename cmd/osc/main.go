// Command osc is the command-line surface of the copy engine (spec.md §6):
// out of scope for the core state machine itself, but the thing that turns
// flags into a controller.Config and a process exit code.
package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	Copy    CopyCmd    `cmd:"" help:"Copy a table into a new schema with triggers and cut over."`
	Direct  DirectCmd  `cmd:"" help:"Execute a native DDL statement directly, no shadow table."`
	Cleanup CleanupCmd `cmd:"" help:"Remove artifacts left behind by an interrupted osc copy run."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("osc"),
		kong.Description("Online schema change tool: copy, direct DDL, or cleanup."),
	)
	err := ctx.Run()
	ctx.Exit(exitCodeFor(err))
}
