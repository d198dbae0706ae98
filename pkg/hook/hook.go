// Package hook is the Hook Runner component (spec.md §6): named callback
// points consumed by an external test harness, each resolving to a file
// shelled out against the same MySQL instance.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/opsql/osc/pkg/ocerr"
)

// Point is a closed set of hook points (spec.md §9: "Dynamic dispatch in
// the source [...] maps to a tagged variant with a closed set of hook
// points").
type Point int

const (
	BeforeInitConnection Point = iota
	AfterRunDDL
	AfterSelectChunkIntoOutfile
	BeforeCleanup
	AfterCleanup
)

func (p Point) String() string {
	switch p {
	case BeforeInitConnection:
		return "before_init_connection"
	case AfterRunDDL:
		return "after_run_ddl"
	case AfterSelectChunkIntoOutfile:
		return "after_select_chunk_into_outfile"
	case BeforeCleanup:
		return "before_cleanup"
	case AfterCleanup:
		return "after_cleanup"
	}
	return "unknown"
}

// Paths maps each hook point to a file path; a point absent from the map
// has no hook registered and Run is a no-op for it.
type Paths map[Point]string

// Runner shells out to registered hook files, passing connection
// parameters as environment variables so the hook script can connect to
// the same instance.
type Runner struct {
	paths  Paths
	env    []string
	logger *logrus.Logger
}

// New returns a Runner. env is appended to every hook's process
// environment (e.g. OSC_HOST, OSC_SOCKET, OSC_DATABASE, OSC_TABLE).
func New(paths Paths, env []string, logger *logrus.Logger) *Runner {
	return &Runner{paths: paths, env: env, logger: logger}
}

// Run executes the hook registered at point, if any. A hook failure is not
// recoverable (spec.md §6: "Failure in a hook is not recoverable"), so it
// is always returned as an IOError for the controller to treat like any
// other fatal setup failure.
func (r *Runner) Run(ctx context.Context, point Point) error {
	path, ok := r.paths[point]
	if !ok || path == "" {
		return nil
	}
	if r.logger != nil {
		r.logger.Infof("running hook %s: %s", point, path)
	}
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(os.Environ(), r.env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ocerr.Wrap(ocerr.KindIO, err, fmt.Sprintf("hook %s failed: %s", point, string(out)))
	}
	return nil
}
