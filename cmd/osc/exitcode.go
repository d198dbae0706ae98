package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/opsql/osc/pkg/ocerr"
)

// exitCodeFor maps a run's terminal error onto spec.md §6's four process
// exit codes: 0 success, 1 validation/parse error, 2 runtime error, 3
// cleanup-needed (the run failed AND the automatic cleanup attempt also
// failed, so a later `osc cleanup` is required).
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "osc: "+err.Error())

	var oe *ocerr.Error
	if !errors.As(err, &oe) {
		return 2
	}
	switch oe.Kind {
	case ocerr.KindParse, ocerr.KindValidation:
		return 1
	case ocerr.KindCleanup:
		return 3
	default:
		return 2
	}
}
