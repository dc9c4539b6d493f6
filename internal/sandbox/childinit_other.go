//go:build !linux

package sandbox

import (
	"fmt"
	"os"
)

// ChildInit has no non-Linux implementation: standard mode, the only mode
// that re-execs into this entry point, is Linux-only (see platform_other.go).
func ChildInit() {
	fmt.Fprintln(os.Stderr, "runcage: sandbox init invoked on a platform without standard-mode support")
	os.Exit(1)
}
