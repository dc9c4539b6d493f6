//go:build !linux

package sandbox

import (
	"fmt"
	"runtime"
)

// newPlatform has no standard-mode implementation outside Linux: no other
// target OS exposes the namespace/cgroup/seccomp primitives this package
// builds on. Callers fall through to reduced mode.
func newPlatform(cfg Config) (Sandbox, error) {
	return nil, fmt.Errorf("sandbox: standard mode not implemented on %s", runtime.GOOS)
}
