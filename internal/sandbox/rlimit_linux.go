//go:build linux

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyRlimitAttr ensures cmd has a SysProcAttr to extend; standard mode's
// linux.go sets Cloneflags on the same struct, so this only allocates it
// when fallback mode runs alone.
func applyRlimitAttr(cmd *exec.Cmd, cfg Config) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
}

// applyRlimits applies the reduced mode's per-process caps via prlimit(2),
// the only enforcement fallback mode can offer (spec §4.3).
func applyRlimits(pid int, cfg Config) error {
	for _, lim := range rlimitsFor(cfg) {
		rlim := unix.Rlimit{Cur: lim.value, Max: lim.value}
		if err := unix.Prlimit(pid, lim.resource, &rlim, nil); err != nil {
			return err
		}
	}
	return nil
}

type rlimitPair struct {
	resource int
	value    uint64
}

// rlimitsFor derives the rlimit set from the resolved config. MemoryBytes
// maps to RLIMIT_AS with a floor generous enough not to starve interpreter
// or JIT startup allocations; CPUShares has no rlimit analogue and is left
// to the cgroup cpu.weight controller in standard mode, so fallback mode
// does not attempt to approximate it.
func rlimitsFor(cfg Config) []rlimitPair {
	var out []rlimitPair
	if cfg.MemoryBytes > 0 {
		v := uint64(cfg.MemoryBytes)
		const floor = 4 << 30 // 4GiB floor
		if v < floor {
			v = floor
		}
		out = append(out, rlimitPair{unix.RLIMIT_AS, v})
	}
	if cfg.MaxPids > 0 {
		out = append(out, rlimitPair{unix.RLIMIT_NPROC, uint64(cfg.MaxPids)})
	}
	out = append(out, rlimitPair{unix.RLIMIT_NOFILE, 1024})
	return out
}
