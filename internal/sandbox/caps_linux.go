//go:build linux

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// capLastCapFallback is CAP_LAST_CAP on every kernel this engine targets (5.x+).
// There is no portable way to read it at runtime short of parsing
// /proc/sys/kernel/cap_last_cap, which dropAllCapabilities does as a
// best-effort refinement and falls back to this constant otherwise.
const capLastCapFallback = 40

// dropAllCapabilities clears the bounding set and the effective, permitted,
// and inheritable sets, leaving the process with zero capabilities. It must
// run after the final setuid/setgid (the user namespace mapping already
// placed this process at the mapped UID before exec, so there is none to
// do here) and before installSeccomp, matching the ordering in spec §4.2
// step 6.
func dropAllCapabilities() error {
	last := readCapLastCap()
	for cap := 0; cap <= last; cap++ {
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(cap), 0, 0, 0); err != nil {
			// EINVAL means the kernel doesn't know this capability number;
			// higher numbers are newer caps this build doesn't need either.
			if err == unix.EINVAL {
				break
			}
			return fmt.Errorf("capbset drop cap %d: %w", cap, err)
		}
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3, Pid: 0}
	var data [2]unix.CapUserData // two 32-bit words cover capabilities 0-63
	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capset clear: %w", err)
	}
	return nil
}

func readCapLastCap() int {
	data, err := os.ReadFile("/proc/sys/kernel/cap_last_cap")
	if err != nil {
		return capLastCapFallback
	}
	n := 0
	for _, b := range data {
		if b < '0' || b > '9' {
			break
		}
		n = n*10 + int(b-'0')
	}
	if n <= 0 {
		return capLastCapFallback
	}
	return n
}
