//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/runcage/runcage/internal/enginelog"
)

// cgroupManager manages a cgroups v2 sub-cgroup scoped to one execution.
// It enforces memory.max (+ memory.swap.max pinned to 0, so the kernel OOM
// killer fires instead of silently swapping), pids.max, and cpu.weight —
// real, kernel-enforced limits that prlimit's RLIMIT_AS/RLIMIT_NPROC only
// approximate (RLIMIT_AS caps one process's address space, not a process
// tree's RSS; RLIMIT_NPROC is per-uid, not per-tree).
type cgroupManager struct {
	path string
}

// newCgroupManager creates a cgroup v2 sub-cgroup with the given limits.
// Returns (nil, nil) if cgroups v2 is unavailable — the caller is expected
// to have already decided standard mode is viable via checkNamespaceCapability;
// a missing cgroup controller at that point degrades only resource
// enforcement, not namespace isolation, so it is logged, not fatal.
func newCgroupManager(executionID string, memLimit uint64, pidLimit uint32, cpuWeight uint64) (*cgroupManager, error) {
	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err != nil {
		enginelog.Log.Warn("cgroups v2 not available, resource limits reduced to rlimits", "execution_id", executionID)
		return nil, nil
	}

	ownPath, err := readOwnCgroup()
	if err != nil {
		enginelog.Log.Warn("cannot read own cgroup, resource limits reduced to rlimits", "execution_id", executionID, "error", err)
		return nil, nil
	}

	parentPath := filepath.Join("/sys/fs/cgroup", ownPath)
	cgroupPath := filepath.Join(parentPath, "runcage-"+executionID)

	if err := os.MkdirAll(cgroupPath, 0o755); err != nil {
		return nil, fmt.Errorf("create cgroup %s: %w", cgroupPath, err)
	}

	controllers := []string{"+memory", "+pids", "+cpu"}
	if err := enableControllers(parentPath, controllers); err != nil {
		os.Remove(cgroupPath)
		return nil, fmt.Errorf("enable controllers: %w", err)
	}

	c := &cgroupManager{path: cgroupPath}

	if memLimit > 0 {
		if err := c.write("memory.max", strconv.FormatUint(memLimit, 10)); err != nil {
			os.Remove(cgroupPath)
			return nil, fmt.Errorf("set memory.max: %w", err)
		}
		// Deny swap outright: swapping under memory pressure would make
		// wall-clock timing and the OOM signal both unreliable.
		if err := c.write("memory.swap.max", "0"); err != nil {
			enginelog.Log.Warn("cannot disable swap for cgroup", "execution_id", executionID, "error", err)
		}
	}
	if pidLimit > 0 {
		if err := c.write("pids.max", strconv.FormatUint(uint64(pidLimit), 10)); err != nil {
			os.Remove(cgroupPath)
			return nil, fmt.Errorf("set pids.max: %w", err)
		}
	}
	if err := c.write("cpu.weight", strconv.FormatUint(cpuWeight, 10)); err != nil {
		enginelog.Log.Warn("cannot set cpu.weight", "execution_id", executionID, "error", err)
	}

	return c, nil
}

func (c *cgroupManager) write(file, value string) error {
	return os.WriteFile(filepath.Join(c.path, file), []byte(value), 0o644)
}

func (c *cgroupManager) read(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.path, file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// AddPID moves a process into this cgroup.
func (c *cgroupManager) AddPID(pid int) error {
	if c == nil {
		return nil
	}
	return c.write("cgroup.procs", strconv.Itoa(pid))
}

// Stats reads the current resource-usage snapshot from the cgroup's
// accounting files (spec §4.5's cgroup-backed sampling path).
func (c *cgroupManager) Stats() (Stats, error) {
	if c == nil {
		return Stats{}, fmt.Errorf("no cgroup")
	}
	var st Stats
	if v, err := c.readInt("memory.current"); err == nil {
		st.MemoryCurrentBytes = v
	}
	if v, err := c.readInt("memory.peak"); err == nil {
		st.MemoryPeakBytes = v
	}
	if v, err := c.readInt("pids.current"); err == nil {
		st.PidsCurrent = v
	}
	if n, err := c.oomKillCount(); err == nil {
		st.OOMKills = n
	}
	return st, nil
}

func (c *cgroupManager) readInt(file string) (int64, error) {
	s, err := c.read(file)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// oomKillCount parses the oom_kill counter out of memory.events. A
// transition from 0 to non-zero is how the Resource Monitor detects that
// the cgroup's OOM killer fired (spec §4.5 "OOM detection"), distinct from
// a plain SIGKILL the sandboxed command sent itself.
func (c *cgroupManager) oomKillCount() (int64, error) {
	data, err := c.read("memory.events")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, nil
}

// Kill terminates every process in the cgroup in one step via cgroup.kill,
// avoiding the race of iterating cgroup.procs and signaling PIDs one at a
// time while new children are still forking (spec §9 design note).
func (c *cgroupManager) Kill() error {
	if c == nil {
		return fmt.Errorf("no cgroup")
	}
	if err := c.write("cgroup.kill", "1"); err != nil {
		return fmt.Errorf("cgroup.kill: %w", err)
	}
	return nil
}

// Destroy removes the cgroup. All processes must have exited first, which
// the executor guarantees by reaping the child before calling Destroy.
func (c *cgroupManager) Destroy() error {
	if c == nil {
		return nil
	}
	return os.Remove(c.path)
}

// parseCgroupV2Path extracts the cgroup v2 path from /proc/self/cgroup
// content. v2 entries have the format "0::<path>".
func parseCgroupV2Path(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "0::") {
			return line[3:], nil
		}
	}
	return "", fmt.Errorf("no cgroup v2 entry found")
}

func readOwnCgroup() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", fmt.Errorf("read /proc/self/cgroup: %w", err)
	}
	return parseCgroupV2Path(string(data))
}

// enableControllers writes to cgroup.subtree_control to enable controllers.
// Handles EBUSY: if the parent has direct member processes, moves our
// process to a "runcage-daemon" leaf cgroup first (cgroups v2's "no
// internal processes" rule forbids controllers in subtree_control on a
// cgroup that directly contains processes), then retries.
func enableControllers(parentPath string, controllers []string) error {
	if len(controllers) == 0 {
		return nil
	}
	payload := strings.Join(controllers, " ")
	controlPath := filepath.Join(parentPath, "cgroup.subtree_control")

	err := os.WriteFile(controlPath, []byte(payload), 0o644)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "device or resource busy") {
		return err
	}

	daemonPath := filepath.Join(parentPath, "runcage-daemon")
	if err := os.MkdirAll(daemonPath, 0o755); err != nil {
		return fmt.Errorf("create runcage-daemon cgroup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(daemonPath, "cgroup.procs"), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("move self to runcage-daemon: %w", err)
	}

	return os.WriteFile(controlPath, []byte(payload), 0o644)
}
