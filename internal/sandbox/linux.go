//go:build linux

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/runcage/runcage/internal/model"
)

// linuxSandbox is the standard-mode builder of spec §4.2: a dedicated user,
// mount, PID, IPC, UTS, and (unless networking is requested) network
// namespace per execution, a cgroup v2 sub-tree enforcing memory/PID/CPU
// limits, and a seccomp allow-list installed by the re-exec'd child before
// it execs the target command.
type linuxSandbox struct {
	cfg     Config
	rootDir string
	cg      *cgroupManager
	errPipe *os.File // read end, kept open until Destroy for late diagnostics

	// parent-side copies of the fds duplicated into the child; closed in
	// PostStart once the child holds its own copies, so EOF on errPipe
	// reliably signals the child exited without reporting a pre-exec error.
	specReadClose *os.File
	errWriteClose *os.File
}

// newPlatform builds a linuxSandbox, refusing (by returning an error, which
// New uses to decide whether reduced mode is acceptable) if this process
// cannot create user namespaces at all.
func newPlatform(cfg Config) (Sandbox, error) {
	if err := checkNamespaceCapability(); err != nil {
		return nil, err
	}

	rootDir, err := os.MkdirTemp("", "runcage-root-"+cfg.ExecutionID+"-")
	if err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	if err := os.Chmod(rootDir, 0o700); err != nil {
		os.RemoveAll(rootDir)
		return nil, fmt.Errorf("chmod sandbox root: %w", err)
	}

	weight := cpuSharesToWeight(cfg.CPUShares)
	cg, err := newCgroupManager(cfg.ExecutionID, uint64(cfg.MemoryBytes), uint32(cfg.MaxPids), weight)
	if err != nil {
		os.RemoveAll(rootDir)
		return nil, fmt.Errorf("create cgroup: %w", err)
	}

	return &linuxSandbox{cfg: cfg, rootDir: rootDir, cg: cg}, nil
}

func (s *linuxSandbox) Exec(ctx context.Context, req model.ValidatedRequest) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve self executable: %w", err)
	}

	spec := childSpec{
		Command:          s.cfg.Command,
		Env:              s.cfg.Environment,
		WorkingDirectory: s.cfg.WorkingDirectory,
		RootDir:          s.rootDir,
		ReadonlyPaths:    s.cfg.ReadonlyPaths,
		WritablePaths:    s.cfg.WritablePaths,
		BindMounts:       s.cfg.BindMounts,
		DisableSeccomp:   s.cfg.DisableSeccomp,
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal child spec: %w", err)
	}

	specRead, specWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create spec pipe: %w", err)
	}
	errRead, errWrite, err := os.Pipe()
	if err != nil {
		specRead.Close()
		specWrite.Close()
		return nil, fmt.Errorf("create error pipe: %w", err)
	}
	s.errPipe = errRead
	s.specReadClose = specRead
	s.errWriteClose = errWrite

	cmd := exec.CommandContext(ctx, self, childInitArg)
	cmd.ExtraFiles = []*os.File{specRead, errWrite}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:                 s.cloneFlags(),
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}},
		GidMappingsEnableSetgroups: false,
		Pdeathsig:                  syscall.SIGKILL,
	}

	go func() {
		defer specWrite.Close()
		specWrite.Write(payload)
	}()

	return cmd, nil
}

// cloneFlags derives Cloneflags from the request's isolation settings. The
// network namespace is only added when the request denies networking —
// spec §3 leaves a sandboxed command's network namespace shared with the
// host when isolation.network is true, matching the teacher's levels-based
// CLONE_NEWNET toggle.
func (s *linuxSandbox) cloneFlags() uintptr {
	flags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS | syscall.CLONE_NEWUSER)
	if !s.cfg.Network {
		flags |= syscall.CLONE_NEWNET
	}
	return flags
}

func (s *linuxSandbox) PostStart(pid int) error {
	if s.specReadClose != nil {
		s.specReadClose.Close()
	}
	if s.errWriteClose != nil {
		s.errWriteClose.Close()
	}
	if s.cg == nil {
		// No cgroup v2 (see newCgroupManager): apply reduced mode's rlimits.
		return applyRlimits(pid, s.cfg)
	}
	if err := s.cg.AddPID(pid); err != nil {
		return fmt.Errorf("attach pid to cgroup: %w", err)
	}
	return nil
}

func (s *linuxSandbox) Stats() (Stats, bool) {
	if s.cg == nil {
		return Stats{}, false
	}
	st, err := s.cg.Stats()
	if err != nil {
		return Stats{}, false
	}
	return st, true
}

func (s *linuxSandbox) Kill() error {
	if s.cg != nil {
		if err := s.cg.Kill(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("sandbox: no cgroup-wide kill available")
}

func (s *linuxSandbox) Destroy() error {
	var firstErr error
	if s.cg != nil {
		if err := s.cg.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.errPipe != nil {
		s.errPipe.Close()
	}
	if err := os.RemoveAll(s.rootDir); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *linuxSandbox) Enforcement() Enforcement {
	return Enforcement{Reduced: false, Platform: "linux"}
}

// PreExecError drains the error pipe for a message ChildInit reported
// before exec — a non-empty result means the command never actually ran,
// and the executor should report an E2xxx security-setup failure instead
// of treating the child's exit status as the command's own.
func (s *linuxSandbox) PreExecError() string {
	if s.errPipe == nil {
		return ""
	}
	buf := make([]byte, 4096)
	n, _ := s.errPipe.Read(buf)
	return string(buf[:n])
}

// checkNamespaceCapability probes whether this process can create user
// namespaces, the foundation every other namespace type is mapped through.
// Root always can; an unprivileged process can only if the kernel's
// unprivileged_userns_clone knob (or its absence, on kernels too old to
// have it) allows it, confirmed by actually spawning a namespaced no-op.
func checkNamespaceCapability() error {
	if os.Geteuid() == 0 {
		return nil
	}
	if data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		if len(data) > 0 && data[0] == '0' {
			return fmt.Errorf("unprivileged user namespaces disabled (unprivileged_userns_clone=0)")
		}
	}
	return probeUserNamespace()
}

func probeUserNamespace() error {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		},
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("user namespace probe failed: %w", err)
	}
	return nil
}

// cpuSharesToWeight maps the cgroup v1 cpu_shares scale (2-262144, default
// 1024) the request model uses onto cgroup v2's cpu.weight scale
// (1-10000), resolving the Open Question in spec §9: weight =
// round(shares * 10000 / 1024), clamped to [1, 10000].
func cpuSharesToWeight(shares int64) uint64 {
	if shares <= 0 {
		return 100 // cgroup v2 default weight
	}
	w := (shares*10000 + 512) / 1024
	if w < 1 {
		w = 1
	}
	if w > 10000 {
		w = 10000
	}
	return uint64(w)
}
