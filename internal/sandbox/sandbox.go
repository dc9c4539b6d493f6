// Package sandbox builds and tears down the kernel-level isolation boundary
// around one execution (spec §3 "Sandbox lifecycle", §4.2 "Sandbox Builder").
//
// A Sandbox is bound to exactly one execution_id from construction. It owns
// every kernel-visible artifact created on its behalf — namespaces, cgroup
// directories, temporary root filesystems — and Destroy unconditionally
// tears all of it down, even if construction failed partway through. A
// Sandbox is never reused across executions.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/runcage/runcage/internal/enginerr"
	"github.com/runcage/runcage/internal/model"
)

// Sandbox isolates and runs one command on behalf of one execution.
type Sandbox interface {
	// Exec returns a *exec.Cmd wired with the namespace/mount/cgroup/seccomp
	// setup needed to run req's command in isolation. The caller starts it.
	Exec(ctx context.Context, req model.ValidatedRequest) (*exec.Cmd, error)

	// PostStart applies limits that require the child's PID to exist (cgroup
	// attachment, prlimit) and must run immediately after Start.
	PostStart(pid int) error

	// Stats returns a live resource-usage snapshot, or (Stats{}, false) if the
	// platform backing this Sandbox cannot provide one (reduced mode).
	Stats() (Stats, bool)

	// Kill forcibly terminates every process the sandbox created, preferring
	// a single cgroup-wide kill over signaling PIDs one at a time.
	Kill() error

	// Destroy releases every kernel resource the Sandbox holds: cgroup
	// directories, temporary root filesystems, namespace file descriptors.
	// Destroy is idempotent and safe to call after a failed construction.
	Destroy() error

	// Enforcement reports which isolation guarantees this Sandbox actually
	// provides, for attaching to a response's unenforced_isolations detail
	// when running in reduced mode.
	Enforcement() Enforcement
}

// Stats is a point-in-time resource usage sample (spec §4.5 "Resource Monitor").
type Stats struct {
	MemoryCurrentBytes int64
	MemoryPeakBytes     int64
	OOMKills            int64
	PidsCurrent          int64
}

// Enforcement describes which of the requested isolation guarantees a
// Sandbox implementation actually provides. Standard mode enforces
// everything; reduced mode discloses its gaps (spec §7 "Fallback-path
// disclosure").
type Enforcement struct {
	Reduced     bool
	Unenforced  []string // isolation guarantees requested but not applied
	Platform    string
}

// Config is the fully-resolved set of build parameters derived from a
// validated request (spec §4.2 step-by-step construction).
type Config struct {
	ExecutionID      string
	Command          []string
	Environment      map[string]string
	WorkingDirectory string
	Network          bool
	ReadonlyPaths    []string
	WritablePaths    []string
	BindMounts       []model.BindMount
	MemoryBytes      int64
	CPUShares        int64
	MaxPids          int64
	DisableSeccomp   bool // operator escape hatch, SPEC_FULL.md §C
}

// ConfigFromRequest resolves a Config from a validated request.
func ConfigFromRequest(req model.ValidatedRequest) Config {
	return Config{
		ExecutionID:      req.ExecutionID,
		Command:          req.Command,
		Environment:      req.Environment,
		WorkingDirectory: req.Isolation.WorkingDirectory,
		Network:          req.Isolation.Network,
		ReadonlyPaths:    req.Isolation.ReadonlyPaths,
		WritablePaths:    req.Isolation.WritablePaths,
		BindMounts:       req.Isolation.BindMounts,
		MemoryBytes:      req.Resources.MemoryBytes,
		CPUShares:        req.Resources.CPUShares,
		MaxPids:          req.Resources.MaxPids,
	}
}

// requestedIsolations lists, in disclosure order, every isolation guarantee
// a request can ask for beyond the baseline (used to populate
// Enforcement.Unenforced when falling back to reduced mode).
func requestedIsolations(cfg Config) []string {
	var want []string
	if !cfg.Network {
		want = append(want, "network_denied")
	}
	if len(cfg.ReadonlyPaths) > 0 || len(cfg.WritablePaths) > 0 || len(cfg.BindMounts) > 0 {
		want = append(want, "filesystem_isolation")
	}
	want = append(want, "pid_namespace", "seccomp_filter", "capability_drop")
	return want
}

// New builds a Sandbox for cfg, selecting standard (namespace/cgroup/seccomp)
// mode when the platform supports it and reduced (rlimit-only) mode
// otherwise. Unlike the teacher's New, which refuses outright when
// enforcement is unavailable, this New always returns a usable Sandbox —
// reduced mode is a first-class, disclosed mode, not an error — but it
// refuses (E2007) when the request asks for guarantees reduced mode cannot
// even approximate.
func New(cfg Config) (Sandbox, error) {
	sb, err := newPlatform(cfg)
	if err == nil {
		return sb, nil
	}

	gaps := requestedIsolations(cfg)
	for _, g := range gaps {
		if g == "filesystem_isolation" || g == "network_denied" {
			return nil, enginerr.New(enginerr.EEnforcementGap,
				"platform cannot enforce requested isolation and reduced mode cannot approximate it").
				WithDetails(map[string]any{"gap": g, "platform_error": err.Error()})
		}
	}
	return newFallback(cfg, err)
}

// enforcementError wraps a platform construction failure in a plain error
// noting that standard mode is unavailable.
func enforcementError(err error) error {
	return fmt.Errorf("sandbox: standard mode unavailable: %w", err)
}
