package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/runcage/runcage/internal/enginelog"
	"github.com/runcage/runcage/internal/model"
)

// fallbackSandbox is the reduced-enforcement mode of spec §4.3: rlimits
// only, no namespace or filesystem isolation. It is selected when the
// platform cannot build a standard sandbox (non-Linux, or Linux without
// the namespace capability) and the request's isolation needs can be
// honestly disclosed as unenforced.
type fallbackSandbox struct {
	cfg      Config
	tmpDir   string
	cause    error
}

func newFallback(cfg Config, cause error) (Sandbox, error) {
	tmpDir, err := os.MkdirTemp("", "runcage-fallback-"+cfg.ExecutionID+"-")
	if err != nil {
		return nil, fmt.Errorf("fallback: create temp dir: %w", err)
	}
	enginelog.Log.Warn("sandbox running in reduced mode: namespace/cgroup/seccomp isolation unavailable",
		"execution_id", cfg.ExecutionID, "platform", runtime.GOOS, "cause", cause)
	return &fallbackSandbox{cfg: cfg, tmpDir: tmpDir, cause: cause}, nil
}

func (f *fallbackSandbox) Exec(ctx context.Context, req model.ValidatedRequest) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, f.cfg.Command[0], f.cfg.Command[1:]...)
	if f.cfg.WorkingDirectory != "" {
		if _, err := os.Stat(f.cfg.WorkingDirectory); err == nil {
			cmd.Dir = f.cfg.WorkingDirectory
		}
	}
	cmd.Env = f.buildEnv()
	applyRlimitAttr(cmd, f.cfg)
	return cmd, nil
}

func (f *fallbackSandbox) buildEnv() []string {
	env := make([]string, 0, len(f.cfg.Environment)+1)
	for k, v := range f.cfg.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env, "TMPDIR="+f.tmpDir)
	return env
}

func (f *fallbackSandbox) PostStart(pid int) error {
	return applyRlimits(pid, f.cfg)
}

func (f *fallbackSandbox) Stats() (Stats, bool) {
	return Stats{}, false
}

func (f *fallbackSandbox) Kill() error {
	return fmt.Errorf("fallback: no cgroup-wide kill, executor must signal the process directly")
}

func (f *fallbackSandbox) Destroy() error {
	return os.RemoveAll(f.tmpDir)
}

func (f *fallbackSandbox) Enforcement() Enforcement {
	return Enforcement{
		Reduced:    true,
		Unenforced: requestedIsolations(f.cfg),
		Platform:   runtime.GOOS,
	}
}
