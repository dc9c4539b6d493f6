package sandbox

import "github.com/runcage/runcage/internal/model"

// childSpec is the JSON message the builder process hands to the re-exec'd
// child init process over a pipe (fd 3). The child is already running as
// PID 1 inside the new PID/mount/user/IPC/UTS (and, unless networking was
// requested, network) namespaces by the time it reads this — Cloneflags on
// the exec.Cmd's SysProcAttr puts it there before the re-exec'd binary's
// first instruction runs, so no second fork is needed here the way the
// teacher's nested wrapper required.
type childSpec struct {
	Command          []string          `json:"command"`
	Env              map[string]string `json:"env"`
	WorkingDirectory string            `json:"working_directory"`
	RootDir          string            `json:"root_dir"`
	ReadonlyPaths    []string          `json:"readonly_paths"`
	WritablePaths    []string          `json:"writable_paths"`
	BindMounts       []model.BindMount `json:"bind_mounts"`
	DisableSeccomp   bool              `json:"disable_seccomp"`
}

// childInitArg is the hidden argv[1] the engine re-execs itself with. It is
// never a real subcommand in the CLI's help text — cmd/runcage intercepts
// it before cobra ever sees argv.
const childInitArg = "__sandbox_init__"

// IsChildInit reports whether args (typically os.Args) requests dispatch
// straight to ChildInit, bypassing cobra entirely.
func IsChildInit(args []string) bool {
	return len(args) > 1 && args[1] == childInitArg
}
