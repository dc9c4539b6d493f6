// Package validate implements the pure, side-effect-free request validator
// of spec §4.1: it rejects unsafe or malformed requests before any sandbox
// work is attempted. Validation is idempotent and deterministic — it does
// no I/O and never touches the filesystem (physical symlink resolution is
// deferred to the sandbox builder, scoped to the constructed root).
package validate

import (
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/runcage/runcage/internal/enginerr"
	"github.com/runcage/runcage/internal/model"
)

const (
	maxTimeoutMs      = 24 * 60 * 60 * 1000 // 24h
	minMemoryBytes    = 4096               // one page
	maxArgvBytes      = 128 * 1024
	maxArgBytes       = 8 * 1024
	maxEnvBytes       = 256 * 1024
)

var envNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a Request against every invariant in spec §3/§4.1 and
// returns a ValidatedRequest, or a structured rejection in the E1xxx family.
// It assigns a fresh execution_id if the request didn't supply one.
func Validate(req model.Request) (model.ValidatedRequest, *enginerr.Error) {
	if err := validateCommand(req.Command); err != nil {
		return model.ValidatedRequest{}, err
	}
	if err := validateEnvironment(req.Environment); err != nil {
		return model.ValidatedRequest{}, err
	}
	if req.TimeoutMs <= 0 || req.TimeoutMs > maxTimeoutMs {
		return model.ValidatedRequest{}, enginerr.New(enginerr.EOutOfRange,
			"timeout_ms must be positive and at most 24h").WithDetails(map[string]any{
			"timeout_ms": req.TimeoutMs,
		})
	}
	if err := validateResources(req.Resources); err != nil {
		return model.ValidatedRequest{}, err
	}
	if err := validateIsolation(req.Isolation); err != nil {
		return model.ValidatedRequest{}, err
	}

	out := req
	if out.ExecutionID == "" {
		out.ExecutionID = uuid.New().String()
	}
	return model.ValidatedRequest{Request: out}, nil
}

func validateCommand(command []string) *enginerr.Error {
	if len(command) == 0 {
		return enginerr.New(enginerr.ECommandEmpty, "command must be a non-empty argv")
	}
	if command[0] == "" {
		return enginerr.New(enginerr.ECommandEmpty, "command[0] must not be empty")
	}
	total := 0
	for i, arg := range command {
		if strings.IndexByte(arg, 0) != -1 {
			return enginerr.New(enginerr.EEnvNulByte, "command arguments must not contain NUL bytes").
				WithDetails(map[string]any{"index": i})
		}
		if len(arg) > maxArgBytes {
			return enginerr.New(enginerr.EArgTooLarge, "argument exceeds maximum length").
				WithDetails(map[string]any{"index": i, "length": len(arg), "max": maxArgBytes})
		}
		total += len(arg)
	}
	if total > maxArgvBytes {
		return enginerr.New(enginerr.ECommandTooLarge, "total argv length exceeds maximum").
			WithDetails(map[string]any{"length": total, "max": maxArgvBytes})
	}
	return nil
}

func validateEnvironment(env map[string]string) *enginerr.Error {
	total := 0
	for k, v := range env {
		if !envNameRE.MatchString(k) {
			return enginerr.New(enginerr.EEnvInvalidName, "invalid environment variable name").
				WithDetails(map[string]any{"name": k})
		}
		if strings.IndexByte(v, 0) != -1 || strings.IndexByte(k, 0) != -1 {
			return enginerr.New(enginerr.EEnvNulByte, "environment entries must not contain NUL bytes").
				WithDetails(map[string]any{"name": k})
		}
		total += len(k) + len(v)
	}
	if total > maxEnvBytes {
		return enginerr.New(enginerr.ECommandTooLarge, "total environment size exceeds maximum").
			WithDetails(map[string]any{"length": total, "max": maxEnvBytes})
	}
	return nil
}

func validateResources(r model.Resources) *enginerr.Error {
	if r.MemoryBytes <= 0 {
		return enginerr.New(enginerr.EOutOfRange, "resources.memory_bytes must be positive")
	}
	if r.MemoryBytes < minMemoryBytes {
		return enginerr.New(enginerr.EOutOfRange, "resources.memory_bytes below one page").
			WithDetails(map[string]any{"memory_bytes": r.MemoryBytes, "min": minMemoryBytes})
	}
	if r.CPUShares <= 0 {
		return enginerr.New(enginerr.EOutOfRange, "resources.cpu_shares must be positive")
	}
	if r.MaxOutputBytes <= 0 {
		return enginerr.New(enginerr.EOutOfRange, "resources.max_output_bytes must be positive")
	}
	if r.MaxPids <= 0 {
		return enginerr.New(enginerr.EOutOfRange, "resources.max_pids must be positive")
	}
	return nil
}

func validateIsolation(iso model.Isolation) *enginerr.Error {
	if iso.WorkingDirectory == "" || !path.IsAbs(iso.WorkingDirectory) {
		return enginerr.New(enginerr.EWorkdirMissing, "isolation.working_directory must be an absolute path")
	}

	seen := map[string]bool{}
	for _, p := range iso.ReadonlyPaths {
		if err := validateCanonicalPath(p); err != nil {
			return err
		}
		seen[p] = true
	}
	for _, p := range iso.WritablePaths {
		if err := validateCanonicalPath(p); err != nil {
			return err
		}
		if seen[p] {
			return enginerr.New(enginerr.EPathOverlap, "path present in both readonly_paths and writable_paths").
				WithDetails(map[string]any{"path": p})
		}
	}
	for i, bm := range iso.BindMounts {
		if err := validateCanonicalPath(bm.Source); err != nil {
			return err
		}
		if err := validateCanonicalPath(bm.Destination); err != nil {
			return err
		}
		if bm.Mode != model.MountReadOnly && bm.Mode != model.MountReadWrite {
			return enginerr.New(enginerr.EOutOfRange, "bind_mounts entry has invalid mode").
				WithDetails(map[string]any{"index": i, "mode": bm.Mode})
		}
	}
	return nil
}

// validateCanonicalPath performs the textual-lexical canonicalization check
// from spec §4.1: the path must be absolute and must not contain a ".."
// component (checked on the path as given, since lexical cleaning of an
// absolute path would silently resolve it away). Physical symlink
// resolution happens later, inside the sandbox builder, scoped to the
// constructed root.
func validateCanonicalPath(p string) *enginerr.Error {
	if !path.IsAbs(p) {
		return enginerr.New(enginerr.EPathTraversal, "path must be absolute").
			WithDetails(map[string]any{"path": p})
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return enginerr.New(enginerr.EPathTraversal, "path must not contain ..").
				WithDetails(map[string]any{"path": p})
		}
	}
	return nil
}
