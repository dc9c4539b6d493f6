// Package model defines the request/response wire schema of spec §3: the
// structured input describing a sandboxed command, the resources and
// isolation it needs, and the structured output capturing its outcome.
package model

import "time"

// MountMode is the access mode of a bind mount.
type MountMode string

const (
	MountReadOnly  MountMode = "ro"
	MountReadWrite MountMode = "rw"
)

// BindMount describes one ordered bind-mount entry applied after the
// readonly/writable path sets (spec §3, isolation.bind_mounts).
type BindMount struct {
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Mode        MountMode `json:"mode"`
}

// Resources holds the hard caps enforced on the sandboxed process.
type Resources struct {
	MemoryBytes    int64 `json:"memory_bytes"`
	CPUShares      int64 `json:"cpu_shares"`
	MaxOutputBytes int64 `json:"max_output_bytes"`
	MaxPids        int64 `json:"max_pids"`
}

// Isolation holds the filesystem/network isolation knobs.
type Isolation struct {
	Network          bool        `json:"network"`
	ReadonlyPaths    []string    `json:"readonly_paths,omitempty"`
	WritablePaths    []string    `json:"writable_paths,omitempty"`
	WorkingDirectory string      `json:"working_directory"`
	BindMounts       []BindMount `json:"bind_mounts,omitempty"`
}

// Request is the raw, unvalidated input to the engine (spec §3 "Request").
type Request struct {
	ExecutionID string            `json:"execution_id,omitempty"`
	Command     []string          `json:"command"`
	Environment map[string]string `json:"environment,omitempty"`
	TimeoutMs   int64             `json:"timeout_ms"`
	Resources   Resources         `json:"resources"`
	Isolation   Isolation         `json:"isolation"`
}

// Timeout returns TimeoutMs as a time.Duration.
func (r Request) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ValidatedRequest wraps a Request that has passed Validator.Validate. Its
// existence as a distinct type (rather than a bool flag) makes "validated"
// part of the type system: only a ValidatedRequest can be handed to the
// Sandbox Builder or Executor.
type ValidatedRequest struct {
	Request
}
