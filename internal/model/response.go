package model

import "time"

// Status is the terminal outcome of an execution (spec §3 "Response").
type Status string

const (
	StatusSuccess Status = "success"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Metrics carries the resource-usage figures sampled by the Resource
// Monitor (spec §3 "metrics").
type Metrics struct {
	WallTimeMs      int64 `json:"wall_time_ms"`
	CPUTimeMs       int64 `json:"cpu_time_ms"`
	UserTimeMs      int64 `json:"user_time_ms"`
	KernelTimeMs    int64 `json:"kernel_time_ms"`
	MaxMemoryBytes  int64 `json:"max_memory_bytes"`
	IOBytesRead     int64 `json:"io_bytes_read"`
	IOBytesWritten  int64 `json:"io_bytes_written"`
}

// Timestamps carries the UTC instants bracketing execution.
type Timestamps struct {
	Started   time.Time `json:"started"`
	Completed time.Time `json:"completed,omitempty"`
}

// ErrorInfo is the structured error attached to timeout/error responses.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is the structured output returned for every request (spec §3).
// Optional fields use `omitempty` — the wire format never emits `null`;
// absent optional fields are simply omitted (spec §6). execution_id,
// status, stdout, stderr and timestamps are always emitted.
type Response struct {
	ExecutionID string     `json:"execution_id"`
	Status      Status     `json:"status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
	Truncated   bool       `json:"truncated,omitempty"`
	Metrics     *Metrics   `json:"metrics,omitempty"`
	Timestamps  Timestamps `json:"timestamps"`
	Error       *ErrorInfo `json:"error,omitempty"`

	// UnenforcedIsolations discloses isolation guarantees the request asked
	// for that this execution could not actually enforce — populated only
	// when the engine ran in reduced (rlimit-only) sandbox mode (spec §7
	// "Fallback-path disclosure").
	UnenforcedIsolations []string `json:"unenforced_isolations,omitempty"`
}
