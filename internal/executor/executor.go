// Package executor implements the supervisor of spec §4.6: it drives one
// sandboxed command from construction through to a structured Response,
// coordinating the sandbox, the I/O pipeline, and the resource monitor
// under a single deadline, and owns the shutdown sequence when that
// deadline (or an external cancellation) fires first.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runcage/runcage/internal/enginelog"
	"github.com/runcage/runcage/internal/enginerr"
	"github.com/runcage/runcage/internal/iopipe"
	"github.com/runcage/runcage/internal/model"
	"github.com/runcage/runcage/internal/monitor"
	"github.com/runcage/runcage/internal/sandbox"
)

// GracePeriod is the default interval between SIGTERM and SIGKILL during
// shutdown (spec §4.6 "grace period").
const GracePeriod = 500 * time.Millisecond

// Phase is the executor's lifecycle state (spec §4.6 state machine:
// Created → Prepared → Running → Terminating → Reaped → Responded).
type Phase int

const (
	PhaseCreated Phase = iota
	PhasePrepared
	PhaseRunning
	PhaseTerminating
	PhaseReaped
	PhaseResponded
)

// preExecErrorer is implemented by sandbox builders (currently only the
// Linux standard-mode builder) that can report a pre-exec failure observed
// after Start but before the target command actually ran.
type preExecErrorer interface {
	PreExecError() string
}

// Executor runs one validated request to completion.
type Executor struct {
	phase Phase
	mu    sync.Mutex
}

// New returns a ready-to-run Executor. Each Executor handles exactly one
// execution; the caller constructs a fresh one per request.
func New() *Executor {
	return &Executor{phase: PhaseCreated}
}

func (e *Executor) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Run executes req under ctx (which callers may use to cancel the whole
// engine, e.g. on shutdown) and returns a Response that is always
// populated — Run itself only returns an error for conditions the caller
// must treat as having produced no response at all (it does not, in
// practice, given the error handling below; the signature leaves room for
// future transport-level failures).
func (e *Executor) Run(ctx context.Context, req model.ValidatedRequest) (model.Response, error) {
	log := enginelog.WithExecution(req.ExecutionID)
	started := time.Now().UTC()

	resp := model.Response{
		ExecutionID: req.ExecutionID,
		Timestamps:  model.Timestamps{Started: started},
	}

	cfg := sandbox.ConfigFromRequest(req)
	sb, err := sandbox.New(cfg)
	if err != nil {
		return e.fail(resp, enginerr.EEnforcementGap, "sandbox construction failed", err), nil
	}
	defer func() {
		if err := sb.Destroy(); err != nil {
			log.Warn("sandbox teardown failed", "error", err)
		}
	}()
	e.setPhase(PhasePrepared)
	if enf := sb.Enforcement(); enf.Reduced {
		resp.UnenforcedIsolations = enf.Unenforced
		log.Warn("running in reduced sandbox mode", "platform", enf.Platform, "unenforced", enf.Unenforced)
	}

	execCtx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	cmd, err := sb.Exec(execCtx, req)
	if err != nil {
		return e.fail(resp, enginerr.ENamespaceSetup, "sandbox exec construction failed", err), nil
	}
	// exec.CommandContext's default cancel is an immediate SIGKILL at the
	// deadline; send SIGTERM instead so shutdown's grace period decides when
	// the command is forcibly killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }

	// stdout and stderr draw against one shared budget, not one each, so
	// their combined retained bytes respect max_output_bytes (spec §4.4, §8).
	outputCap := iopipe.NewSharedCap(req.Resources.MaxOutputBytes)
	stdoutBuf := iopipe.NewBufferWithCap(outputCap)
	stderrBuf := iopipe.NewBufferWithCap(outputCap)

	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return e.fail(resp, enginerr.ESpawnFailed, "create stdout pipe", err), nil
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		return e.fail(resp, enginerr.ESpawnFailed, "create stderr pipe", err), nil
	}
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite

	if err := cmd.Start(); err != nil {
		stdoutWrite.Close()
		stderrWrite.Close()
		stdoutRead.Close()
		stderrRead.Close()
		return e.fail(resp, enginerr.ESpawnFailed, "start sandboxed command", err), nil
	}
	// The parent's copies of the write ends must close so the drainers see
	// EOF once the child (the only other holder) exits.
	stdoutWrite.Close()
	stderrWrite.Close()

	if err := sb.PostStart(cmd.Process.Pid); err != nil {
		log.Warn("post-start limits failed", "error", err)
	}
	e.setPhase(PhaseRunning)

	stdoutDrain, err := iopipe.NewDrainer(stdoutRead, stdoutBuf)
	if err != nil {
		return e.fail(resp, enginerr.ESpawnFailed, "start stdout drain", err), nil
	}
	stderrDrain, err := iopipe.NewDrainer(stderrRead, stderrBuf)
	if err != nil {
		return e.fail(resp, enginerr.ESpawnFailed, "start stderr drain", err), nil
	}

	mon := monitor.New(cmd.Process.Pid, monitor.DefaultCadence, func() (monitor.MemoryStats, bool) {
		st, ok := sb.Stats()
		if !ok {
			return monitor.MemoryStats{}, false
		}
		return monitor.MemoryStats{
			MemoryCurrentBytes: st.MemoryCurrentBytes,
			MemoryPeakBytes:    st.MemoryPeakBytes,
			OOMKills:           st.OOMKills,
		}, true
	})

	monCtx, monCancel := context.WithCancel(context.Background())
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return mon.Run(monCtx) })

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	var timedOut bool
	select {
	case waitErr = <-waitCh:
	case <-execCtx.Done():
		timedOut = true
		e.setPhase(PhaseTerminating)
		waitErr = e.shutdown(cmd, sb, waitCh, log)
	}

	e.setPhase(PhaseReaped)
	monCancel()
	stdoutDrain.Cancel()
	stderrDrain.Cancel()
	stdoutDrain.Wait()
	stderrDrain.Wait()
	g.Wait()
	stdoutRead.Close()
	stderrRead.Close()

	snap := mon.Snapshot()
	completed := time.Now().UTC()
	resp.Stdout = stdoutBuf.String()
	resp.Stderr = stderrBuf.String()
	resp.Truncated = stdoutBuf.Truncated() || stderrBuf.Truncated()
	resp.Timestamps.Completed = completed
	resp.Metrics = &model.Metrics{
		WallTimeMs:     completed.Sub(started).Milliseconds(),
		CPUTimeMs:      snap.CPUTimeMs,
		UserTimeMs:     snap.UserTimeMs,
		KernelTimeMs:   snap.KernelTimeMs,
		MaxMemoryBytes: snap.MaxMemoryBytes,
		IOBytesRead:    snap.IOBytesRead,
		IOBytesWritten: snap.IOBytesWritten,
	}

	if pe, ok := sb.(preExecErrorer); ok {
		if msg := pe.PreExecError(); msg != "" {
			e.setPhase(PhaseResponded)
			return e.fail(resp, enginerr.ENamespaceSetup, "sandbox setup failed before exec", errors.New(msg)), nil
		}
	}

	e.setPhase(PhaseResponded)

	switch {
	case timedOut:
		resp.Status = model.StatusTimeout
		resp.Error = &model.ErrorInfo{
			Code:    string(enginerr.ETimeout),
			Message: "execution exceeded timeout_ms",
			Details: map[string]any{
				"elapsed_ms": completed.Sub(started).Milliseconds(),
				"timeout_ms": req.TimeoutMs,
			},
		}
		return resp, nil
	case snap.OOMDetected:
		resp.Status = model.StatusError
		resp.Error = &model.ErrorInfo{Code: string(enginerr.EOOM), Message: "sandboxed command was killed by the out-of-memory controller"}
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			ec := exitErr.ExitCode()
			resp.ExitCode = &ec
		}
		return resp, nil
	case waitErr == nil:
		resp.Status = model.StatusSuccess
		ec := 0
		resp.ExitCode = &ec
		return resp, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			ec := exitErr.ExitCode()
			resp.ExitCode = &ec
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				resp.Status = model.StatusError
				resp.Error = &model.ErrorInfo{
					Code:    string(enginerr.ESignaled),
					Message: fmt.Sprintf("command terminated by signal %s", status.Signal()),
				}
				return resp, nil
			}
			// A plain non-zero exit is still a completed execution, not an
			// engine error — spec §3 treats the command's own exit code as
			// part of a successful response.
			resp.Status = model.StatusSuccess
			return resp, nil
		}
		return e.fail(resp, enginerr.EReapFailed, "failed to reap sandboxed command", waitErr), nil
	}
}

// shutdown drives the Terminating phase of spec §4.6: SIGTERM, a grace
// period to let the command exit cleanly, then a forceful kill — the
// sandbox's own cgroup-wide kill when available (it cannot be dodged by a
// process that forks faster than a PID-by-PID sweep), a direct SIGKILL
// otherwise — followed by reaping. Returns the same error cmd.Wait()
// would have, read off waitCh.
func (e *Executor) shutdown(cmd *exec.Cmd, sb sandbox.Sandbox, waitCh <-chan error, log interface {
	Warn(msg string, args ...any)
}) error {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Warn("SIGTERM failed, proceeding straight to forceful kill", "error", err)
		}
	}

	timer := time.NewTimer(GracePeriod)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
	}

	if err := sb.Kill(); err != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGKILL)
	}
	return <-waitCh
}

func (e *Executor) fail(resp model.Response, code enginerr.Code, message string, cause error) model.Response {
	resp.Status = model.StatusError
	resp.Timestamps.Completed = time.Now().UTC()
	resp.Error = &model.ErrorInfo{
		Code:    string(code),
		Message: message,
	}
	if cause != nil {
		resp.Error.Details = map[string]any{"cause": cause.Error()}
	}
	return resp
}
