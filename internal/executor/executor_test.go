package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/runcage/runcage/internal/model"
	"github.com/runcage/runcage/internal/validate"
)

// minimalRequest asks for no filesystem/network isolation so sandbox.New
// can fall back to rlimit-only mode on a host without namespace
// privileges, keeping these tests runnable outside a privileged container.
func minimalRequest(t *testing.T, command []string) model.ValidatedRequest {
	t.Helper()
	req := model.Request{
		Command:   command,
		TimeoutMs: 5000,
		Resources: model.Resources{
			MemoryBytes:    64 << 20,
			CPUShares:      1024,
			MaxOutputBytes: 1 << 16,
			MaxPids:        32,
		},
		Isolation: model.Isolation{
			Network:          true,
			WorkingDirectory: "/tmp",
		},
	}
	validated, err := validate.Validate(req)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return validated
}

func TestExecutorRunSuccess(t *testing.T) {
	req := minimalRequest(t, []string{"echo", "hello"})
	resp, err := New().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Status != model.StatusSuccess {
		t.Fatalf("Status = %s, want success (error: %+v, stderr: %q)", resp.Status, resp.Error, resp.Stderr)
	}
	if resp.ExitCode == nil || *resp.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", resp.ExitCode)
	}
	if !strings.Contains(resp.Stdout, "hello") {
		t.Errorf("Stdout = %q, want it to contain %q", resp.Stdout, "hello")
	}
	if resp.Metrics == nil {
		t.Error("expected Metrics to be populated")
	}
}

func TestExecutorRunNonZeroExit(t *testing.T) {
	req := minimalRequest(t, []string{"sh", "-c", "exit 7"})
	resp, err := New().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Status != model.StatusSuccess {
		t.Fatalf("Status = %s, want success (a non-zero exit is still a completed execution)", resp.Status)
	}
	if resp.ExitCode == nil || *resp.ExitCode != 7 {
		t.Errorf("ExitCode = %v, want 7", resp.ExitCode)
	}
}

func TestExecutorRunTimeout(t *testing.T) {
	req := minimalRequest(t, []string{"sleep", "5"})
	req.TimeoutMs = 100

	start := time.Now()
	resp, err := New().Run(context.Background(), req)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Status != model.StatusTimeout {
		t.Fatalf("Status = %s, want timeout", resp.Status)
	}
	if elapsed > 2*time.Second {
		t.Errorf("shutdown took %v, want well under the grace period plus slack", elapsed)
	}

	if resp.Error == nil {
		t.Fatal("expected Error to be populated on timeout")
	}
	elapsedMs, ok := resp.Error.Details["elapsed_ms"].(int64)
	if !ok {
		t.Fatalf("Details[elapsed_ms] = %v (%T), want an int64", resp.Error.Details["elapsed_ms"], resp.Error.Details["elapsed_ms"])
	}
	if elapsedMs < req.TimeoutMs {
		t.Errorf("elapsed_ms = %d, want >= timeout_ms %d", elapsedMs, req.TimeoutMs)
	}
	if timeoutMs, ok := resp.Error.Details["timeout_ms"].(int64); !ok || timeoutMs != req.TimeoutMs {
		t.Errorf("Details[timeout_ms] = %v, want %d", resp.Error.Details["timeout_ms"], req.TimeoutMs)
	}
}

func TestExecutorRunTruncatesCombinedStdoutAndStderr(t *testing.T) {
	req := minimalRequest(t, []string{"sh", "-c", "yes x | head -c 5000 ; yes y | head -c 5000 1>&2"})
	req.Resources.MaxOutputBytes = 100

	resp, err := New().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !resp.Truncated {
		t.Error("expected Truncated to be true")
	}
	combined := len(resp.Stdout) + len(resp.Stderr)
	if combined > 100 {
		t.Errorf("combined stdout+stderr length = %d, want <= 100 (one shared budget, not one each)", combined)
	}
}

func TestExecutorRunTruncatesOutputPastMaxBytes(t *testing.T) {
	req := minimalRequest(t, []string{"sh", "-c", "yes x | head -c 100000"})
	req.Resources.MaxOutputBytes = 10

	resp, err := New().Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !resp.Truncated {
		t.Error("expected Truncated to be true")
	}
	if len(resp.Stdout) > 10 {
		t.Errorf("Stdout length = %d, want <= 10", len(resp.Stdout))
	}
}
