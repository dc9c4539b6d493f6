package monitor

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestReadProcStatTimesSelf(t *testing.T) {
	user, kernel, err := readProcStatTimes(os.Getpid())
	if err != nil {
		t.Fatalf("readProcStatTimes: %v", err)
	}
	if user < 0 || kernel < 0 {
		t.Errorf("expected non-negative times, got user=%d kernel=%d", user, kernel)
	}
}

func TestReadProcIOSelf(t *testing.T) {
	// /proc/<pid>/io is not guaranteed readable in every sandboxed test
	// environment (e.g. under a restrictive seccomp/AppArmor profile); skip
	// rather than fail when the kernel denies it.
	if _, err := readProcIO(os.Getpid()); err != nil {
		t.Skipf("/proc/%d/io unavailable in this environment: %v", os.Getpid(), err)
	}
}

func TestMonitorSnapshotTracksPeakAndOOM(t *testing.T) {
	calls := 0
	m := New(os.Getpid(), 5*time.Millisecond, func() (MemoryStats, bool) {
		calls++
		switch calls {
		case 1:
			return MemoryStats{MemoryCurrentBytes: 100, MemoryPeakBytes: 120}, true
		case 2:
			return MemoryStats{MemoryCurrentBytes: 50, MemoryPeakBytes: 90, OOMKills: 1}, true
		default:
			return MemoryStats{MemoryCurrentBytes: 10, MemoryPeakBytes: 10}, true
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := m.Snapshot()
	if snap.MaxMemoryBytes < 120 {
		t.Errorf("MaxMemoryBytes = %d, want >= 120 (peak should never decrease)", snap.MaxMemoryBytes)
	}
	if !snap.OOMDetected {
		t.Error("expected OOMDetected once any sample reports an OOM kill")
	}
}

func TestMonitorSnapshotWithoutStatsSource(t *testing.T) {
	m := New(os.Getpid(), 5*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := m.Snapshot()
	if snap.OOMDetected {
		t.Error("no stats source should never report OOM")
	}
	if snap.MaxMemoryBytes != 0 {
		t.Errorf("MaxMemoryBytes = %d, want 0 with no stats source", snap.MaxMemoryBytes)
	}
}

func TestMonitorSnapshotCapturesCPUTimeWhileAlive(t *testing.T) {
	m := New(os.Getpid(), 5*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// sample() must have captured utime/stime from /proc/<pid>/stat while
	// the process (this test binary) was alive, independent of Snapshot
	// ever reading /proc again — Snapshot just returns the stored values.
	m.mu.RLock()
	gotUser, gotKernel := m.lastUser, m.lastKernel
	m.mu.RUnlock()
	if gotUser < 0 || gotKernel < 0 {
		t.Errorf("expected non-negative stored CPU times, got user=%d kernel=%d", gotUser, gotKernel)
	}

	snap := m.Snapshot()
	if snap.UserTimeMs != gotUser || snap.KernelTimeMs != gotKernel {
		t.Errorf("Snapshot CPU times = (%d, %d), want the values sample() stored (%d, %d)",
			snap.UserTimeMs, snap.KernelTimeMs, gotUser, gotKernel)
	}
	if snap.CPUTimeMs != gotUser+gotKernel {
		t.Errorf("CPUTimeMs = %d, want UserTimeMs+KernelTimeMs = %d", snap.CPUTimeMs, gotUser+gotKernel)
	}
}

func TestNewDefaultsZeroCadence(t *testing.T) {
	m := New(1, 0, nil)
	if m.cadence != DefaultCadence {
		t.Errorf("cadence = %v, want %v", m.cadence, DefaultCadence)
	}
}
