//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCgroupV2Path(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "simple v2",
			input: "0::/user.slice/user-1000.slice/session-1.scope\n",
			want:  "/user.slice/user-1000.slice/session-1.scope",
		},
		{
			name:  "root cgroup",
			input: "0::/\n",
			want:  "/",
		},
		{
			name:    "v1 only",
			input:   "12:cpuset:/\n11:memory:/user.slice\n",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCgroupV2Path(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got path=%q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseCgroupV2Path(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCgroupManagerNilReceiverIsSafe(t *testing.T) {
	var c *cgroupManager
	if err := c.AddPID(123); err != nil {
		t.Errorf("AddPID on nil manager should be a no-op, got %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Errorf("Destroy on nil manager should be a no-op, got %v", err)
	}
	if err := c.Kill(); err == nil {
		t.Error("Kill on nil manager should error (no cgroup to kill)")
	}
	if _, err := c.Stats(); err == nil {
		t.Error("Stats on nil manager should error (no cgroup to read)")
	}
}

func TestOomKillCountParsesMemoryEvents(t *testing.T) {
	dir := t.TempDir()
	c := &cgroupManager{path: dir}
	writeFile(t, dir, "memory.events", "low 0\nhigh 0\nmax 2\noom 1\noom_kill 3\n")

	n, err := c.oomKillCount()
	if err != nil {
		t.Fatalf("oomKillCount: %v", err)
	}
	if n != 3 {
		t.Errorf("oomKillCount() = %d, want 3", n)
	}
}

func TestOomKillCountDefaultsToZeroWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	c := &cgroupManager{path: dir}
	writeFile(t, dir, "memory.events", "low 0\nhigh 0\nmax 0\noom 0\n")

	n, err := c.oomKillCount()
	if err != nil {
		t.Fatalf("oomKillCount: %v", err)
	}
	if n != 0 {
		t.Errorf("oomKillCount() = %d, want 0", n)
	}
}

func TestCgroupManagerStatsReadsAccountingFiles(t *testing.T) {
	dir := t.TempDir()
	c := &cgroupManager{path: dir}
	writeFile(t, dir, "memory.current", "1048576")
	writeFile(t, dir, "memory.peak", "2097152")
	writeFile(t, dir, "pids.current", "4")
	writeFile(t, dir, "memory.events", "oom_kill 0\n")

	st, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.MemoryCurrentBytes != 1048576 || st.MemoryPeakBytes != 2097152 || st.PidsCurrent != 4 {
		t.Errorf("Stats() = %+v, want current=1048576 peak=2097152 pids=4", st)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
