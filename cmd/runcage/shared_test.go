package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/runcage/runcage/internal/profile"
)

func TestHistoryDBPathExpandsHomeTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir available: %v", err)
	}
	p := profile.Default()
	p.HistoryDB = "~/.runcage/history.db"

	got := historyDBPath(p)
	want := filepath.Join(home, ".runcage/history.db")
	if got != want {
		t.Errorf("historyDBPath(%q) = %q, want %q", p.HistoryDB, got, want)
	}
}

func TestHistoryDBPathLeavesAbsolutePathUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := profile.Default()
	p.HistoryDB = filepath.Join(dir, "nested", "history.db")

	got := historyDBPath(p)
	if got != p.HistoryDB {
		t.Errorf("historyDBPath(%q) = %q, want unchanged", p.HistoryDB, got)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested")); err != nil {
		t.Errorf("expected parent dir to be created: %v", err)
	}
}
