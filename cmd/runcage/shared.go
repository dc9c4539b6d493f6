package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/runcage/runcage/internal/profile"
)

// historyDBPath resolves prof.HistoryDB, expanding a leading "~" the way a
// shell would — profile.yaml stores paths as plain strings, so this is the
// one place that needs to understand the shorthand.
func historyDBPath(prof profile.Profile) string {
	path := prof.HistoryDB
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	return path
}
