// Package profile loads the engine's ambient operator configuration —
// logging, default resource ceilings, and the daemon's listen address —
// layered from a user-wide file and a project-local override, the way the
// teacher's internal/config merges user and project settings. Unlike that
// package, profile only ever configures the CLI/daemon wrapper around the
// engine; nothing in internal/executor or internal/sandbox reads it. Its
// only effect on a request is the defaults the CLI fills into request
// fields left at zero.
package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Profile is the resolved operator configuration.
type Profile struct {
	LogLevel   string          `yaml:"log_level" mapstructure:"log_level"`
	LogFile    string          `yaml:"log_file" mapstructure:"log_file"`
	Listen     string          `yaml:"listen" mapstructure:"listen"`
	HistoryDB  string          `yaml:"history_db" mapstructure:"history_db"`
	Defaults   RequestDefaults `yaml:"defaults" mapstructure:"defaults"`
}

// RequestDefaults seeds the timeout and resources fields a request omits. The
// Validator still runs against the merged result — defaults cannot bypass
// any invariant in spec §4.1.
type RequestDefaults struct {
	TimeoutMs      int64 `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MemoryBytes    int64 `yaml:"memory_bytes" mapstructure:"memory_bytes"`
	CPUShares      int64 `yaml:"cpu_shares" mapstructure:"cpu_shares"`
	MaxOutputBytes int64 `yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
	MaxPids        int64 `yaml:"max_pids" mapstructure:"max_pids"`
}

// Default returns the built-in profile used when no file is found.
func Default() Profile {
	return Profile{
		LogLevel:  "info",
		Listen:    "unix:///run/runcage.sock",
		HistoryDB: "~/.runcage/history.db",
		Defaults: RequestDefaults{
			TimeoutMs:      30_000,
			MemoryBytes:    256 << 20,
			CPUShares:      1024,
			MaxOutputBytes: 1 << 20,
			MaxPids:        64,
		},
	}
}

// Load merges the user-wide profile (~/.config/runcage/profile.yaml) with
// a project-local override (./.runcage/profile.yaml), the project's
// values winning on conflict — the same precedence the teacher's
// config.Manager applies to user vs. project config.
func Load() (Profile, error) {
	p := Default()

	userPath, err := UserProfilePath()
	if err == nil {
		if err := mergeFile(&p, userPath); err != nil {
			return p, err
		}
	}

	projectPath := filepath.Join(".runcage", "profile.yaml")
	if err := mergeFile(&p, projectPath); err != nil {
		return p, err
	}

	return p, nil
}

// UserProfilePath returns the per-user profile location, honoring
// $XDG_CONFIG_HOME the way the teacher's GetUserConfigDir does.
func UserProfilePath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "runcage", "profile.yaml"), nil
}

func mergeFile(p *Profile, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("build decoder for %s: %w", path, err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("apply %s: %w", path, err)
	}
	return nil
}

// Validate reports whether the profile itself is internally consistent —
// distinct from request validation, which internal/validate owns.
func Validate(p Profile) error {
	switch p.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", p.LogLevel)
	}
	if p.Defaults.TimeoutMs <= 0 {
		return fmt.Errorf("defaults.timeout_ms must be positive")
	}
	return nil
}
