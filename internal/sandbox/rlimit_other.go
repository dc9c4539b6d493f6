//go:build !linux

package sandbox

import "os/exec"

func applyRlimitAttr(cmd *exec.Cmd, cfg Config) {}

func applyRlimits(pid int, cfg Config) error { return nil }
