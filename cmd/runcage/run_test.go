package main

import (
	"testing"

	"github.com/runcage/runcage/internal/model"
	"github.com/runcage/runcage/internal/profile"
)

func TestApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	defaults := profile.RequestDefaults{
		TimeoutMs:      30_000,
		MemoryBytes:    256 << 20,
		CPUShares:      1024,
		MaxOutputBytes: 1 << 20,
		MaxPids:        64,
	}
	req := model.Request{
		TimeoutMs: 5000,
		Resources: model.Resources{
			MemoryBytes: 64 << 20,
		},
	}

	applyDefaults(&req, defaults)

	if req.TimeoutMs != 5000 {
		t.Errorf("TimeoutMs = %d, want caller-supplied 5000 preserved", req.TimeoutMs)
	}
	if req.Resources.MemoryBytes != 64<<20 {
		t.Errorf("MemoryBytes = %d, want caller-supplied value preserved", req.Resources.MemoryBytes)
	}
	if req.Resources.CPUShares != defaults.CPUShares {
		t.Errorf("CPUShares = %d, want default %d", req.Resources.CPUShares, defaults.CPUShares)
	}
	if req.Resources.MaxOutputBytes != defaults.MaxOutputBytes {
		t.Errorf("MaxOutputBytes = %d, want default %d", req.Resources.MaxOutputBytes, defaults.MaxOutputBytes)
	}
	if req.Resources.MaxPids != defaults.MaxPids {
		t.Errorf("MaxPids = %d, want default %d", req.Resources.MaxPids, defaults.MaxPids)
	}
}

func TestApplyDefaultsOnEmptyRequestFillsEverything(t *testing.T) {
	defaults := profile.Default().Defaults
	var req model.Request

	applyDefaults(&req, defaults)

	if req.TimeoutMs != defaults.TimeoutMs {
		t.Errorf("TimeoutMs = %d, want %d", req.TimeoutMs, defaults.TimeoutMs)
	}
	if req.Resources.MemoryBytes != defaults.MemoryBytes {
		t.Errorf("MemoryBytes = %d, want %d", req.Resources.MemoryBytes, defaults.MemoryBytes)
	}
	if req.Resources.CPUShares != defaults.CPUShares {
		t.Errorf("CPUShares = %d, want %d", req.Resources.CPUShares, defaults.CPUShares)
	}
	if req.Resources.MaxOutputBytes != defaults.MaxOutputBytes {
		t.Errorf("MaxOutputBytes = %d, want %d", req.Resources.MaxOutputBytes, defaults.MaxOutputBytes)
	}
	if req.Resources.MaxPids != defaults.MaxPids {
		t.Errorf("MaxPids = %d, want %d", req.Resources.MaxPids, defaults.MaxPids)
	}
}
