//go:build linux

package sandbox

import "testing"

func TestCPUSharesToWeight(t *testing.T) {
	tests := []struct {
		shares int64
		want   uint64
	}{
		{0, 100},
		{-5, 100},
		{1024, 10000},
		{512, 5000},
		{2, 20},
		{1, 10},
		{1 << 30, 10000}, // clamps to the v2 maximum
	}
	for _, tt := range tests {
		if got := cpuSharesToWeight(tt.shares); got != tt.want {
			t.Errorf("cpuSharesToWeight(%d) = %d, want %d", tt.shares, got, tt.want)
		}
	}
}

func TestCloneFlagsIncludesNewNetOnlyWhenNetworkDenied(t *testing.T) {
	s := &linuxSandbox{cfg: Config{Network: false}}
	withoutNet := s.cloneFlags()

	s2 := &linuxSandbox{cfg: Config{Network: true}}
	withNet := s2.cloneFlags()

	if withoutNet == withNet {
		t.Fatal("expected different clone flags depending on Network")
	}
	if withoutNet&withNet != withNet {
		t.Error("denying network should only add flags, not remove any baseline namespace")
	}
}
