package main

import "testing"

func TestListenPathStripsUnixScheme(t *testing.T) {
	got := listenPath("unix:///run/runcage/runcage.sock")
	want := "/run/runcage/runcage.sock"
	if got != want {
		t.Errorf("listenPath = %q, want %q", got, want)
	}
}

func TestListenPathLeavesBarePathUnchanged(t *testing.T) {
	got := listenPath("/run/runcage/runcage.sock")
	want := "/run/runcage/runcage.sock"
	if got != want {
		t.Errorf("listenPath = %q, want %q", got, want)
	}
}
