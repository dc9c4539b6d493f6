package model

import (
	"testing"
	"time"
)

func TestRequestTimeout(t *testing.T) {
	r := Request{TimeoutMs: 1500}
	if got, want := r.Timeout(), 1500*time.Millisecond; got != want {
		t.Errorf("Timeout() = %v, want %v", got, want)
	}
}
