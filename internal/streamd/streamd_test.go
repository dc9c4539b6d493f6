package streamd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runcage/runcage/internal/model"
)

func setup(t *testing.T) (string, context.CancelFunc) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "runcage.sock")
	d := New(4, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		go func() {
			for {
				if _, err := os.Stat(sock); err == nil {
					close(ready)
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
		d.Serve(ctx, sock)
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("daemon did not start listening in time")
	}
	return sock, cancel
}

func unixClient(sock string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sock)
			},
		},
	}
}

func TestHandleExecuteRunsCommand(t *testing.T) {
	sock, cancel := setup(t)
	defer cancel()

	req := model.Request{
		Command:   []string{"echo", "hi"},
		TimeoutMs: 5000,
		Resources: model.Resources{MemoryBytes: 64 << 20, CPUShares: 1024, MaxOutputBytes: 1 << 16, MaxPids: 32},
		Isolation: model.Isolation{Network: true, WorkingDirectory: "/tmp"},
	}
	body, _ := json.Marshal(req)

	resp, err := unixClient(sock).Post("http://unix/execute", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post /execute: %v", err)
	}
	defer resp.Body.Close()

	var out model.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != model.StatusSuccess {
		t.Fatalf("Status = %s, want success (error: %+v)", out.Status, out.Error)
	}
}

func TestHandleExecuteRejectsInvalidRequest(t *testing.T) {
	sock, cancel := setup(t)
	defer cancel()

	resp, err := unixClient(sock).Post("http://unix/execute", "application/json", bytes.NewReader([]byte(`{"command":[]}`)))
	if err != nil {
		t.Fatalf("post /execute: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestHandleExecuteRejectsUnknownFields(t *testing.T) {
	sock, cancel := setup(t)
	defer cancel()

	resp, err := unixClient(sock).Post("http://unix/execute", "application/json", bytes.NewReader([]byte(`{"command":["echo"],"bogus_field":1}`)))
	if err != nil {
		t.Fatalf("post /execute: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
