// Package streamd implements the engine's daemon-mode transport: HTTP over
// a Unix domain socket, taking one JSON request per call on /execute, or
// as the first message of a WebSocket connection on /stream. Both return
// only the final Response; output is not streamed while the execution runs.
// This is the "platform-wide limits" collaborator spec §5 calls out as
// living outside the executor: one daemon process rate-limits how many
// executions it admits, independent of any single execution's own
// resource limits.
package streamd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/runcage/runcage/internal/enginelog"
	"github.com/runcage/runcage/internal/executor"
	"github.com/runcage/runcage/internal/model"
	"github.com/runcage/runcage/internal/validate"
)

// Daemon serves the engine over HTTP-over-Unix-socket, admitting requests
// through a token-bucket limiter and shedding load past it with a 429. The
// limiter bounds the admission rate, not the number of executions running
// at once: tokens refill whether or not earlier executions have finished.
type Daemon struct {
	limiter *rate.Limiter
	mux     *http.ServeMux
}

// New builds a Daemon whose limiter admits a burst of up to maxConcurrent
// requests and refills at one admission per refillEvery.
func New(maxConcurrent int, refillEvery time.Duration) *Daemon {
	d := &Daemon{
		limiter: rate.NewLimiter(rate.Every(refillEvery), maxConcurrent),
		mux:     http.NewServeMux(),
	}
	d.mux.HandleFunc("/execute", d.handleExecute)
	d.mux.HandleFunc("/stream", d.handleStream)
	return d
}

// Serve listens on a Unix domain socket at socketPath until ctx is canceled.
func (d *Daemon) Serve(ctx context.Context, socketPath string) error {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	srv := &http.Server{Handler: d.mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleExecute runs one request to completion and returns its Response as
// a single JSON document — the non-streaming path, equivalent to `runcage run`.
func (d *Daemon) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !d.limiter.Allow() {
		http.Error(w, "too many concurrent executions", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("read request: %v", err), http.StatusBadRequest)
		return
	}
	req, err := model.DecodeRequest(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	validated, verr := validate.Validate(req)
	if verr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(model.Response{
			ExecutionID: req.ExecutionID,
			Status:      model.StatusError,
			Error:       &model.ErrorInfo{Code: string(verr.Code), Message: verr.Message, Details: verr.Details},
		})
		return
	}

	resp, _ := executor.New().Run(r.Context(), validated)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleStream upgrades to a WebSocket, reads one JSON request from it,
// runs the request and writes the terminal Response as a single text
// frame. No stdout/stderr chunks or interim metrics are sent while the
// execution runs: the executor exposes only its final Response.
func (d *Daemon) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	var req model.Request
	if _, data, err := conn.Read(ctx); err == nil {
		decoded, derr := model.DecodeRequest(data)
		if derr != nil {
			conn.Close(websocket.StatusUnsupportedData, "invalid request")
			return
		}
		req = decoded
	} else {
		return
	}

	if !d.limiter.Allow() {
		conn.Close(websocket.StatusTryAgainLater, "too many concurrent executions")
		return
	}

	validated, verr := validate.Validate(req)
	if verr != nil {
		payload, _ := json.Marshal(model.Response{
			ExecutionID: req.ExecutionID,
			Status:      model.StatusError,
			Error:       &model.ErrorInfo{Code: string(verr.Code), Message: verr.Message},
		})
		conn.Write(ctx, websocket.MessageText, payload)
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	resp, _ := executor.New().Run(ctx, validated)
	payload, err := json.Marshal(resp)
	if err != nil {
		enginelog.Log.Error("streamd: marshal response", "error", err)
		conn.Close(websocket.StatusInternalError, "")
		return
	}
	conn.Write(ctx, websocket.MessageText, payload)
	conn.Close(websocket.StatusNormalClosure, "")
}
