package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/runcage/runcage/internal/audit"
	"github.com/runcage/runcage/internal/enginelog"
	"github.com/runcage/runcage/internal/executor"
	"github.com/runcage/runcage/internal/model"
	"github.com/runcage/runcage/internal/profile"
	"github.com/runcage/runcage/internal/validate"
)

// runCmd runs a single request read from stdin (or --file) to completion
// and writes its Response as one JSON document to stdout. The process exit
// code mirrors the response status: 0 on success (including a non-zero
// command exit — that's still a completed execution), 124 on timeout
// (matching the `timeout(1)` convention), 1 on an engine error.
func runCmd() *cobra.Command {
	var file string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sandboxed command from a JSON request",
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, err := profile.Load()
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}
			if err := profile.Validate(prof); err != nil {
				return fmt.Errorf("invalid profile: %w", err)
			}
			if err := enginelog.Init(prof.LogLevel, prof.LogFile); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			var raw []byte
			if file != "" {
				raw, err = os.ReadFile(file)
			} else {
				raw, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}

			req, err := model.DecodeRequest(raw)
			if err != nil {
				return fmt.Errorf("parse request: %w", err)
			}
			applyDefaults(&req, prof.Defaults)

			validated, verr := validate.Validate(req)
			if verr != nil {
				resp := model.Response{
					ExecutionID: req.ExecutionID,
					Status:      model.StatusError,
					Error:       &model.ErrorInfo{Code: string(verr.Code), Message: verr.Message, Details: verr.Details},
				}
				return emit(resp)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, _ := executor.New().Run(ctx, validated)

			if !noHistory {
				if store, err := audit.Open(historyDBPath(prof)); err == nil {
					if err := store.Record(ctx, req.Command, resp); err != nil {
						enginelog.Log.Warn("history record failed", "error", err)
					}
					store.Close()
				} else {
					enginelog.Log.Warn("history open failed", "error", err)
				}
			}

			return emit(resp)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Read the request from a file instead of stdin")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip recording this execution to the history database")
	return cmd
}

func applyDefaults(req *model.Request, d profile.RequestDefaults) {
	if req.TimeoutMs == 0 {
		req.TimeoutMs = d.TimeoutMs
	}
	if req.Resources.MemoryBytes == 0 {
		req.Resources.MemoryBytes = d.MemoryBytes
	}
	if req.Resources.CPUShares == 0 {
		req.Resources.CPUShares = d.CPUShares
	}
	if req.Resources.MaxOutputBytes == 0 {
		req.Resources.MaxOutputBytes = d.MaxOutputBytes
	}
	if req.Resources.MaxPids == 0 {
		req.Resources.MaxPids = d.MaxPids
	}
}

func emit(resp model.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	switch resp.Status {
	case model.StatusSuccess:
		os.Exit(0)
	case model.StatusTimeout:
		os.Exit(124)
	default:
		os.Exit(1)
	}
	return nil
}
