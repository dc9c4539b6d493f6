package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runcage/runcage/internal/enginelog"
	"github.com/runcage/runcage/internal/profile"
	"github.com/runcage/runcage/internal/streamd"
)

// serveCmd runs the long-lived daemon: a Unix-socket HTTP server accepting
// requests over /execute and /stream. When the project-local profile
// changes it is reloaded and the reload is logged; the running daemon's
// admission and logging settings are not changed by it.
func serveCmd() *cobra.Command {
	var socketPath string
	var maxConcurrent int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runcage daemon",
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

			if socketPath == "" {
				socketPath = listenPath(prof.Listen)
			}
			os.Remove(socketPath)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := profile.Watch(ctx, func(p profile.Profile) {
					enginelog.Log.Info("profile reloaded")
				}); err != nil {
					enginelog.Log.Warn("profile watch stopped", "error", err)
				}
			}()

			d := streamd.New(maxConcurrent, 100*time.Millisecond)
			enginelog.Log.Info("runcage daemon listening", "socket", socketPath, "max_concurrent", maxConcurrent)
			return d.Serve(ctx, socketPath)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default: from profile's listen address)")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 16, "Burst size of the admission rate limiter (refilled at one admission per 100ms)")
	return cmd
}

// listenPath extracts a filesystem path from a unix:// listen address,
// falling back to treating the whole string as a path when there's no
// scheme (profile.yaml is allowed to say either).
func listenPath(listen string) string {
	const prefix = "unix://"
	if len(listen) > len(prefix) && listen[:len(prefix)] == prefix {
		return listen[len(prefix):]
	}
	return listen
}
