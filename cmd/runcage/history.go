package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/runcage/runcage/internal/audit"
	"github.com/runcage/runcage/internal/profile"
)

// historyCmd lists recently recorded executions from the local history db.
func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently recorded executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, err := profile.Load()
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}

			store, err := audit.Open(historyDBPath(prof))
			if err != nil {
				return fmt.Errorf("open history db: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("no recorded executions")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTION ID\tSTATUS\tSTARTED\tWALL TIME\tPEAK MEM\tCOMMAND")
			for _, e := range entries {
				wall := ""
				mem := ""
				if e.Metrics != nil {
					wall = fmt.Sprintf("%dms", e.Metrics.WallTimeMs)
					if e.Metrics.MaxMemoryBytes > 0 {
						mem = humanize.Bytes(uint64(e.Metrics.MaxMemoryBytes))
					}
				}
				command := e.Command
				if len(command) > 60 {
					command = command[:57] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ExecutionID, e.Status, e.Started.Format("2006-01-02 15:04:05"), wall, mem, command)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of executions to show")
	return cmd
}
