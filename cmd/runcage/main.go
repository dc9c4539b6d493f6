package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runcage/runcage/internal/sandbox"
)

func main() {
	// Re-exec dispatch: when this binary is invoked as its own sandbox
	// child (see internal/sandbox.childSpec), run the namespace/mount/
	// seccomp setup and exec the target command directly — before cobra
	// ever sees argv, since this path never wants flag parsing, help
	// text, or any other cobra behavior.
	if sandbox.IsChildInit(os.Args) {
		sandbox.ChildInit()
		return
	}

	root := &cobra.Command{
		Use:   "runcage",
		Short: "runcage — sandboxed command execution engine",
		Long:  "Runs a single command under Linux namespace, cgroup, and seccomp isolation and reports a structured result.",
	}

	root.AddCommand(
		runCmd(),
		serveCmd(),
		historyCmd(),
		profileCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
