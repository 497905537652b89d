package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var Version = "v0.3.0"

type rootOptions struct {
	home   string
	sync   bool
	caller string
	json   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gotasks",
		Short:         "Local task store with sync-aware mutation pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.home, "home", "", "gotasks home directory (default $GOTASKS_HOME or ~/.gotasks)")
	root.PersistentFlags().BoolVar(&opts.sync, "sync-adapter", false, "act as a privileged sync adapter")
	root.PersistentFlags().StringVar(&opts.caller, "caller", "cli", "caller name recorded in logs and the audit trail")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "force JSON output")

	root.AddCommand(
		newListCmd(opts),
		newTaskCmd(opts),
		newSearchCmd(opts),
		newReindexCmd(opts),
		newInstancesCmd(opts),
		newTimezoneCmd(opts),
		newServeCmd(opts),
		newDoctorCmd(opts),
		newBackupCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}
