package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	homeDir     string
	outputJSON  bool
	verbose     bool
	plainOutput bool
)

// Execute runs the root cobra command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dotalias",
		Short:         "Add hero name aliases to Dota 2",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&homeDir, "home", "", "Application directory for tools, logs and deployment records")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also write log lines to stderr")
	cmd.PersistentFlags().BoolVar(&plainOutput, "plain", false, "Print one line per event instead of the interactive view")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newPatchCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newLocateCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}
