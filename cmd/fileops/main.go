package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/proview/fileops/cmd/fileops/commands"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	// Setup logging
	setupLogging()
	ctx := log.Logger.WithContext(context.Background())

	// A first Ctrl-C cancels running plans cooperatively; a second one
	// kills the process the usual way.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create root command
	rootCmd := &cobra.Command{
		Use:   "fileops",
		Short: "Journaled file operations for the desktop file manager",
		Long: `fileops plans and executes copy, move, delete, rename and mkdir
operations the same way the file manager panels do: every plan is expanded
into atomic steps, each step is journaled before it touches the disk, and
interrupted plans can be inspected, resumed or discarded after a crash.`,
		SilenceUsage: true,
	}

	// Add shared flags
	addRootFlags(rootCmd)

	// Commands build their dependencies lazily so that --help and flag
	// errors never touch the journal.
	rootCmd.AddCommand(
		commands.NewCopyCmd(newRootOpts),
		commands.NewMoveCmd(newRootOpts),
		commands.NewDeleteCmd(newRootOpts),
		commands.NewRenameCmd(newRootOpts),
		commands.NewMkdirCmd(newRootOpts),
		commands.NewRecoverCmd(newRootOpts),
		commands.NewJournalCmd(newRootOpts),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
