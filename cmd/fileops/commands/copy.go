package commands

import (
	"github.com/proview/fileops/pkg/plan"
	"github.com/spf13/cobra"
)

// NewCopyCmd creates a new copy command
func NewCopyCmd(newOpts OptsFunc) *cobra.Command {
	var onConflict string
	var ignore []string

	cmd := &cobra.Command{
		Use:   "copy SOURCE... DEST_DIR",
		Short: "Copy files and directories into a destination directory",
		Long: `Copy expands the selection into a plan (directories before their
children), resolves name collisions with the chosen conflict action, and
executes the plan with every step journaled.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			req := plan.Request{
				Op:             plan.OpCopy,
				Sources:        args[:len(args)-1],
				DestDir:        args[len(args)-1],
				IgnorePatterns: ignore,
			}
			return submitAndWait(ctx, o, req, onConflict)
		},
	}

	cmd.Flags().StringVar(&onConflict, "on-conflict", "", "collision action: skip, overwrite, keepboth or abort")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "glob patterns to exclude (repeatable)")
	return cmd
}
