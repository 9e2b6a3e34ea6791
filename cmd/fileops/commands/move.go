package commands

import (
	"github.com/proview/fileops/pkg/plan"
	"github.com/spf13/cobra"
)

// NewMoveCmd creates a new move command
func NewMoveCmd(newOpts OptsFunc) *cobra.Command {
	var onConflict string
	var ignore []string

	cmd := &cobra.Command{
		Use:   "move SOURCE... DEST_DIR",
		Short: "Move files and directories into a destination directory",
		Long: `Move renames in place when the destination is on the same volume and
falls back to copy-then-delete across volumes. The source is only deleted
after its copy has been committed to the journal.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			req := plan.Request{
				Op:             plan.OpMove,
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
