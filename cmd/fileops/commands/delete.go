package commands

import (
	"github.com/proview/fileops/pkg/plan"
	"github.com/spf13/cobra"
)

// NewDeleteCmd creates a new delete command
func NewDeleteCmd(newOpts OptsFunc) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:     "rm PATH...",
		Aliases: []string{"delete"},
		Short:   "Delete files and directories",
		Long: `Delete removes the selection bottom-up, children before parents.
Non-empty directories are refused unless --recursive is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			req := plan.Request{
				Op:        plan.OpDelete,
				Sources:   args,
				Recursive: recursive,
			}
			return submitAndWait(ctx, o, req, "")
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete directories and their contents")
	return cmd
}
