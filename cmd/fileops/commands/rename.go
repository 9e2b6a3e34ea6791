package commands

import (
	"github.com/proview/fileops/pkg/plan"
	"github.com/spf13/cobra"
)

// NewRenameCmd creates a new rename command
func NewRenameCmd(newOpts OptsFunc) *cobra.Command {
	var onConflict string

	cmd := &cobra.Command{
		Use:   "rename PATH NEW_NAME",
		Short: "Rename a single entry in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			req := plan.Request{
				Op:      plan.OpRename,
				Sources: []string{args[0]},
				NewName: args[1],
			}
			return submitAndWait(ctx, o, req, onConflict)
		},
	}

	cmd.Flags().StringVar(&onConflict, "on-conflict", "", "collision action: skip, overwrite, keepboth or abort")
	return cmd
}
