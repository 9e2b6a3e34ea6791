package commands

import (
	"github.com/proview/fileops/pkg/plan"
	"github.com/spf13/cobra"
)

// NewMkdirCmd creates a new mkdir command
func NewMkdirCmd(newOpts OptsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir PARENT_DIR NAME",
		Short: "Create a new folder, auto-renaming on collision",
		Long: `Mkdir creates NAME inside PARENT_DIR. If the name is taken, a unique
variant such as "New Folder (2)" is chosen instead of failing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			req := plan.Request{
				Op:      plan.OpCreateFolder,
				DestDir: args[0],
				NewName: args[1],
			}
			return submitAndWait(ctx, o, req, "")
		},
	}

	return cmd
}
