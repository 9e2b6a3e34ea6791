package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// NewJournalCmd creates a new journal command
func NewJournalCmd(newOpts OptsFunc) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "journal PLAN_ID",
		Short: "Inspect the journal records of one plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}
			defer o.Engine.Close()

			planID := args[0]
			if prune {
				if err := o.Engine.Prune(ctx, planID); err != nil {
					return err
				}
				o.UserLogger.Successf("journal records for %s pruned", planID)
				return nil
			}

			recs, err := o.Engine.Records(ctx, planID)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				o.UserLogger.Warningf("no journal records for %s", planID)
				return nil
			}

			rows := pterm.TableData{{"STEP", "KIND", "STATUS", "PATH", "ERROR"}}
			for _, rec := range recs {
				step := "terminal"
				path := ""
				if !rec.Terminal() {
					step = pterm.Sprintf("%d", rec.StepIndex)
					path = rec.Dest
					if path == "" {
						path = rec.Source
					}
				}
				rows = append(rows, []string{step, rec.StepKind, string(rec.Status), path, rec.Error})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "delete the plan's records after acknowledging them")
	return cmd
}
