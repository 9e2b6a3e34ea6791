package commands

import (
	"github.com/proview/fileops/pkg/engine"
	"github.com/proview/fileops/pkg/executor"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

// NewRecoverCmd creates a new recover command
func NewRecoverCmd(newOpts OptsFunc) *cobra.Command {
	var resumeID, discardID string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "List, resume or discard interrupted operations",
		Long: `Recover inspects the journal for plans that never reached a terminal
state, typically after a crash or power loss. Without flags it lists them;
--resume re-runs a plan (already-applied steps are skipped), --discard
abandons it and keeps whatever the interrupted run already did.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}
			defer o.Engine.Close()

			switch {
			case resumeID != "" && discardID != "":
				return errors.New("--resume and --discard are mutually exclusive")

			case resumeID != "":
				ticket, err := o.Engine.Resume(ctx, resumeID, engine.Options{
					OnProgress: progressBar("resume"),
				})
				if err != nil {
					return err
				}
				outcome, err := ticket.Wait()
				if err != nil {
					return err
				}
				if outcome.State == executor.StateCompleted {
					o.UserLogger.Successf("plan %s completed", resumeID)
				} else {
					o.UserLogger.Warningf("plan %s finished as %s", resumeID, outcome.State)
				}
				return nil

			case discardID != "":
				if err := o.Engine.Discard(ctx, discardID); err != nil {
					return err
				}
				o.UserLogger.Successf("plan %s discarded", discardID)
				return nil

			default:
				reports, err := o.Engine.Interrupted(ctx)
				if err != nil {
					return err
				}
				if len(reports) == 0 {
					o.UserLogger.Info("no interrupted operations")
					return nil
				}

				rows := pterm.TableData{{"PLAN", "OP", "COMMITTED", "IN FLIGHT"}}
				for _, r := range reports {
					rows = append(rows, []string{
						r.PlanID,
						r.Op,
						pterm.Sprintf("%d/%d", r.CommittedSteps, r.TotalSteps),
						r.PendingStep,
					})
				}
				return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
			}
		},
	}

	cmd.Flags().StringVar(&resumeID, "resume", "", "plan ID to re-run")
	cmd.Flags().StringVar(&discardID, "discard", "", "plan ID to abandon")
	return cmd
}
