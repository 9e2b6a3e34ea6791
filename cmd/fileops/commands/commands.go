// Package commands holds the fileops subcommands. Each command builds its
// dependencies through an OptsFunc so that help output and flag errors
// never open the journal store.
package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/proview/fileops/cmd/fileops/opts"
	"github.com/proview/fileops/pkg/conflict"
	"github.com/proview/fileops/pkg/engine"
	"github.com/proview/fileops/pkg/executor"
	"github.com/proview/fileops/pkg/log"
	"github.com/proview/fileops/pkg/plan"
	"github.com/proview/fileops/pkg/progress"
	"github.com/pterm/pterm"
	"gitlab.com/tozd/go/errors"
)

// OptsFunc lazily constructs the shared command dependencies.
type OptsFunc func(ctx context.Context) (*opts.RootOpts, error)

// policyFromFlag maps the --on-conflict flag to a policy. An empty flag
// returns nil so the engine falls back to the configured default.
func policyFromFlag(onConflict string) (conflict.Policy, error) {
	switch onConflict {
	case "":
		return nil, nil
	case "skip":
		return conflict.StaticPolicy{Files: conflict.ActionSkip}, nil
	case "overwrite":
		return conflict.StaticPolicy{Files: conflict.ActionOverwrite}, nil
	case "keepboth":
		return conflict.StaticPolicy{Files: conflict.ActionKeepBoth}, nil
	case "abort":
		return conflict.AbortAll, nil
	default:
		return nil, errors.Errorf("unknown conflict action %q (want skip, overwrite, keepboth or abort)", onConflict)
	}
}

// progressBar renders plan progress as a pterm bar. Events for one plan
// arrive sequentially from a single worker, so no locking is needed.
func progressBar(title string) progress.Consumer {
	var bar *pterm.ProgressbarPrinter
	var last int64
	return func(ev progress.Event) {
		if bar == nil {
			started, err := pterm.DefaultProgressbar.
				WithTotal(int(ev.BytesTotal)).
				WithTitle(title).
				WithShowCount(false).
				Start()
			if err != nil {
				return
			}
			bar = started
		}
		if delta := ev.BytesDone - last; delta > 0 {
			bar.Add(int(delta))
			last = ev.BytesDone
		}
		if ev.StepLabel != "" {
			bar.UpdateTitle(fmt.Sprintf("%s · %s", title, filepath.Base(ev.StepLabel)))
		}
		if ev.Done {
			_, _ = bar.Stop()
		}
	}
}

// submitAndWait runs one request to completion and reports the outcome to
// the user logger.
func submitAndWait(ctx context.Context, o *opts.RootOpts, req plan.Request, onConflict string) error {
	defer o.Engine.Close()

	policy, err := policyFromFlag(onConflict)
	if err != nil {
		return err
	}

	ticket, err := o.Engine.Submit(ctx, req, engine.Options{
		OnProgress: progressBar(req.Op.String()),
		Policy:     policy,
	})
	if err != nil {
		return err
	}

	o.UserLogger.StartPlanOperation(ctx, log.PlanOperation{
		ID:          ticket.ID(),
		Op:          req.Op.String(),
		Destination: req.DestDir,
		Steps:       len(ticket.Plan().Steps),
	})
	defer o.UserLogger.EndPlanOperation(ctx)

	// Forward Ctrl-C to the running plan.
	go func() {
		select {
		case <-ctx.Done():
			ticket.Cancel()
		case <-ticket.Done():
		}
	}()

	outcome, err := ticket.Wait()
	if err != nil {
		return err
	}

	switch outcome.State {
	case executor.StateCompleted:
		o.UserLogger.Successf("%s completed (%d steps)", req.Op.String(), len(ticket.Plan().Steps))
	case executor.StatePartiallyCompleted:
		o.UserLogger.Warningf("%s partially completed: %d step(s) failed", req.Op.String(), len(outcome.Failures))
		for _, f := range outcome.Failures {
			o.UserLogger.LogStepOperation(ctx, log.StepOperation{
				Path:   f.Step.Path(),
				Kind:   f.Step.Kind.String(),
				Status: "failed",
				Failed: true,
			})
			o.UserLogger.Errorf("  %v", f.Err)
		}
	case executor.StateCancelled:
		o.UserLogger.Warningf("%s cancelled", req.Op.String())
	}
	return nil
}
