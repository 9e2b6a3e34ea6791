package engine

import (
	"context"
	"sort"

	"github.com/proview/fileops/pkg/journal"
	"github.com/proview/fileops/pkg/plan"
	"gitlab.com/tozd/go/errors"
)

// RecoveryReport summarizes one interrupted plan found in the journal at
// startup. The caller decides per plan whether to Resume or Discard.
type RecoveryReport struct {
	PlanID         string
	Op             string
	TotalSteps     int
	CommittedSteps int
	PendingStep    string // label of the last step that was in flight, if any
}

// Interrupted scans the journal for plans that have step records but no
// terminal marker. Plans currently running in this process are excluded.
func (e *Engine) Interrupted(ctx context.Context) ([]RecoveryReport, error) {
	ids, err := e.store.Interrupted(ctx)
	if err != nil {
		return nil, err
	}

	var reports []RecoveryReport
	for _, id := range ids {
		e.mu.Lock()
		_, running := e.tickets[id]
		e.mu.Unlock()
		if running {
			continue
		}

		recs, err := e.store.RecordsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		reports = append(reports, summarize(id, recs))
	}
	return reports, nil
}

func summarize(planID string, recs []journal.Record) RecoveryReport {
	report := RecoveryReport{PlanID: planID}
	committed := map[int]bool{}
	maxIndex := -1
	for _, rec := range recs {
		if rec.Terminal() {
			continue
		}
		if report.Op == "" {
			report.Op = rec.Op
		}
		if rec.StepIndex > maxIndex {
			maxIndex = rec.StepIndex
		}
		switch rec.Status {
		case journal.StatusCommitted:
			committed[rec.StepIndex] = true
		case journal.StatusPending:
			report.PendingStep = rec.StepKind + " " + pathOf(rec)
		}
	}
	report.TotalSteps = maxIndex + 1
	report.CommittedSteps = len(committed)
	return report
}

func pathOf(rec journal.Record) string {
	if rec.Dest != "" {
		return rec.Dest
	}
	return rec.Source
}

// Resume rebuilds an interrupted plan from its journal records and re-runs
// it. Steps already committed are detected as applied and skipped by the
// executor, so resuming is safe after a crash at any point.
func (e *Engine) Resume(ctx context.Context, planID string, opts Options) (*Ticket, error) {
	recs, err := e.store.RecordsFor(ctx, planID)
	if err != nil {
		return nil, err
	}
	p, err := rebuild(planID, recs)
	if err != nil {
		return nil, err
	}

	planCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ticket := &Ticket{
		plan:   p,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil, errors.New("engine is closed")
	}
	e.tickets[p.ID] = ticket
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(planCtx, ticket, opts)
	return ticket, nil
}

// rebuild reconstructs a Plan from its step records. Every step was fully
// described when its Pending row was written, so the records alone carry
// enough to re-execute.
func rebuild(planID string, recs []journal.Record) (*plan.Plan, error) {
	byIndex := map[int]journal.Record{}
	op := ""
	for _, rec := range recs {
		if rec.Terminal() {
			return nil, errors.Errorf("plan %s already reached a terminal state", planID)
		}
		if op == "" {
			op = rec.Op
		}
		byIndex[rec.StepIndex] = rec
	}
	if len(byIndex) == 0 {
		return nil, errors.Errorf("no journal records for plan %s", planID)
	}

	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	opKind, ok := plan.ParseOpKind(op)
	if !ok {
		return nil, errors.Errorf("journal for plan %s carries unknown operation %q", planID, op)
	}

	p := &plan.Plan{
		ID:      planID,
		Request: plan.Request{Op: opKind},
	}
	for _, i := range indexes {
		rec := byIndex[i]
		kind, ok := plan.ParseStepKind(rec.StepKind)
		if !ok {
			return nil, errors.Errorf("journal for plan %s carries unknown step kind %q", planID, rec.StepKind)
		}
		p.Steps = append(p.Steps, plan.Step{
			Kind:      kind,
			Source:    rec.Source,
			Dest:      rec.Dest,
			Bytes:     rec.Bytes,
			Recursive: rec.Recursive,
		})
		if kind == plan.StepCopyFile {
			p.TotalBytes += rec.Bytes
		}
	}
	return p, nil
}

// Discard abandons an interrupted plan: a terminal marker is written so the
// plan stops showing up as interrupted, then its records are pruned. Any
// filesystem changes the plan already made are left in place.
func (e *Engine) Discard(ctx context.Context, planID string) error {
	recs, err := e.store.RecordsFor(ctx, planID)
	if err != nil {
		return err
	}
	op := ""
	for _, rec := range recs {
		if rec.Terminal() {
			return e.store.Prune(ctx, planID)
		}
		if op == "" {
			op = rec.Op
		}
	}
	if err := e.store.Append(ctx, journal.TerminalRecord(planID, op, journal.StatusAborted)); err != nil {
		return err
	}
	return e.store.Prune(ctx, planID)
}
