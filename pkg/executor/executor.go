// Package executor runs plans against the real filesystem. Steps execute
// strictly in plan order on a single worker; every step is journaled as
// Pending before any I/O and Committed or Failed after. Cancellation is
// cooperative: checked between steps and at bounded byte intervals inside
// file copies, never in a way that leaves state the journal cannot
// describe.
package executor

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/proview/fileops/pkg/fserrors"
	"github.com/proview/fileops/pkg/journal"
	"github.com/proview/fileops/pkg/metrics"
	"github.com/proview/fileops/pkg/plan"
	"github.com/proview/fileops/pkg/progress"
	"gitlab.com/tozd/go/errors"
)

// State is the terminal state of an executed plan.
type State string

const (
	StateCompleted          State = "completed"
	StatePartiallyCompleted State = "partially-completed"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
)

// StepFailure attributes one error to one step.
type StepFailure struct {
	StepIndex int
	Step      plan.Step
	Err       error
}

// Outcome reports how a plan ended. PartiallyCompleted enumerates exactly
// which steps failed and why; there is never an aggregate "operation
// failed" with the detail thrown away.
type Outcome struct {
	PlanID      string
	State       State
	Failures    []StepFailure
	BytesCopied int64
}

// FailedRoots groups failures by the top-level selected source they
// descend from, for per-item reporting in the UI.
func (o Outcome) FailedRoots() map[string][]StepFailure {
	if len(o.Failures) == 0 {
		return nil
	}
	out := map[string][]StepFailure{}
	for _, f := range o.Failures {
		out[f.Step.Root] = append(out[f.Step.Root], f)
	}
	return out
}

const (
	// defaultChunkSize is the copy loop's read size. Cancellation and
	// progress are both serviced once per chunk.
	defaultChunkSize = 256 * 1024

	// nonDataWeight is the fixed progress weight of steps that move no
	// bytes, so plans made of many small steps still show motion.
	nonDataWeight = 4 * 1024
)

// Options tunes an Executor.
type Options struct {
	// ChunkSize overrides the copy loop read size.
	ChunkSize int

	// ProgressInterval overrides the progress throttle. Zero keeps
	// progress.DefaultInterval; negative disables throttling.
	ProgressInterval time.Duration
}

// Executor runs plans. One Executor is shared across plans; all per-plan
// state lives on the stack of Execute.
type Executor struct {
	store     journal.Store
	chunkSize int
	interval  time.Duration
}

// New creates an Executor backed by the given journal store.
func New(store journal.Store, opts Options) *Executor {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Executor{
		store:     store,
		chunkSize: chunk,
		interval:  opts.ProgressInterval,
	}
}

// Execute runs p to a terminal state. The returned error is non-nil only
// for fatal conditions (journal write failure, volume disconnect);
// per-step failures are reported through the Outcome instead.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, onProgress progress.Consumer) (Outcome, error) {
	logger := zerolog.Ctx(ctx).With().Str("plan_id", p.ID).Logger()
	ctx = logger.WithContext(ctx)

	interval := progress.DefaultInterval
	switch {
	case e.interval > 0:
		interval = e.interval
	case e.interval < 0:
		interval = 0
	}
	emitter := progress.NewEmitter(onProgress, interval)

	run := &planRun{
		exec:          e,
		plan:          p,
		emitter:       emitter,
		totalBytes:    weightedTotal(p),
		skipRoots:     map[string]bool{},
		failedSources: map[string]bool{},
	}

	metrics.PlanStarted()
	outcome, err := run.run(ctx)
	metrics.PlanFinished(string(outcome.State))

	logger.Info().
		Str("state", string(outcome.State)).
		Int("failures", len(outcome.Failures)).
		Int64("bytes_copied", outcome.BytesCopied).
		Msg("plan finished")

	return outcome, err
}

// planRun is the per-plan execution state.
type planRun struct {
	exec       *Executor
	plan       *plan.Plan
	emitter    *progress.Emitter
	totalBytes int64

	bytesDone    int64
	actualCopied int64
	failures     []StepFailure

	// skipRoots holds destination directories whose creation failed;
	// everything planned inside them is skipped rather than attempted.
	skipRoots map[string]bool

	// failedSources holds source paths whose copy or directory creation
	// failed or was skipped. A move's later deletion of such a source, or
	// of any directory still holding one, must not run.
	failedSources map[string]bool
}

func (r *planRun) run(ctx context.Context) (Outcome, error) {
	for i, step := range r.plan.Steps {
		if ctx.Err() != nil {
			return r.finish(ctx, journal.StatusCancelled)
		}

		if skipped := r.skippedByParent(step); skipped != "" {
			err := errors.Errorf("%w: parent directory %s was not created", fserrors.ErrPathChanged, skipped)
			r.recordFailure(ctx, i, step, err)
			r.trackFailedSource(step)
			continue
		}

		if uncopied := r.dependsOnFailedCopy(step); uncopied != "" {
			err := errors.Errorf("%w: %s was not copied", fserrors.ErrPathChanged, uncopied)
			r.recordFailure(ctx, i, step, err)
			continue
		}

		if err := r.exec.store.Append(ctx, journal.StepRecord(r.plan.ID, r.plan.Request.Op.String(), i, step, journal.StatusPending, nil)); err != nil {
			return r.abort(ctx, i, step, err)
		}

		copied, err := r.perform(ctx, i, step)
		r.bytesDone += stepWeight(step, copied)
		r.actualCopied += copied
		metrics.AddBytesCopied(copied)

		switch {
		case err == nil:
			if err := r.exec.store.Append(ctx, journal.StepRecord(r.plan.ID, r.plan.Request.Op.String(), i, step, journal.StatusCommitted, nil)); err != nil {
				return r.abort(ctx, i, step, err)
			}
			metrics.StepFinished(step.Kind.String(), "committed")
			r.emitter.Force(r.event(i, step, false))

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// The in-flight step's partial state was already reverted by
			// perform; journal it as failed and close out the plan.
			if jerr := r.exec.store.Append(ctx, journal.StepRecord(r.plan.ID, r.plan.Request.Op.String(), i, step, journal.StatusFailed, err)); jerr != nil {
				return r.abort(ctx, i, step, jerr)
			}
			metrics.StepFinished(step.Kind.String(), "cancelled")
			return r.finish(ctx, journal.StatusCancelled)

		case fserrors.IsFatal(err):
			return r.abort(ctx, i, step, err)

		default:
			r.recordFailure(ctx, i, step, err)
			if jerr := r.exec.store.Append(ctx, journal.StepRecord(r.plan.ID, r.plan.Request.Op.String(), i, step, journal.StatusFailed, err)); jerr != nil {
				return r.abort(ctx, i, step, jerr)
			}
			if step.Kind == plan.StepCreateDirectory {
				r.skipRoots[step.Dest] = true
			}
			r.trackFailedSource(step)
		}
	}

	if len(r.failures) > 0 {
		return r.finish(ctx, journal.StatusPartiallyCompleted)
	}
	return r.finish(ctx, journal.StatusCompleted)
}

// recordFailure tracks a non-fatal per-step failure without journaling
// (callers journal where appropriate).
func (r *planRun) recordFailure(ctx context.Context, i int, step plan.Step, err error) {
	zerolog.Ctx(ctx).Warn().
		Int("step", i).
		Str("kind", step.Kind.String()).
		Str("path", step.Path()).
		Err(err).
		Msg("step failed")
	metrics.StepFinished(step.Kind.String(), "failed")
	r.failures = append(r.failures, StepFailure{StepIndex: i, Step: step, Err: err})
}

// trackFailedSource remembers the source path of a failed copy or
// directory-creation step so later deletions depending on it are skipped.
func (r *planRun) trackFailedSource(step plan.Step) {
	if step.Source == "" {
		return
	}
	if step.Kind == plan.StepCopyFile || step.Kind == plan.StepCreateDirectory {
		r.failedSources[step.Source] = true
	}
}

// dependsOnFailedCopy returns the uncopied source a deletion step would
// destroy, if any: the deleted path itself when its copy failed, or a
// descendant that never made it to the destination.
func (r *planRun) dependsOnFailedCopy(step plan.Step) string {
	if step.Kind != plan.StepDeleteFile && step.Kind != plan.StepDeleteDirectory {
		return ""
	}
	if r.failedSources[step.Source] {
		return step.Source
	}
	for src := range r.failedSources {
		if strings.HasPrefix(src, step.Source+string(os.PathSeparator)) {
			return src
		}
	}
	return ""
}

// skippedByParent returns the failed ancestor directory of step's writes,
// if any.
func (r *planRun) skippedByParent(step plan.Step) string {
	target := step.Dest
	if target == "" {
		return ""
	}
	for root := range r.skipRoots {
		if target == root || strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return root
		}
	}
	return ""
}

func (r *planRun) finish(ctx context.Context, status journal.Status) (Outcome, error) {
	// The terminal marker is best-effort on the way out: the plan state
	// itself is already decided.
	if err := r.exec.store.Append(ctx, journal.TerminalRecord(r.plan.ID, r.plan.Request.Op.String(), status)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("writing terminal journal record")
	}

	outcome := Outcome{
		PlanID:      r.plan.ID,
		State:       stateFor(status),
		Failures:    r.failures,
		BytesCopied: r.actualCopied,
	}
	r.emitter.Force(progress.Event{
		PlanID:     r.plan.ID,
		StepIndex:  len(r.plan.Steps),
		BytesDone:  r.bytesDone,
		BytesTotal: r.totalBytes,
		Done:       true,
	})
	return outcome, nil
}

func (r *planRun) abort(ctx context.Context, i int, step plan.Step, err error) (Outcome, error) {
	err = fserrors.Classify(err)
	r.recordFailure(ctx, i, step, err)

	// Steps already committed stay as-is: partial progress is worth more
	// than silent reversal, and the recovery protocol surfaces the rest.
	if jerr := r.exec.store.Append(ctx, journal.StepRecord(r.plan.ID, r.plan.Request.Op.String(), i, step, journal.StatusFailed, err)); jerr != nil {
		zerolog.Ctx(ctx).Error().Err(jerr).Msg("journaling aborted step")
	}
	outcome, _ := r.finish(ctx, journal.StatusAborted)
	outcome.State = StateFailed
	return outcome, err
}

func (r *planRun) event(i int, step plan.Step, done bool) progress.Event {
	return progress.Event{
		PlanID:     r.plan.ID,
		StepIndex:  i,
		StepLabel:  step.Kind.String() + " " + step.Path(),
		BytesDone:  r.bytesDone,
		BytesTotal: r.totalBytes,
		Done:       done,
	}
}


func stateFor(status journal.Status) State {
	switch status {
	case journal.StatusCompleted:
		return StateCompleted
	case journal.StatusPartiallyCompleted:
		return StatePartiallyCompleted
	case journal.StatusCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// weightedTotal is the plan's byte total plus a fixed weight per non-data
// step, so progress still moves on plans dominated by renames and deletes.
func weightedTotal(p *plan.Plan) int64 {
	total := p.TotalBytes
	for _, step := range p.Steps {
		if step.Kind != plan.StepCopyFile {
			total += nonDataWeight
		}
	}
	return total
}

func stepWeight(step plan.Step, copied int64) int64 {
	if step.Kind == plan.StepCopyFile {
		return copied
	}
	return nonDataWeight
}
