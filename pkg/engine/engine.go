// Package engine is the collaborator-facing surface of the file-operation
// core. A UI panel submits Requests here; the engine validates them,
// expands them into plans, and runs each plan on its own worker while the
// caller consumes progress events and, eventually, the outcome.
package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/proview/fileops/pkg/config"
	"github.com/proview/fileops/pkg/conflict"
	"github.com/proview/fileops/pkg/executor"
	"github.com/proview/fileops/pkg/fsentry"
	"github.com/proview/fileops/pkg/journal"
	"github.com/proview/fileops/pkg/plan"
	"github.com/proview/fileops/pkg/progress"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/semaphore"
)

// ChangeNote describes the filesystem regions a finished plan touched.
// Consumers such as a search indexer can use it to re-scan; the engine
// itself does not depend on anyone listening.
type ChangeNote struct {
	PlanID  string
	Op      string
	Roots   []string
	DestDir string
}

// Options configures one submission.
type Options struct {
	// OnProgress receives throttled progress events for the plan.
	OnProgress progress.Consumer

	// Policy answers conflict decisions. When nil, the engine falls back
	// to the configured default; a configured "prompt" without a policy
	// aborts on the first collision rather than guessing.
	Policy conflict.Policy
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotify attaches a change-notification hook fired after every plan
// that mutated the filesystem.
func WithNotify(fn func(ChangeNote)) EngineOption {
	return func(e *Engine) { e.notify = fn }
}

// WithStore overrides the journal store (tests mostly).
func WithStore(store journal.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// Engine coordinates plan construction and execution.
type Engine struct {
	cfg      *config.Config
	store    journal.Store
	resolver *fsentry.Resolver
	exec     *executor.Executor
	notify   func(ChangeNote)

	sem *semaphore.Weighted

	mu      sync.Mutex
	wg      sync.WaitGroup
	tickets map[string]*Ticket
	closed  bool
}

// New creates an Engine. The journal store is opened from the config
// unless overridden by WithStore.
func New(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		resolver: fsentry.NewResolver(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentPlans)),
		tickets:  map[string]*Ticket{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	e.exec = executor.New(e.store, executor.Options{
		ChunkSize:        cfg.CopyChunkSize(),
		ProgressInterval: cfg.ProgressInterval(),
	})
	return e, nil
}

func openStore(cfg *config.Config) (journal.Store, error) {
	switch cfg.JournalBackend {
	case "badger":
		return journal.NewBadgerStore(cfg.JournalPath)
	default:
		return journal.NewFileStore(cfg.JournalPath)
	}
}

// policyFor resolves the effective conflict policy for one submission.
func (e *Engine) policyFor(opts Options) conflict.Policy {
	if opts.Policy != nil {
		return opts.Policy
	}
	switch e.cfg.DefaultFileConflict {
	case "skip":
		return conflict.StaticPolicy{Files: conflict.ActionSkip}
	case "overwrite":
		return conflict.StaticPolicy{Files: conflict.ActionOverwrite}
	case "keepboth":
		return conflict.StaticPolicy{Files: conflict.ActionKeepBoth}
	default:
		return conflict.AbortAll
	}
}

// Submit validates and expands req, then starts its plan on a fresh
// worker. The returned Ticket tracks the running plan; Submit itself
// never blocks on plan execution.
func (e *Engine) Submit(ctx context.Context, req plan.Request, opts Options) (*Ticket, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("engine is closed")
	}
	e.mu.Unlock()

	// Merge into a fresh slice: appending in place could write through to
	// the caller's backing array.
	if len(e.cfg.IgnorePatterns) > 0 {
		merged := make([]string, 0, len(req.IgnorePatterns)+len(e.cfg.IgnorePatterns))
		merged = append(merged, req.IgnorePatterns...)
		merged = append(merged, e.cfg.IgnorePatterns...)
		req.IgnorePatterns = merged
	}

	planner := plan.NewPlanner(
		e.resolver,
		e.policyFor(opts),
		plan.WithFollowSymlinks(e.cfg.FollowSymlinks),
	)
	p, err := planner.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	// The plan outlives the submitting call; keep context values (the
	// logger in particular) but not the caller's cancellation.
	planCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	ticket := &Ticket{
		plan:   p,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Re-check closed: Close may have won the race while the plan was
	// being built, and wg.Add after its Wait would go unseen.
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

func (e *Engine) run(ctx context.Context, ticket *Ticket, opts Options) {
	defer e.wg.Done()
	defer ticket.cancel()

	logger := zerolog.Ctx(ctx)

	// Each plan holds one concurrency slot for its whole run; waiting for
	// a slot is itself cancellable.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		ticket.complete(executor.Outcome{
			PlanID: ticket.plan.ID,
			State:  executor.StateCancelled,
		}, nil)
		return
	}
	defer e.sem.Release(1)

	outcome, err := e.exec.Execute(ctx, ticket.plan, opts.OnProgress)
	ticket.complete(outcome, err)

	e.mu.Lock()
	delete(e.tickets, ticket.plan.ID)
	e.mu.Unlock()

	if e.notify != nil && outcome.State != executor.StateCancelled && len(ticket.plan.Steps) > 0 {
		e.notify(ChangeNote{
			PlanID:  ticket.plan.ID,
			Op:      ticket.plan.Request.Op.String(),
			Roots:   rootsOf(ticket.plan),
			DestDir: ticket.plan.Request.DestDir,
		})
	}

	logger.Debug().
		Str("plan_id", ticket.plan.ID).
		Str("state", string(outcome.State)).
		Msg("ticket closed")
}

func rootsOf(p *plan.Plan) []string {
	seen := map[string]bool{}
	var roots []string
	for _, step := range p.Steps {
		if step.Root != "" && !seen[step.Root] {
			seen[step.Root] = true
			roots = append(roots, step.Root)
		}
	}
	return roots
}

// Prune removes the journal records of an acknowledged plan.
func (e *Engine) Prune(ctx context.Context, planID string) error {
	return e.store.Prune(ctx, planID)
}

// Records exposes the journal rows for one plan, for inspection.
func (e *Engine) Records(ctx context.Context, planID string) ([]journal.Record, error) {
	return e.store.RecordsFor(ctx, planID)
}

// Close waits for in-flight plans and releases the journal store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	return e.store.Close()
}

// Ticket tracks one submitted plan.
type Ticket struct {
	plan   *plan.Plan
	cancel context.CancelFunc

	done    chan struct{}
	outcome executor.Outcome
	err     error
}

// ID returns the plan identifier.
func (t *Ticket) ID() string {
	return t.plan.ID
}

// Plan returns the materialized plan, for inspection before or after the
// run. The engine's worker owns it during execution.
func (t *Ticket) Plan() *plan.Plan {
	return t.plan
}

// Cancel requests cooperative cancellation of the plan.
func (t *Ticket) Cancel() {
	t.cancel()
}

// Wait blocks until the plan reaches a terminal state.
func (t *Ticket) Wait() (executor.Outcome, error) {
	<-t.done
	return t.outcome, t.err
}

// Done exposes completion as a channel for select loops.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

func (t *Ticket) complete(outcome executor.Outcome, err error) {
	t.outcome = outcome
	t.err = err
	close(t.done)
}
