// Package journal is the append-only durable log of step attempts. It is
// the single source of truth for what has definitely happened versus what
// was only intended: a Pending record is flushed before the corresponding
// filesystem step runs, and a Committed or Failed record lands after.
// On restart, plans with records but no terminal marker are surfaced as
// interrupted operations.
package journal

import (
	"context"
	"time"

	"github.com/proview/fileops/pkg/plan"
)

// Status is the recorded state of one step attempt or plan terminal marker.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"

	// Terminal plan markers. Exactly one lands per finished plan.
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially-completed"
	StatusCancelled          Status = "cancelled"
	StatusAborted            Status = "aborted"
)

// Record is one journal row. Records are append-only and never mutated in
// place; a step's lifecycle shows up as successive rows. Step descriptor
// fields are carried in full so an interrupted plan can be reconstructed
// from its records alone.
type Record struct {
	PlanID    string    `json:"plan_id"`
	Op        string    `json:"op,omitempty"`
	StepIndex int       `json:"step_index"` // -1 for terminal markers
	StepKind  string    `json:"step_kind,omitempty"`
	Source    string    `json:"source,omitempty"`
	Dest      string    `json:"dest,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Recursive bool      `json:"recursive,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Terminal reports whether the record is a plan terminal marker rather
// than a step row.
func (r Record) Terminal() bool {
	return r.StepIndex < 0
}

// StepRecord builds a step row for the given plan step.
func StepRecord(planID, op string, index int, step plan.Step, status Status, stepErr error) Record {
	rec := Record{
		PlanID:    planID,
		Op:        op,
		StepIndex: index,
		StepKind:  step.Kind.String(),
		Source:    step.Source,
		Dest:      step.Dest,
		Bytes:     step.Bytes,
		Recursive: step.Recursive,
		Status:    status,
		At:        time.Now().UTC(),
	}
	if stepErr != nil {
		rec.Error = stepErr.Error()
	}
	return rec
}

// TerminalRecord builds the single marker row that finishes a plan.
func TerminalRecord(planID, op string, status Status) Record {
	return Record{
		PlanID:    planID,
		Op:        op,
		StepIndex: -1,
		Status:    status,
		At:        time.Now().UTC(),
	}
}

// Store persists records. Append must be durable before it returns: the
// executor treats a successful Append as permission to mutate the
// filesystem. Stores are safe for concurrent appends from multiple plan
// workers.
type Store interface {
	Append(ctx context.Context, rec Record) error
	RecordsFor(ctx context.Context, planID string) ([]Record, error)
	Interrupted(ctx context.Context) ([]string, error)
	Prune(ctx context.Context, planID string) error
	Close() error
}
