// Package conflict decides what happens when a destination already holds
// an entry with the incoming name. Decisions come either from a declarative
// policy or from a synchronous callback to the originating collaborator;
// the resolver never guesses silently.
package conflict

import (
	"context"

	"github.com/proview/fileops/pkg/fsentry"
)

// Action is the resolution applied to one colliding destination path.
type Action int

const (
	// ActionSkip leaves the existing entry alone and drops the incoming one.
	ActionSkip Action = iota
	// ActionOverwrite replaces the existing entry.
	ActionOverwrite
	// ActionKeepBoth renames the incoming entry to a collision-free name.
	ActionKeepBoth
	// ActionAbort fails plan construction.
	ActionAbort
)

// String returns a string representation of Action.
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionOverwrite:
		return "overwrite"
	case ActionKeepBoth:
		return "keep-both"
	case ActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Op names the requesting operation kind, matching plan.OpKind.String().
type Op string

const (
	OpCopy         Op = "copy"
	OpMove         Op = "move"
	OpDelete       Op = "delete"
	OpRename       Op = "rename"
	OpCreateFolder Op = "create-folder"
)

// Decision resolves one collision. NewName optionally seeds keep-both
// naming; when empty the planner derives it from the colliding name.
type Decision struct {
	Action  Action
	NewName string
}

// Policy decides collisions. Decide is called from the plan worker and may
// block it (a prompt shown to the user); it must never be called from, or
// block, another plan's worker.
type Policy interface {
	Decide(ctx context.Context, existing fsentry.Entry, incomingName string, op Op) (Decision, error)
}

// DeciderFunc adapts a plain function to Policy. This is how a UI panel
// supplies per-file prompts.
type DeciderFunc func(ctx context.Context, existing fsentry.Entry, incomingName string, op Op) (Decision, error)

// Decide implements Policy.
func (f DeciderFunc) Decide(ctx context.Context, existing fsentry.Entry, incomingName string, op Op) (Decision, error) {
	return f(ctx, existing, incomingName, op)
}

// StaticPolicy resolves every file collision with the same action.
// Directories always merge and never reach the policy.
type StaticPolicy struct {
	Files Action
}

// Decide implements Policy.
func (p StaticPolicy) Decide(ctx context.Context, existing fsentry.Entry, incomingName string, op Op) (Decision, error) {
	return Decision{Action: p.Files}, nil
}

// AbortAll fails every collision. It is the default when no policy is
// configured and no decider callback was supplied: guessing is worse than
// refusing.
var AbortAll Policy = StaticPolicy{Files: ActionAbort}
