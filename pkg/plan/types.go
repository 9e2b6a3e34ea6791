// Package plan materializes a user request into an ordered, inspectable
// sequence of atomic filesystem steps. Ordering invariants live here:
// directories are created before anything is written inside them, and
// recursive deletes are emitted bottom-up.
package plan

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/proview/fileops/pkg/conflict"
	"github.com/proview/fileops/pkg/fsentry"
)

// OpKind is the user-intent operation of a Request.
type OpKind int

const (
	OpCopy OpKind = iota
	OpMove
	OpDelete
	OpRename
	OpCreateFolder
)

// String returns a string representation of OpKind.
func (k OpKind) String() string {
	switch k {
	case OpCopy:
		return "copy"
	case OpMove:
		return "move"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpCreateFolder:
		return "create-folder"
	default:
		return "unknown"
	}
}

func (k OpKind) conflictOp() conflict.Op {
	return conflict.Op(k.String())
}

// ParseOpKind is the inverse of OpKind.String.
func ParseOpKind(s string) (OpKind, bool) {
	for _, k := range []OpKind{OpCopy, OpMove, OpDelete, OpRename, OpCreateFolder} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Request is one user intent, immutable once submitted. DestDir is unset
// for Delete, Rename and CreateFolder; NewName is only set for Rename and
// CreateFolder.
type Request struct {
	Op             OpKind
	Sources        []string
	DestDir        string
	NewName        string
	Recursive      bool
	IgnorePatterns []string
}

// StepKind is the atomic action a Step performs.
type StepKind int

const (
	StepCreateDirectory StepKind = iota
	StepCopyFile
	StepDeleteFile
	StepDeleteDirectory
	StepRenameEntry
)

// String returns a string representation of StepKind.
func (k StepKind) String() string {
	switch k {
	case StepCreateDirectory:
		return "create-directory"
	case StepCopyFile:
		return "copy-file"
	case StepDeleteFile:
		return "delete-file"
	case StepDeleteDirectory:
		return "delete-directory"
	case StepRenameEntry:
		return "rename-entry"
	default:
		return "unknown"
	}
}

// ParseStepKind maps a StepKind string back to its value, for plans
// reconstructed from journal records.
func ParseStepKind(s string) (StepKind, bool) {
	for _, k := range []StepKind{
		StepCreateDirectory, StepCopyFile, StepDeleteFile,
		StepDeleteDirectory, StepRenameEntry,
	} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Step is one atomic filesystem action. Steps are self-contained: Source
// and Dest are full absolute paths, so a Step can be executed and journaled
// without any shared mutable context.
//
// Field usage per kind:
//
//	CreateDirectory  Dest
//	CopyFile         Source, Dest, Bytes
//	DeleteFile       Source
//	DeleteDirectory  Source, Recursive
//	RenameEntry      Source, Dest
type Step struct {
	Kind      StepKind
	Source    string
	Dest      string
	Bytes     int64
	Recursive bool

	// Root is the top-level selected source this step descends from, used
	// to report per-item success or failure in the outcome.
	Root string
}

// Path returns the primary path the step mutates.
func (s Step) Path() string {
	if s.Dest != "" {
		return s.Dest
	}
	return s.Source
}

// Plan is the ordered, materialized expansion of one Request. A Plan is
// owned exclusively by its executor for its lifetime.
type Plan struct {
	ID         string
	Request    Request
	Steps      []Step
	TotalBytes int64
}

// newPlanID returns a random 12-hex-char plan identifier.
func newPlanID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// topLevelOnly drops sources that sit inside another selected source, so
// a selection holding both a directory and one of its children does not
// expand the child twice. Order is preserved; duplicates collapse.
func topLevelOnly(sources []string) []string {
	var out []string
	for _, s := range sources {
		keep := true
		for _, other := range sources {
			if other == s {
				continue
			}
			if fsentry.Within(other, s) {
				keep = false
				break
			}
		}
		for _, prev := range out {
			if prev == s {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}
