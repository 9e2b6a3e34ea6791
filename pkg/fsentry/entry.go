// Package fsentry resolves raw filesystem paths into classified Entry
// snapshots and answers volume-relationship questions for the planner and
// executor. Entries are point-in-time snapshots, never live handles: the
// executor re-validates them against the live filesystem before mutating.
package fsentry

import (
	"os"
	"time"
)

// Kind classifies a filesystem entry.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindDriveRoot
)

// String returns a string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindDriveRoot:
		return "drive-root"
	default:
		return "unknown"
	}
}

// Entry is an immutable snapshot of one filesystem entry. Identity is the
// absolute path; everything else reflects the filesystem at resolve time
// and is expected to go stale.
type Entry struct {
	AbsPath string
	Kind    Kind
	Size    int64
	ModTime time.Time
	Exists  bool
}

// IsDir reports whether the snapshot classified the entry as a directory
// or a drive root.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory || e.Kind == KindDriveRoot
}

// Stale reports whether the live FileInfo no longer matches this snapshot.
// A nil info means the entry disappeared.
func (e Entry) Stale(info os.FileInfo) bool {
	if info == nil {
		return e.Exists
	}
	if !e.Exists {
		return true
	}
	if kindOf(info) != e.Kind && e.Kind != KindDriveRoot {
		return true
	}
	if e.Kind == KindFile && (info.Size() != e.Size || !info.ModTime().Equal(e.ModTime)) {
		return true
	}
	return false
}

func kindOf(info os.FileInfo) Kind {
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDirectory
	default:
		return KindFile
	}
}
