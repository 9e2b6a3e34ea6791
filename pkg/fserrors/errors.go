// Package fserrors defines the error taxonomy shared by the file-operation
// engine. Every failure surfaced by the planner or executor is classified
// onto one of these base errors so callers can branch on errors.Is instead
// of string matching.
package fserrors

import (
	"io/fs"
	"syscall"

	"gitlab.com/tozd/go/errors"
)

var (
	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidPath indicates a malformed or unresolvable path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrCyclicSymlink indicates a symlink chain that loops back on itself.
	ErrCyclicSymlink = errors.New("cyclic symlink")

	// ErrCrossVolume indicates an operation that cannot span volumes
	// (a plain rename across devices).
	ErrCrossVolume = errors.New("cross-volume operation unsupported")

	// ErrDiskFull indicates the destination volume ran out of space.
	ErrDiskFull = errors.New("disk full")

	// ErrConflictUnresolved indicates a destination collision the policy
	// refused to resolve.
	ErrConflictUnresolved = errors.New("destination conflict unresolved")

	// ErrDirectoryNotEmpty indicates a non-recursive delete of a directory
	// that still has children.
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrPathChanged indicates the live filesystem no longer matches the
	// snapshot a step was planned against.
	ErrPathChanged = errors.New("path changed since planning")

	// ErrEmptySelection indicates a request with no source entries.
	ErrEmptySelection = errors.New("empty selection")

	// ErrIncompatibleRoots indicates a destination that overlaps its own
	// source tree, so the request cannot be expanded.
	ErrIncompatibleRoots = errors.New("destination overlaps source tree")

	// ErrCycleDetected indicates directory traversal revisited a directory.
	ErrCycleDetected = errors.New("directory cycle detected")

	// ErrVolumeDisconnected is fatal: the underlying device went away
	// mid-operation.
	ErrVolumeDisconnected = errors.New("volume disconnected")

	// ErrJournalWrite is fatal: the journal could not be made durable, so
	// no further filesystem mutation is safe.
	ErrJournalWrite = errors.New("journal write failed")
)

// IsFatal reports whether err must abort the whole plan instead of being
// attributed to a single step.
func IsFatal(err error) bool {
	return errors.Is(err, ErrVolumeDisconnected) || errors.Is(err, ErrJournalWrite)
}

// Classify wraps a raw I/O error with the matching taxonomy error. Errors
// that already carry a taxonomy base, and nil, pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isClassified(err):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return errors.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return errors.Errorf("%w: %w", ErrAccessDenied, err)
	case errors.Is(err, syscall.ENOSPC):
		return errors.Errorf("%w: %w", ErrDiskFull, err)
	case errors.Is(err, syscall.ELOOP):
		return errors.Errorf("%w: %w", ErrCyclicSymlink, err)
	case errors.Is(err, syscall.EXDEV):
		return errors.Errorf("%w: %w", ErrCrossVolume, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		return errors.Errorf("%w: %w", ErrDirectoryNotEmpty, err)
	case errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO), errors.Is(err, syscall.EIO):
		return errors.Errorf("%w: %w", ErrVolumeDisconnected, err)
	default:
		return err
	}
}

func isClassified(err error) bool {
	for _, base := range []error{
		ErrNotFound, ErrAccessDenied, ErrInvalidPath, ErrCyclicSymlink,
		ErrCrossVolume, ErrDiskFull, ErrConflictUnresolved,
		ErrDirectoryNotEmpty, ErrPathChanged, ErrEmptySelection,
		ErrIncompatibleRoots, ErrCycleDetected, ErrVolumeDisconnected,
		ErrJournalWrite,
	} {
		if errors.Is(err, base) {
			return true
		}
	}
	return false
}
