//go:build !windows

package fsentry

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/proview/fileops/pkg/fserrors"
	"gitlab.com/tozd/go/errors"
)

// SameVolume reports whether a and b live on the same device. Missing
// paths fall back to their nearest existing ancestor, so a not-yet-created
// destination can still be compared against its parent volume.
func SameVolume(a, b string) (bool, error) {
	devA, err := deviceOf(a)
	if err != nil {
		return false, err
	}
	devB, err := deviceOf(b)
	if err != nil {
		return false, err
	}
	return devA == devB, nil
}

func deviceOf(path string) (uint64, error) {
	for {
		info, err := os.Stat(path)
		if err == nil {
			stat, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return 0, errors.Errorf("%w: no stat info for %s", fserrors.ErrInvalidPath, path)
			}
			return uint64(stat.Dev), nil
		}
		if !os.IsNotExist(err) {
			return 0, fserrors.Classify(errors.Errorf("statting %s: %w", path, err))
		}
		parent := filepath.Dir(path)
		if parent == path {
			return 0, errors.Errorf("%w: %s", fserrors.ErrNotFound, path)
		}
		path = parent
	}
}

// isVolumeRoot reports whether path is the filesystem root or a mount
// point (its device differs from its parent's).
func isVolumeRoot(path string) bool {
	if path == "/" {
		return true
	}
	dev, err := deviceOf(path)
	if err != nil {
		return false
	}
	parentDev, err := deviceOf(filepath.Dir(path))
	if err != nil {
		return false
	}
	return dev != parentDev
}
