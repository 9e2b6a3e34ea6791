//go:build windows

package fsentry

import (
	"path/filepath"
	"strings"
)

// SameVolume reports whether a and b share a drive. Windows renames cannot
// cross drive letters, so volume identity reduces to the volume name.
func SameVolume(a, b string) (bool, error) {
	return strings.EqualFold(filepath.VolumeName(a), filepath.VolumeName(b)), nil
}

// isVolumeRoot reports whether path is a drive root such as `C:\`.
func isVolumeRoot(path string) bool {
	vol := filepath.VolumeName(path)
	if vol == "" {
		return false
	}
	rest := strings.TrimPrefix(path, vol)
	return rest == "" || rest == string(filepath.Separator)
}
