package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExistsFunc reports whether name collides in the destination directory.
type ExistsFunc func(name string) bool

// KeepBothName generates a collision-free variant of name inside dir by
// suffixing a counter before the extension: `a.txt` becomes `a (1).txt`,
// then `a (2).txt`, and so on. The generated name is re-checked against
// the destination and regenerated on collision rather than failing.
func KeepBothName(dir, name string, exists ExistsFunc) string {
	if exists == nil {
		exists = func(candidate string) bool {
			_, err := os.Lstat(filepath.Join(dir, candidate))
			return err == nil
		}
	}
	if !exists(name) {
		return name
	}

	stem, ext := splitName(name)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

// splitName splits a file name into stem and extension. Dotfiles such as
// `.gitignore` keep the whole name as the stem.
func splitName(name string) (string, string) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		return name, ""
	}
	return stem, ext
}
