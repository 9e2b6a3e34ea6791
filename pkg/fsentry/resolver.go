package fsentry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/proview/fileops/pkg/fserrors"
	"gitlab.com/tozd/go/errors"
)

// maxSymlinkHops bounds explicit symlink following. Matches the usual
// kernel limit so a looping chain is reported instead of spinning.
const maxSymlinkHops = 40

// Resolver normalizes and classifies filesystem paths.
type Resolver struct{}

// NewResolver creates a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve normalizes raw into an absolute path and classifies it without
// following symlinks. A missing path yields an Entry with Exists=false
// and no error; malformed input fails with ErrInvalidPath.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Entry, error) {
	abs, err := r.Normalize(raw)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{AbsPath: abs}, nil
		}
		return Entry{}, fserrors.Classify(errors.Errorf("resolving %s: %w", abs, err))
	}

	entry := Entry{
		AbsPath: abs,
		Kind:    kindOf(info),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Exists:  true,
	}
	if entry.Kind == KindDirectory && isVolumeRoot(abs) {
		entry.Kind = KindDriveRoot
	}

	zerolog.Ctx(ctx).Trace().
		Str("path", abs).
		Str("kind", entry.Kind.String()).
		Msg("resolved entry")

	return entry, nil
}

// MustExist is Resolve with a NotFound failure for missing paths.
func (r *Resolver) MustExist(ctx context.Context, raw string) (Entry, error) {
	entry, err := r.Resolve(ctx, raw)
	if err != nil {
		return Entry{}, err
	}
	if !entry.Exists {
		return Entry{}, errors.Errorf("%w: %s", fserrors.ErrNotFound, entry.AbsPath)
	}
	return entry, nil
}

// ResolveFollow resolves raw and, when it names a symlink, follows the
// chain to the final target. Cycles and over-long chains fail with
// ErrCyclicSymlink. This is the explicit opt-in used by the planner when
// expanding directory contents.
func (r *Resolver) ResolveFollow(ctx context.Context, raw string) (Entry, error) {
	entry, err := r.Resolve(ctx, raw)
	if err != nil || !entry.Exists || entry.Kind != KindSymlink {
		return entry, err
	}

	seen := map[string]bool{entry.AbsPath: true}
	current := entry.AbsPath
	for hop := 0; hop < maxSymlinkHops; hop++ {
		target, err := os.Readlink(current)
		if err != nil {
			return Entry{}, fserrors.Classify(errors.Errorf("reading link %s: %w", current, err))
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		target = filepath.Clean(target)
		if seen[target] {
			return Entry{}, errors.Errorf("%w: %s", fserrors.ErrCyclicSymlink, raw)
		}
		seen[target] = true

		next, err := r.Resolve(ctx, target)
		if err != nil {
			return Entry{}, err
		}
		if next.Kind != KindSymlink || !next.Exists {
			return next, nil
		}
		current = next.AbsPath
	}
	return Entry{}, errors.Errorf("%w: %s", fserrors.ErrCyclicSymlink, raw)
}

// Normalize cleans separators and dot segments and makes raw absolute.
// It never touches the filesystem.
func (r *Resolver) Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.Errorf("%w: empty path", fserrors.ErrInvalidPath)
	}
	if strings.ContainsRune(raw, 0) {
		return "", errors.Errorf("%w: NUL byte in path", fserrors.ErrInvalidPath)
	}

	abs, err := filepath.Abs(filepath.FromSlash(raw))
	if err != nil {
		return "", errors.Errorf("%w: %s: %s", fserrors.ErrInvalidPath, raw, err.Error())
	}
	return filepath.Clean(abs), nil
}

// Within reports whether path sits inside (or equals) root. Both inputs
// must already be normalized absolute paths.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
