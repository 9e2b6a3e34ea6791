package plan

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/proview/fileops/pkg/conflict"
	"github.com/proview/fileops/pkg/fserrors"
	"github.com/proview/fileops/pkg/fsentry"
	"gitlab.com/tozd/go/errors"
)

// Planner expands Requests into Plans. It consults the conflict policy for
// every destination collision while building, so an accepted Plan carries
// no unresolved decisions.
type Planner struct {
	resolver   *fsentry.Resolver
	policy     conflict.Policy
	sameVolume func(a, b string) (bool, error)
	follow     bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithSameVolumeFunc overrides volume detection, mainly for tests that need
// to force the cross-volume path on a single-device machine.
func WithSameVolumeFunc(fn func(a, b string) (bool, error)) Option {
	return func(p *Planner) { p.sameVolume = fn }
}

// WithFollowSymlinks makes directory expansion descend through symlinked
// directories. Cycle detection applies either way.
func WithFollowSymlinks(follow bool) Option {
	return func(p *Planner) { p.follow = follow }
}

// NewPlanner creates a Planner. A nil policy aborts on every collision.
func NewPlanner(resolver *fsentry.Resolver, policy conflict.Policy, opts ...Option) *Planner {
	if policy == nil {
		policy = conflict.AbortAll
	}
	p := &Planner{
		resolver:   resolver,
		policy:     policy,
		sameVolume: fsentry.SameVolume,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build expands req into a Plan. Expansion touches the filesystem only to
// read (stat, list); nothing is mutated until the executor runs the Plan.
func (p *Planner) Build(ctx context.Context, req Request) (*Plan, error) {
	logger := zerolog.Ctx(ctx)

	b := &builder{
		planner: p,
		req:     req,
		visited: map[string]bool{},
		claimed: map[string]bool{},
		moved:   map[string]bool{},
	}

	var err error
	switch req.Op {
	case OpCopy:
		err = b.buildCopy(ctx)
	case OpMove:
		err = b.buildMove(ctx)
	case OpDelete:
		err = b.buildDelete(ctx)
	case OpRename:
		err = b.buildRename(ctx)
	case OpCreateFolder:
		err = b.buildCreateFolder(ctx)
	default:
		err = errors.Errorf("%w: unknown operation", fserrors.ErrInvalidPath)
	}
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:         newPlanID(),
		Request:    req,
		Steps:      b.steps,
		TotalBytes: b.total,
	}

	logger.Debug().
		Str("plan_id", plan.ID).
		Str("op", req.Op.String()).
		Int("steps", len(plan.Steps)).
		Int64("bytes", plan.TotalBytes).
		Msg("plan built")

	return plan, nil
}

// builder accumulates steps for one Build call.
type builder struct {
	planner *Planner
	req     Request
	steps   []Step
	total   int64

	// visited holds physical directory paths already expanded, to reject
	// symlink cycles.
	visited map[string]bool

	// claimed holds destination paths already produced by earlier steps of
	// this plan, so keep-both naming cannot collide with the plan itself.
	claimed map[string]bool

	// moved holds source paths a copy step was actually scheduled for.
	// Move deletions consult it: a source the policy skipped must never
	// be deleted, and a directory is deleted only when everything inside
	// it was scheduled.
	moved map[string]bool
}

func (b *builder) emit(s Step) {
	b.steps = append(b.steps, s)
	if s.Dest != "" {
		b.claimed[s.Dest] = true
	}
	if s.Kind == StepCopyFile {
		b.total += s.Bytes
	}
}

// sources normalizes, deduplicates and existence-checks the request's
// selection, dropping entries nested inside other selected entries.
func (b *builder) sources(ctx context.Context) ([]fsentry.Entry, error) {
	if len(b.req.Sources) == 0 {
		return nil, errors.Errorf("%w: request has no sources", fserrors.ErrEmptySelection)
	}

	normalized := make([]string, 0, len(b.req.Sources))
	for _, raw := range b.req.Sources {
		abs, err := b.planner.resolver.Normalize(raw)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, abs)
	}

	var entries []fsentry.Entry
	for _, abs := range topLevelOnly(normalized) {
		if b.ignored(abs) {
			continue
		}
		entry, err := b.planner.resolver.MustExist(ctx, abs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, errors.Errorf("%w: every source was filtered out", fserrors.ErrEmptySelection)
	}
	return entries, nil
}

func (b *builder) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range b.req.IgnorePatterns {
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, filepath.ToSlash(path)); err == nil && ok {
			return true
		}
	}
	return false
}

// destDir validates the request's destination directory and guards against
// a destination nested inside one of the sources.
func (b *builder) destDir(ctx context.Context, sources []fsentry.Entry) (string, error) {
	dest, err := b.planner.resolver.MustExist(ctx, b.req.DestDir)
	if err != nil {
		return "", err
	}
	if !dest.IsDir() {
		return "", errors.Errorf("%w: destination %s is not a directory", fserrors.ErrInvalidPath, dest.AbsPath)
	}
	for _, src := range sources {
		if src.IsDir() && fsentry.Within(src.AbsPath, dest.AbsPath) {
			return "", errors.Errorf("%w: %s is inside %s", fserrors.ErrIncompatibleRoots, dest.AbsPath, src.AbsPath)
		}
	}
	return dest.AbsPath, nil
}

// exists reports destination collisions, counting paths this plan already
// claims as occupied.
func (b *builder) exists(path string) bool {
	if b.claimed[path] {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}

// decide asks the conflict policy about one collision. Directories merging
// into directories never reach the policy.
func (b *builder) decide(ctx context.Context, existing fsentry.Entry, name string) (conflict.Decision, error) {
	decision, err := b.planner.policy.Decide(ctx, existing, name, b.req.Op.conflictOp())
	if err != nil {
		return conflict.Decision{}, errors.Errorf("conflict decision for %s: %w", existing.AbsPath, err)
	}
	if decision.Action == conflict.ActionAbort {
		return conflict.Decision{}, errors.Errorf("%w: %s", fserrors.ErrConflictUnresolved, existing.AbsPath)
	}
	if decision.Action == conflict.ActionKeepBoth && decision.NewName == "" {
		decision.NewName = name
	}
	return decision, nil
}

// buildCopy expands Copy requests.
func (b *builder) buildCopy(ctx context.Context) error {
	sources, err := b.sources(ctx)
	if err != nil {
		return err
	}
	destDir, err := b.destDir(ctx, sources)
	if err != nil {
		return err
	}

	for _, src := range sources {
		if _, err := b.copyEntry(ctx, src, destDir, src.AbsPath); err != nil {
			return err
		}
	}
	return nil
}

// copyEntry emits the steps that materialize src under destDir. It returns
// false when the conflict policy skipped the entry.
func (b *builder) copyEntry(ctx context.Context, src fsentry.Entry, destDir, root string) (bool, error) {
	if b.ignored(src.AbsPath) {
		return false, nil
	}

	name := filepath.Base(src.AbsPath)

	effective := src
	if src.Kind == fsentry.KindSymlink && b.planner.follow {
		target, err := b.planner.resolver.ResolveFollow(ctx, src.AbsPath)
		if err != nil {
			return false, err
		}
		effective = target
		effective.AbsPath = src.AbsPath
	}

	if effective.IsDir() {
		return b.copyDirectory(ctx, effective, destDir, name, root)
	}
	return b.copyFile(ctx, effective, destDir, name, root)
}

func (b *builder) copyFile(ctx context.Context, src fsentry.Entry, destDir, name, root string) (bool, error) {
	dstPath := filepath.Join(destDir, name)

	if b.exists(dstPath) {
		existing, err := b.planner.resolver.Resolve(ctx, dstPath)
		if err != nil {
			return false, err
		}
		decision, err := b.decide(ctx, existing, name)
		if err != nil {
			return false, err
		}
		switch decision.Action {
		case conflict.ActionSkip:
			return false, nil
		case conflict.ActionOverwrite:
			if existing.IsDir() {
				b.emit(Step{Kind: StepDeleteDirectory, Source: dstPath, Recursive: true, Root: root})
			} else if existing.Exists {
				b.emit(Step{Kind: StepDeleteFile, Source: dstPath, Root: root})
			}
		case conflict.ActionKeepBoth:
			name = conflict.KeepBothName(destDir, decision.NewName, b.existsIn(destDir))
			dstPath = filepath.Join(destDir, name)
		}
	}

	b.emit(Step{
		Kind:   StepCopyFile,
		Source: src.AbsPath,
		Dest:   dstPath,
		Bytes:  src.Size,
		Root:   root,
	})
	b.moved[src.AbsPath] = true
	return true, nil
}

func (b *builder) copyDirectory(ctx context.Context, src fsentry.Entry, destDir, name, root string) (bool, error) {
	dstPath := filepath.Join(destDir, name)

	if b.exists(dstPath) {
		existing, err := b.planner.resolver.Resolve(ctx, dstPath)
		if err != nil {
			return false, err
		}
		// Directory onto directory merges without a decision; anything
		// else is a collision the policy must resolve.
		if existing.Exists && !existing.IsDir() {
			decision, err := b.decide(ctx, existing, name)
			if err != nil {
				return false, err
			}
			switch decision.Action {
			case conflict.ActionSkip:
				return false, nil
			case conflict.ActionOverwrite:
				b.emit(Step{Kind: StepDeleteFile, Source: dstPath, Root: root})
			case conflict.ActionKeepBoth:
				name = conflict.KeepBothName(destDir, decision.NewName, b.existsIn(destDir))
				dstPath = filepath.Join(destDir, name)
			}
		}
	}

	physical, err := b.physicalPath(src.AbsPath)
	if err != nil {
		return false, err
	}
	if b.visited[physical] {
		return false, errors.Errorf("%w: %s", fserrors.ErrCycleDetected, src.AbsPath)
	}
	b.visited[physical] = true

	// Parent before children: the create step lands before anything that
	// writes inside dstPath.
	b.emit(Step{Kind: StepCreateDirectory, Source: src.AbsPath, Dest: dstPath, Root: root})

	children, err := os.ReadDir(src.AbsPath)
	if err != nil {
		return false, fserrors.Classify(errors.Errorf("listing %s: %w", src.AbsPath, err))
	}
	full := true
	for _, child := range children {
		entry, err := b.planner.resolver.Resolve(ctx, filepath.Join(src.AbsPath, child.Name()))
		if err != nil {
			return false, err
		}
		if !entry.Exists {
			continue
		}
		copied, err := b.copyEntry(ctx, entry, dstPath, root)
		if err != nil {
			return false, err
		}
		if !copied {
			full = false
		}
	}
	if full {
		b.moved[src.AbsPath] = true
	}
	return full, nil
}

// existsIn adapts builder.exists to the conflict package's per-directory
// signature.
func (b *builder) existsIn(dir string) conflict.ExistsFunc {
	return func(name string) bool {
		return b.exists(filepath.Join(dir, name))
	}
}

// physicalPath returns the symlink-free identity of a directory, used as
// the cycle-detection key.
func (b *builder) physicalPath(path string) (string, error) {
	if !b.planner.follow {
		return path, nil
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fserrors.Classify(errors.Errorf("resolving %s: %w", path, err))
	}
	return resolved, nil
}

// buildMove prefers a single rename per top-level source when source and
// destination share a volume; otherwise it degrades to copy plus bottom-up
// delete.
func (b *builder) buildMove(ctx context.Context) error {
	sources, err := b.sources(ctx)
	if err != nil {
		return err
	}
	destDir, err := b.destDir(ctx, sources)
	if err != nil {
		return err
	}

	for _, src := range sources {
		same, err := b.planner.sameVolume(src.AbsPath, destDir)
		if err != nil {
			return err
		}
		if !same {
			if _, err := b.copyEntry(ctx, src, destDir, src.AbsPath); err != nil {
				return err
			}
			if err := b.deleteMoved(ctx, src, src.AbsPath); err != nil {
				return err
			}
			continue
		}
		if err := b.moveByRename(ctx, src, destDir); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) moveByRename(ctx context.Context, src fsentry.Entry, destDir string) error {
	name := filepath.Base(src.AbsPath)
	dstPath := filepath.Join(destDir, name)

	if b.exists(dstPath) {
		existing, err := b.planner.resolver.Resolve(ctx, dstPath)
		if err != nil {
			return err
		}
		// Directory onto directory cannot be renamed in place; merge via
		// copy and delete instead.
		if existing.Exists && existing.IsDir() && src.IsDir() {
			if _, err := b.copyEntry(ctx, src, destDir, src.AbsPath); err != nil {
				return err
			}
			return b.deleteMoved(ctx, src, src.AbsPath)
		}
		decision, err := b.decide(ctx, existing, name)
		if err != nil {
			return err
		}
		switch decision.Action {
		case conflict.ActionSkip:
			return nil
		case conflict.ActionOverwrite:
			if existing.IsDir() {
				b.emit(Step{Kind: StepDeleteDirectory, Source: dstPath, Recursive: true, Root: src.AbsPath})
			} else {
				b.emit(Step{Kind: StepDeleteFile, Source: dstPath, Root: src.AbsPath})
			}
		case conflict.ActionKeepBoth:
			name = conflict.KeepBothName(destDir, decision.NewName, b.existsIn(destDir))
			dstPath = filepath.Join(destDir, name)
		}
	}

	b.emit(Step{Kind: StepRenameEntry, Source: src.AbsPath, Dest: dstPath, Root: src.AbsPath})
	return nil
}

// buildDelete expands Delete requests bottom-up, so directory deletion
// steps never precede deletion of their contents.
func (b *builder) buildDelete(ctx context.Context) error {
	sources, err := b.sources(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if src.IsDir() && !b.req.Recursive {
			children, err := os.ReadDir(src.AbsPath)
			if err != nil {
				return fserrors.Classify(errors.Errorf("listing %s: %w", src.AbsPath, err))
			}
			if len(children) > 0 {
				return errors.Errorf("%w: %s", fserrors.ErrDirectoryNotEmpty, src.AbsPath)
			}
			b.emit(Step{Kind: StepDeleteDirectory, Source: src.AbsPath, Root: src.AbsPath})
			continue
		}
		if err := b.deleteTree(ctx, src, src.AbsPath); err != nil {
			return err
		}
	}
	return nil
}

// deleteTree emits a post-order deletion of entry: files and emptied
// subdirectories strictly before their parents. Symlinks are removed as
// links, never followed.
func (b *builder) deleteTree(ctx context.Context, entry fsentry.Entry, root string) error {
	if !entry.IsDir() {
		b.emit(Step{Kind: StepDeleteFile, Source: entry.AbsPath, Root: root})
		return nil
	}

	children, err := os.ReadDir(entry.AbsPath)
	if err != nil {
		return fserrors.Classify(errors.Errorf("listing %s: %w", entry.AbsPath, err))
	}
	for _, child := range children {
		childEntry, err := b.planner.resolver.Resolve(ctx, filepath.Join(entry.AbsPath, child.Name()))
		if err != nil {
			return err
		}
		if !childEntry.Exists {
			continue
		}
		if childEntry.Kind == fsentry.KindSymlink {
			b.emit(Step{Kind: StepDeleteFile, Source: childEntry.AbsPath, Root: root})
			continue
		}
		if err := b.deleteTree(ctx, childEntry, root); err != nil {
			return err
		}
	}
	b.emit(Step{Kind: StepDeleteDirectory, Source: entry.AbsPath, Root: root})
	return nil
}

// deleteMoved is deleteTree for the second half of a move: it deletes only
// sources whose copy was actually scheduled. A skipped or ignored entry
// survives, and so does every directory on its ancestor chain.
func (b *builder) deleteMoved(ctx context.Context, entry fsentry.Entry, root string) error {
	if entry.Kind == fsentry.KindSymlink || !entry.IsDir() {
		if b.moved[entry.AbsPath] {
			b.emit(Step{Kind: StepDeleteFile, Source: entry.AbsPath, Root: root})
		}
		return nil
	}

	children, err := os.ReadDir(entry.AbsPath)
	if err != nil {
		return fserrors.Classify(errors.Errorf("listing %s: %w", entry.AbsPath, err))
	}
	for _, child := range children {
		childEntry, err := b.planner.resolver.Resolve(ctx, filepath.Join(entry.AbsPath, child.Name()))
		if err != nil {
			return err
		}
		if !childEntry.Exists {
			continue
		}
		if err := b.deleteMoved(ctx, childEntry, root); err != nil {
			return err
		}
	}
	if b.moved[entry.AbsPath] {
		b.emit(Step{Kind: StepDeleteDirectory, Source: entry.AbsPath, Root: root})
	}
	return nil
}

func (b *builder) buildRename(ctx context.Context) error {
	if len(b.req.Sources) != 1 {
		return errors.Errorf("%w: rename takes exactly one source", fserrors.ErrEmptySelection)
	}
	if err := validateName(b.req.NewName); err != nil {
		return err
	}
	src, err := b.planner.resolver.MustExist(ctx, b.req.Sources[0])
	if err != nil {
		return err
	}

	dir := filepath.Dir(src.AbsPath)
	name := b.req.NewName
	dstPath := filepath.Join(dir, name)
	if dstPath == src.AbsPath {
		return nil
	}

	if b.exists(dstPath) {
		existing, err := b.planner.resolver.Resolve(ctx, dstPath)
		if err != nil {
			return err
		}
		decision, err := b.decide(ctx, existing, name)
		if err != nil {
			return err
		}
		switch decision.Action {
		case conflict.ActionSkip:
			return nil
		case conflict.ActionOverwrite:
			if existing.IsDir() {
				b.emit(Step{Kind: StepDeleteDirectory, Source: dstPath, Recursive: true, Root: src.AbsPath})
			} else {
				b.emit(Step{Kind: StepDeleteFile, Source: dstPath, Root: src.AbsPath})
			}
		case conflict.ActionKeepBoth:
			name = conflict.KeepBothName(dir, decision.NewName, b.existsIn(dir))
			dstPath = filepath.Join(dir, name)
		}
	}

	b.emit(Step{Kind: StepRenameEntry, Source: src.AbsPath, Dest: dstPath, Root: src.AbsPath})
	return nil
}

func (b *builder) buildCreateFolder(ctx context.Context) error {
	if err := validateName(b.req.NewName); err != nil {
		return err
	}
	dest, err := b.planner.resolver.MustExist(ctx, b.req.DestDir)
	if err != nil {
		return err
	}
	if !dest.IsDir() {
		return errors.Errorf("%w: %s is not a directory", fserrors.ErrInvalidPath, dest.AbsPath)
	}

	// An occupied name gets the keep-both treatment automatically: the
	// folder is still created, just under the next free suffix.
	name := conflict.KeepBothName(dest.AbsPath, b.req.NewName, b.existsIn(dest.AbsPath))
	b.emit(Step{
		Kind: StepCreateDirectory,
		Dest: filepath.Join(dest.AbsPath, name),
		Root: filepath.Join(dest.AbsPath, name),
	})
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return errors.Errorf("%w: invalid entry name %q", fserrors.ErrInvalidPath, name)
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return errors.Errorf("%w: entry name %q contains path separators", fserrors.ErrInvalidPath, name)
	}
	return nil
}
