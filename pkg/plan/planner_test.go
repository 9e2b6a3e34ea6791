package plan

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/proview/fileops/pkg/conflict"
	"github.com/proview/fileops/pkg/fsentry"
	"github.com/proview/fileops/pkg/fserrors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).WithContext(context.Background())
}

// seedTree writes the given files (path -> content) under root, creating
// intermediate directories. Paths ending in "/" become empty directories.
func seedTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(abs, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func newTestPlanner(policy conflict.Policy, opts ...Option) *Planner {
	if policy == nil {
		policy = conflict.AbortAll
	}
	return NewPlanner(fsentry.NewResolver(), policy, opts...)
}

// stepIndexOf returns the position of the first step matching kind and path.
func stepIndexOf(t *testing.T, steps []Step, kind StepKind, path string) int {
	t.Helper()
	for i, s := range steps {
		if s.Kind == kind && s.Path() == path {
			return i
		}
	}
	t.Fatalf("no %s step for %s in plan", kind, path)
	return -1
}

func TestBuildCopyParentBeforeChildren(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := t.TempDir()
	seedTree(t, src, map[string]string{
		"proj/readme.md":      "hello",
		"proj/src/main.go":    "package main",
		"proj/src/util/u.go":  "package util",
		"proj/assets/logo":    "binary",
		"proj/assets/empty/":  "",
	})

	p, err := newTestPlanner(nil).Build(ctx, Request{
		Op:      OpCopy,
		Sources: []string{filepath.Join(src, "proj")},
		DestDir: dst,
	})
	require.NoError(t, err)

	// Every directory create must precede every step that lands inside it.
	for i, s := range p.Steps {
		if s.Kind != StepCreateDirectory {
			continue
		}
		for j := 0; j < i; j++ {
			earlier := p.Steps[j]
			if earlier.Dest != "" && earlier.Dest != s.Dest {
				assert.False(t, fsentry.Within(s.Dest, earlier.Dest),
					"step %d (%s) writes inside %s before it is created", j, earlier.Dest, s.Dest)
			}
		}
	}

	// Total bytes covers file payloads only.
	var want int64
	for _, s := range p.Steps {
		if s.Kind == StepCopyFile {
			want += s.Bytes
		}
	}
	assert.Equal(t, want, p.TotalBytes)
	assert.Greater(t, p.TotalBytes, int64(0))
}

func TestBuildCopyConflicts(t *testing.T) {
	tests := []struct {
		name      string
		action    conflict.Action
		wantKinds []StepKind
		wantDest  string
		wantErr   error
	}{
		{
			name:      "skip_drops_file",
			action:    conflict.ActionSkip,
			wantKinds: nil,
		},
		{
			name:      "overwrite_deletes_then_copies",
			action:    conflict.ActionOverwrite,
			wantKinds: []StepKind{StepDeleteFile, StepCopyFile},
			wantDest:  "a.txt",
		},
		{
			name:      "keepboth_suffixes",
			action:    conflict.ActionKeepBoth,
			wantKinds: []StepKind{StepCopyFile},
			wantDest:  "a (2).txt",
		},
		{
			name:    "abort_fails_build",
			action:  conflict.ActionAbort,
			wantErr: fserrors.ErrConflictUnresolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			src := t.TempDir()
			dst := t.TempDir()
			seedTree(t, src, map[string]string{"a.txt": "incoming"})
			seedTree(t, dst, map[string]string{"a.txt": "existing", "a (1).txt": "also taken"})

			planner := newTestPlanner(conflict.StaticPolicy{Files: tt.action})
			p, err := planner.Build(ctx, Request{
				Op:      OpCopy,
				Sources: []string{filepath.Join(src, "a.txt")},
				DestDir: dst,
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			var kinds []StepKind
			for _, s := range p.Steps {
				kinds = append(kinds, s.Kind)
			}
			assert.Equal(t, tt.wantKinds, kinds)
			if tt.wantDest != "" {
				last := p.Steps[len(p.Steps)-1]
				assert.Equal(t, filepath.Join(dst, tt.wantDest), last.Dest)
			}
		})
	}
}

func TestBuildCopyMergesDirectories(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := t.TempDir()
	seedTree(t, src, map[string]string{"docs/new.md": "n"})
	seedTree(t, dst, map[string]string{"docs/old.md": "o"})

	// AbortAll would fail on any policy consultation; a dir-onto-dir merge
	// must not consult it.
	p, err := newTestPlanner(conflict.AbortAll).Build(ctx, Request{
		Op:      OpCopy,
		Sources: []string{filepath.Join(src, "docs")},
		DestDir: dst,
	})
	require.NoError(t, err, "directory merge should not hit the conflict policy")

	createIdx := stepIndexOf(t, p.Steps, StepCreateDirectory, filepath.Join(dst, "docs"))
	copyIdx := stepIndexOf(t, p.Steps, StepCopyFile, filepath.Join(dst, "docs", "new.md"))
	assert.Less(t, createIdx, copyIdx)
}

func TestBuildCopyNestedSelectionDeduped(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := t.TempDir()
	seedTree(t, src, map[string]string{"outer/inner/f.txt": "x"})

	// Selecting both a directory and something inside it must not plan the
	// nested entry twice.
	p, err := newTestPlanner(nil).Build(ctx, Request{
		Op: OpCopy,
		Sources: []string{
			filepath.Join(src, "outer"),
			filepath.Join(src, "outer", "inner", "f.txt"),
			filepath.Join(src, "outer"), // duplicate of the first
		},
		DestDir: dst,
	})
	require.NoError(t, err)

	copies := 0
	for _, s := range p.Steps {
		if s.Kind == StepCopyFile {
			copies++
		}
	}
	assert.Equal(t, 1, copies, "nested and duplicate selections collapse into one copy")
}

func TestBuildCopyIgnorePatterns(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := t.TempDir()
	seedTree(t, src, map[string]string{
		"work/keep.go":    "k",
		"work/drop.tmp":   "d",
		"work/sub/n.tmp":  "d",
		"work/sub/keep.c": "k",
	})

	p, err := newTestPlanner(nil).Build(ctx, Request{
		Op:             OpCopy,
		Sources:        []string{filepath.Join(src, "work")},
		DestDir:        dst,
		IgnorePatterns: []string{"*.tmp"},
	})
	require.NoError(t, err)

	for _, s := range p.Steps {
		assert.False(t, strings.HasSuffix(s.Path(), ".tmp"), "ignored file leaked into plan: %s", s.Path())
	}
}

func TestBuildCopyDestInsideSource(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	seedTree(t, src, map[string]string{"tree/nested/": ""})

	_, err := newTestPlanner(nil).Build(ctx, Request{
		Op:      OpCopy,
		Sources: []string{filepath.Join(src, "tree")},
		DestDir: filepath.Join(src, "tree", "nested"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrIncompatibleRoots)
}

func TestBuildCopySymlinkCycle(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := t.TempDir()
	seedTree(t, src, map[string]string{"loop/f.txt": "x"})
	require.NoError(t, os.Symlink(filepath.Join(src, "loop"), filepath.Join(src, "loop", "self")))

	_, err := newTestPlanner(nil, WithFollowSymlinks(true)).Build(ctx, Request{
		Op:      OpCopy,
		Sources: []string{filepath.Join(src, "loop")},
		DestDir: dst,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrCycleDetected)
}

func TestBuildMoveSameVolume(t *testing.T) {
	ctx := testContext(t)
	base := t.TempDir()
	seedTree(t, base, map[string]string{"src/big/a.txt": "a", "src/big/b/c.txt": "c", "dst/": ""})

	sameVolume := func(a, b string) (bool, error) { return true, nil }
	p, err := newTestPlanner(nil, WithSameVolumeFunc(sameVolume)).Build(ctx, Request{
		Op:      OpMove,
		Sources: []string{filepath.Join(base, "src", "big")},
		DestDir: filepath.Join(base, "dst"),
	})
	require.NoError(t, err)

	require.Len(t, p.Steps, 1, "same-volume move is a single rename regardless of tree size")
	assert.Equal(t, StepRenameEntry, p.Steps[0].Kind)
	assert.Equal(t, filepath.Join(base, "src", "big"), p.Steps[0].Source)
	assert.Equal(t, filepath.Join(base, "dst", "big"), p.Steps[0].Dest)
}

func TestBuildMoveCrossVolume(t *testing.T) {
	ctx := testContext(t)
	base := t.TempDir()
	seedTree(t, base, map[string]string{"src/pkg/a.txt": "aaaa", "src/pkg/sub/b.txt": "bb", "dst/": ""})

	crossVolume := func(a, b string) (bool, error) { return false, nil }
	p, err := newTestPlanner(nil, WithSameVolumeFunc(crossVolume)).Build(ctx, Request{
		Op:      OpMove,
		Sources: []string{filepath.Join(base, "src", "pkg")},
		DestDir: filepath.Join(base, "dst"),
	})
	require.NoError(t, err)

	// Copy steps all land before the first delete: the source is only
	// removed once its copy is fully planned.
	firstDelete := -1
	lastCopy := -1
	for i, s := range p.Steps {
		switch s.Kind {
		case StepCopyFile, StepCreateDirectory:
			lastCopy = i
		case StepDeleteFile, StepDeleteDirectory:
			if firstDelete == -1 {
				firstDelete = i
			}
		}
	}
	require.NotEqual(t, -1, firstDelete, "cross-volume move must delete the source")
	assert.Less(t, lastCopy, firstDelete, "all copies precede the source deletion")

	// Source deletion is bottom-up: the root directory goes last.
	last := p.Steps[len(p.Steps)-1]
	assert.Equal(t, StepDeleteDirectory, last.Kind)
	assert.Equal(t, filepath.Join(base, "src", "pkg"), last.Source)
}

func TestBuildMoveDirOntoExistingDir(t *testing.T) {
	ctx := testContext(t)
	base := t.TempDir()
	seedTree(t, base, map[string]string{"src/shared/n.txt": "n", "dst/shared/o.txt": "o"})

	p, err := newTestPlanner(nil, WithSameVolumeFunc(func(a, b string) (bool, error) { return true, nil })).Build(ctx, Request{
		Op:      OpMove,
		Sources: []string{filepath.Join(base, "src", "shared")},
		DestDir: filepath.Join(base, "dst"),
	})
	require.NoError(t, err)

	// Rename cannot land a directory onto an existing one; the plan must
	// degrade to merge-copy plus source deletion.
	for _, s := range p.Steps {
		assert.NotEqual(t, StepRenameEntry, s.Kind, "dir-onto-dir move cannot rename in place")
	}
	stepIndexOf(t, p.Steps, StepCopyFile, filepath.Join(base, "dst", "shared", "n.txt"))
	stepIndexOf(t, p.Steps, StepDeleteDirectory, filepath.Join(base, "src", "shared"))
}

func TestBuildMoveSkippedSourceSurvives(t *testing.T) {
	// A move deletes a source only when its copy was actually scheduled.
	// A child the policy skipped keeps its file and its whole ancestor
	// chain of directories.
	deletesOf := func(steps []Step, path string) int {
		n := 0
		for _, s := range steps {
			if (s.Kind == StepDeleteFile || s.Kind == StepDeleteDirectory) && s.Source == path {
				n++
			}
		}
		return n
	}

	t.Run("cross_volume", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{
			"src/tree/keep.txt":  "mine",
			"src/tree/other.txt": "moves",
			"src/tree/sub/s.txt": "moves too",
			"dst/tree/keep.txt":  "theirs",
		})

		p, err := newTestPlanner(
			conflict.StaticPolicy{Files: conflict.ActionSkip},
			WithSameVolumeFunc(func(a, b string) (bool, error) { return false, nil }),
		).Build(ctx, Request{
			Op:      OpMove,
			Sources: []string{filepath.Join(base, "src", "tree")},
			DestDir: filepath.Join(base, "dst"),
		})
		require.NoError(t, err)

		// The skipped file gets neither a copy nor a delete, and the
		// directories still holding it stay put.
		for _, s := range p.Steps {
			assert.NotEqual(t, filepath.Join(base, "src", "tree", "keep.txt"), s.Source,
				"skipped source must not appear in the plan, got %s step", s.Kind)
		}
		assert.Zero(t, deletesOf(p.Steps, filepath.Join(base, "src", "tree")),
			"directory with a skipped child must survive the move")

		// Fully-scheduled entries still move: copy before delete, and the
		// emptied subdirectory is removed.
		copyIdx := stepIndexOf(t, p.Steps, StepCopyFile, filepath.Join(base, "dst", "tree", "other.txt"))
		delIdx := stepIndexOf(t, p.Steps, StepDeleteFile, filepath.Join(base, "src", "tree", "other.txt"))
		assert.Less(t, copyIdx, delIdx)
		stepIndexOf(t, p.Steps, StepDeleteDirectory, filepath.Join(base, "src", "tree", "sub"))
	})

	t.Run("same_volume_merge", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{
			"src/shared/keep.txt": "mine",
			"src/shared/new.txt":  "moves",
			"dst/shared/keep.txt": "theirs",
		})

		p, err := newTestPlanner(
			conflict.StaticPolicy{Files: conflict.ActionSkip},
			WithSameVolumeFunc(func(a, b string) (bool, error) { return true, nil }),
		).Build(ctx, Request{
			Op:      OpMove,
			Sources: []string{filepath.Join(base, "src", "shared")},
			DestDir: filepath.Join(base, "dst"),
		})
		require.NoError(t, err)

		assert.Zero(t, deletesOf(p.Steps, filepath.Join(base, "src", "shared", "keep.txt")))
		assert.Zero(t, deletesOf(p.Steps, filepath.Join(base, "src", "shared")))
		stepIndexOf(t, p.Steps, StepCopyFile, filepath.Join(base, "dst", "shared", "new.txt"))
		stepIndexOf(t, p.Steps, StepDeleteFile, filepath.Join(base, "src", "shared", "new.txt"))
	})
}

func TestBuildDeleteBottomUp(t *testing.T) {
	ctx := testContext(t)
	base := t.TempDir()
	seedTree(t, base, map[string]string{
		"tree/a.txt":       "a",
		"tree/sub/b.txt":   "b",
		"tree/sub/deep/c":  "c",
		"tree/other/":      "",
	})

	p, err := newTestPlanner(nil).Build(ctx, Request{
		Op:        OpDelete,
		Sources:   []string{filepath.Join(base, "tree")},
		Recursive: true,
	})
	require.NoError(t, err)

	// No directory is deleted before everything inside it.
	for i, s := range p.Steps {
		if s.Kind != StepDeleteDirectory {
			continue
		}
		for j := i + 1; j < len(p.Steps); j++ {
			later := p.Steps[j]
			assert.False(t, later.Source != s.Source && fsentry.Within(s.Source, later.Source),
				"step %d deletes %s after its parent %s was already deleted", j, later.Source, s.Source)
		}
	}

	last := p.Steps[len(p.Steps)-1]
	assert.Equal(t, StepDeleteDirectory, last.Kind)
	assert.Equal(t, filepath.Join(base, "tree"), last.Source)
}

func TestBuildDeleteNonRecursive(t *testing.T) {
	ctx := testContext(t)
	base := t.TempDir()
	seedTree(t, base, map[string]string{"full/x.txt": "x", "empty/": ""})

	t.Run("non_empty_refused", func(t *testing.T) {
		_, err := newTestPlanner(nil).Build(ctx, Request{
			Op:      OpDelete,
			Sources: []string{filepath.Join(base, "full")},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, fserrors.ErrDirectoryNotEmpty)
	})

	t.Run("empty_allowed", func(t *testing.T) {
		p, err := newTestPlanner(nil).Build(ctx, Request{
			Op:      OpDelete,
			Sources: []string{filepath.Join(base, "empty")},
		})
		require.NoError(t, err)
		require.Len(t, p.Steps, 1)
		assert.Equal(t, StepDeleteDirectory, p.Steps[0].Kind)
		assert.False(t, p.Steps[0].Recursive)
	})
}

func TestBuildDeleteSymlinkNotFollowed(t *testing.T) {
	ctx := testContext(t)
	base := t.TempDir()
	seedTree(t, base, map[string]string{"victim/keep.txt": "k", "doomed/": ""})
	require.NoError(t, os.Symlink(filepath.Join(base, "victim"), filepath.Join(base, "doomed", "link")))

	p, err := newTestPlanner(nil).Build(ctx, Request{
		Op:        OpDelete,
		Sources:   []string{filepath.Join(base, "doomed")},
		Recursive: true,
	})
	require.NoError(t, err)

	for _, s := range p.Steps {
		assert.False(t, fsentry.Within(filepath.Join(base, "victim"), s.Source),
			"deleting a directory of symlinks must not reach through the link: %s", s.Source)
		if s.Source == filepath.Join(base, "doomed", "link") {
			assert.Equal(t, StepDeleteFile, s.Kind, "symlinks are removed as links")
		}
	}
}

func TestBuildDeleteEmptySelection(t *testing.T) {
	ctx := testContext(t)
	_, err := newTestPlanner(nil).Build(ctx, Request{Op: OpDelete})
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrEmptySelection)
}

func TestBuildRename(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{"old.txt": "x"})

		p, err := newTestPlanner(nil).Build(ctx, Request{
			Op:      OpRename,
			Sources: []string{filepath.Join(base, "old.txt")},
			NewName: "new.txt",
		})
		require.NoError(t, err)
		require.Len(t, p.Steps, 1)
		assert.Equal(t, StepRenameEntry, p.Steps[0].Kind)
		assert.Equal(t, filepath.Join(base, "new.txt"), p.Steps[0].Dest)
	})

	t.Run("same_name_is_noop", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{"same.txt": "x"})

		p, err := newTestPlanner(nil).Build(ctx, Request{
			Op:      OpRename,
			Sources: []string{filepath.Join(base, "same.txt")},
			NewName: "same.txt",
		})
		require.NoError(t, err)
		assert.Empty(t, p.Steps)
	})

	t.Run("collision_keepboth", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{"old.txt": "x", "taken.txt": "y"})

		p, err := newTestPlanner(conflict.StaticPolicy{Files: conflict.ActionKeepBoth}).Build(ctx, Request{
			Op:      OpRename,
			Sources: []string{filepath.Join(base, "old.txt")},
			NewName: "taken.txt",
		})
		require.NoError(t, err)
		require.Len(t, p.Steps, 1)
		assert.Equal(t, filepath.Join(base, "taken (1).txt"), p.Steps[0].Dest)
	})

	t.Run("invalid_names", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{"old.txt": "x"})

		for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
			_, err := newTestPlanner(nil).Build(ctx, Request{
				Op:      OpRename,
				Sources: []string{filepath.Join(base, "old.txt")},
				NewName: bad,
			})
			assert.ErrorIs(t, err, fserrors.ErrInvalidPath, "name %q should be rejected", bad)
		}
	})
}

func TestBuildCreateFolder(t *testing.T) {
	t.Run("fresh_name", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()

		p, err := newTestPlanner(nil).Build(ctx, Request{
			Op:      OpCreateFolder,
			DestDir: base,
			NewName: "New Folder",
		})
		require.NoError(t, err)
		require.Len(t, p.Steps, 1)
		assert.Equal(t, StepCreateDirectory, p.Steps[0].Kind)
		assert.Equal(t, filepath.Join(base, "New Folder"), p.Steps[0].Dest)
	})

	t.Run("occupied_name_auto_suffixes", func(t *testing.T) {
		ctx := testContext(t)
		base := t.TempDir()
		seedTree(t, base, map[string]string{"New Folder/": "", "New Folder (1)/": ""})

		p, err := newTestPlanner(nil).Build(ctx, Request{
			Op:      OpCreateFolder,
			DestDir: base,
			NewName: "New Folder",
		})
		require.NoError(t, err)
		require.Len(t, p.Steps, 1)
		assert.Equal(t, filepath.Join(base, "New Folder (2)"), p.Steps[0].Dest)
	})
}

// TestBuildCopyRandomTreeInvariants seeds a deterministic random tree and
// checks the structural plan invariants hold at any shape.
func TestBuildCopyRandomTreeInvariants(t *testing.T) {
	ctx := testContext(t)
	src := t.TempDir()
	dst := t.TempDir()

	rng := rand.New(rand.NewSource(42))
	dirs := []string{src}
	for i := 0; i < 40; i++ {
		parent := dirs[rng.Intn(len(dirs))]
		if rng.Intn(3) == 0 {
			d := filepath.Join(parent, "d"+string(rune('a'+rng.Intn(26)))+string(rune('0'+i%10)))
			require.NoError(t, os.MkdirAll(d, 0o755))
			dirs = append(dirs, d)
			continue
		}
		f := filepath.Join(parent, "f"+string(rune('a'+rng.Intn(26)))+string(rune('0'+i%10)))
		require.NoError(t, os.WriteFile(f, make([]byte, rng.Intn(512)), 0o644))
	}

	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	var sources []string
	for _, e := range entries {
		sources = append(sources, filepath.Join(src, e.Name()))
	}

	p, err := newTestPlanner(nil).Build(ctx, Request{
		Op:      OpCopy,
		Sources: sources,
		DestDir: dst,
	})
	require.NoError(t, err)

	created := map[string]bool{dst: true}
	seenDest := map[string]bool{}
	for _, s := range p.Steps {
		require.NotEmpty(t, s.Dest)
		assert.False(t, seenDest[s.Dest], "two steps write the same destination %s", s.Dest)
		seenDest[s.Dest] = true
		assert.True(t, created[filepath.Dir(s.Dest)], "parent of %s not created yet", s.Dest)
		if s.Kind == StepCreateDirectory {
			created[s.Dest] = true
		}
	}
}
