package fsentry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/proview/fileops/pkg/fserrors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).WithContext(context.Background())
}

func TestNormalize(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name:    "empty_path",
			raw:     "",
			wantErr: fserrors.ErrInvalidPath,
		},
		{
			name:    "whitespace_only",
			raw:     "   ",
			wantErr: fserrors.ErrInvalidPath,
		},
		{
			name:    "nul_byte",
			raw:     "a\x00b",
			wantErr: fserrors.ErrInvalidPath,
		},
		{
			name: "relative_path",
			raw:  "some/dir/../file.txt",
		},
		{
			name: "absolute_path",
			raw:  "/tmp/./x//y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			abs, err := r.Normalize(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err, "normalize should fail")
				assert.ErrorIs(t, err, tt.wantErr, "error should match sentinel")
				return
			}
			require.NoError(t, err, "normalize should succeed")
			assert.True(t, filepath.IsAbs(abs), "result should be absolute")
			assert.Equal(t, filepath.Clean(abs), abs, "result should be clean")
		})
	}
}

func TestResolveClassification(t *testing.T) {
	ctx := testContext(t)
	r := NewResolver()
	dir := t.TempDir()

	file := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644), "writing fixture")

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755), "creating fixture dir")

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(file, link), "creating symlink")

	t.Run("regular_file", func(t *testing.T) {
		entry, err := r.Resolve(ctx, file)
		require.NoError(t, err)
		assert.True(t, entry.Exists, "file should exist")
		assert.Equal(t, KindFile, entry.Kind, "kind should be file")
		assert.Equal(t, int64(5), entry.Size, "size should match content")
	})

	t.Run("directory", func(t *testing.T) {
		entry, err := r.Resolve(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, KindDirectory, entry.Kind, "kind should be directory")
		assert.True(t, entry.IsDir(), "IsDir should be true")
	})

	t.Run("symlink_not_followed", func(t *testing.T) {
		entry, err := r.Resolve(ctx, link)
		require.NoError(t, err)
		assert.Equal(t, KindSymlink, entry.Kind, "Resolve must not follow links")
	})

	t.Run("missing_path_no_error", func(t *testing.T) {
		entry, err := r.Resolve(ctx, filepath.Join(dir, "nope"))
		require.NoError(t, err, "missing path is not an error for Resolve")
		assert.False(t, entry.Exists, "entry should not exist")
		assert.NotEmpty(t, entry.AbsPath, "abs path is still reported")
	})

	t.Run("must_exist_missing", func(t *testing.T) {
		_, err := r.MustExist(ctx, filepath.Join(dir, "nope"))
		require.Error(t, err)
		assert.ErrorIs(t, err, fserrors.ErrNotFound, "missing path should map to not-found")
	})

	t.Run("volume_root", func(t *testing.T) {
		entry, err := r.Resolve(ctx, string(filepath.Separator))
		require.NoError(t, err)
		assert.Equal(t, KindDriveRoot, entry.Kind, "filesystem root should classify as drive root")
	})
}

func TestResolveFollow(t *testing.T) {
	ctx := testContext(t)
	r := NewResolver()
	dir := t.TempDir()

	file := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	t.Run("follows_chain_to_file", func(t *testing.T) {
		a := filepath.Join(dir, "a")
		b := filepath.Join(dir, "b")
		require.NoError(t, os.Symlink(file, b))
		require.NoError(t, os.Symlink(b, a))

		entry, err := r.ResolveFollow(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, KindFile, entry.Kind, "chain should end at the file")
		assert.Equal(t, file, entry.AbsPath, "final target path should be reported")
	})

	t.Run("cycle_detected", func(t *testing.T) {
		p := filepath.Join(dir, "p")
		q := filepath.Join(dir, "q")
		require.NoError(t, os.Symlink(q, p))
		require.NoError(t, os.Symlink(p, q))

		_, err := r.ResolveFollow(ctx, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, fserrors.ErrCyclicSymlink, "cycle should be reported, not looped")
	})

	t.Run("dangling_link_reports_missing_target", func(t *testing.T) {
		d := filepath.Join(dir, "dangling")
		require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), d))

		entry, err := r.ResolveFollow(ctx, d)
		require.NoError(t, err)
		assert.False(t, entry.Exists, "dangling link resolves to a non-existent target")
	})

	t.Run("non_link_passthrough", func(t *testing.T) {
		entry, err := r.ResolveFollow(ctx, file)
		require.NoError(t, err)
		assert.Equal(t, KindFile, entry.Kind)
	})
}

func TestWithin(t *testing.T) {
	tests := []struct {
		name string
		root string
		path string
		want bool
	}{
		{name: "child", root: "/a/b", path: "/a/b/c", want: true},
		{name: "deep_child", root: "/a/b", path: "/a/b/c/d/e", want: true},
		{name: "equal", root: "/a/b", path: "/a/b", want: true},
		{name: "sibling_prefix", root: "/a/b", path: "/a/bc", want: false},
		{name: "parent", root: "/a/b", path: "/a", want: false},
		{name: "unrelated", root: "/a/b", path: "/x/y", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Within(filepath.FromSlash(tt.root), filepath.FromSlash(tt.path))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntryStale(t *testing.T) {
	ctx := testContext(t)
	r := NewResolver()
	dir := t.TempDir()

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("one"), 0o644))

	entry, err := r.MustExist(ctx, file)
	require.NoError(t, err)

	info, err := os.Lstat(file)
	require.NoError(t, err)
	assert.False(t, entry.Stale(info), "unchanged file should not be stale")

	require.NoError(t, os.WriteFile(file, []byte("longer content"), 0o644))
	info, err = os.Lstat(file)
	require.NoError(t, err)
	assert.True(t, entry.Stale(info), "size change should mark the entry stale")
}
