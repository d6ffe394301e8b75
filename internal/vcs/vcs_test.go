package vcs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pottery-backend/pottery/internal/vcs"
)

var author = vcs.Signature{Name: "tester", Email: "tester@localhost"}

func newRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.Mkdir(dir, 0o755))
	_, err := vcs.Init(context.Background(), dir, author)
	require.NoError(t, err, "failed to init repo")
	return dir
}

func commitFile(t *testing.T, dir, name, contents string, perm os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(contents), perm))
	sha, err := vcs.CommitAll(context.Background(), dir, "add "+name, author)
	require.NoError(t, err, "failed to commit")
	return sha
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t)
	sha := commitFile(t, dir, "task.json", "{}", 0o644)

	t.Run("Head", func(t *testing.T) {
		resolved, err := vcs.Resolve(ctx, dir, "HEAD")
		require.NoError(t, err)
		assert.Equal(t, sha, resolved)
	})

	t.Run("ShortHash", func(t *testing.T) {
		resolved, err := vcs.Resolve(ctx, dir, sha[:8])
		require.NoError(t, err)
		assert.Equal(t, sha, resolved)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := vcs.Resolve(ctx, dir, "no-such-branch")
		require.ErrorIs(t, err, vcs.ErrRevisionNotFound)
	})
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t)
	first := commitFile(t, dir, "harness/run-harness.sh", "echo harness", 0o755)
	commitFile(t, dir, "task.json", `{"name":"later"}`, 0o644)

	t.Run("Head", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "copy")
		_, err := vcs.Materialize(ctx, dir, "HEAD", target)
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(target, "harness", "run-harness.sh"))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode().Perm()&0o100, "executable bit should be preserved")

		contents, err := os.ReadFile(filepath.Join(target, "task.json"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"later"}`, string(contents))
		assert.NoDirExists(t, filepath.Join(target, ".git"))
	})

	t.Run("OlderRevision", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "copy")
		sha, err := vcs.Materialize(ctx, dir, first, target)
		require.NoError(t, err)
		assert.Equal(t, first, sha)
		assert.NoFileExists(t, filepath.Join(target, "task.json"))
	})

	t.Run("MissingParent", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "copies", "copy-1")
		_, err := vcs.Materialize(ctx, dir, "HEAD", target)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(target, "task.json"))
	})

	t.Run("TargetExists", func(t *testing.T) {
		_, err := vcs.Materialize(ctx, dir, "HEAD", t.TempDir())
		require.ErrorIs(t, err, os.ErrExist)
	})
}

func TestFilesAndTags(t *testing.T) {
	ctx := context.Background()
	dir := newRepo(t)
	commitFile(t, dir, "skeleton.sh", "echo Skeleton", 0o755)
	require.NoError(t, vcs.CreateTag(ctx, dir, "online-1", "HEAD"))
	commitFile(t, dir, "skeleton.sh", "echo Changed", 0o755)

	t.Run("ListFiles", func(t *testing.T) {
		files, err := vcs.ListFiles(ctx, dir, "online-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"skeleton.sh"}, files)
	})

	t.Run("ReadAtTag", func(t *testing.T) {
		contents, err := vcs.ReadFile(ctx, dir, "online-1", "skeleton.sh")
		require.NoError(t, err)
		assert.Equal(t, "echo Skeleton", string(contents))

		contents, err = vcs.ReadFile(ctx, dir, "HEAD", "skeleton.sh")
		require.NoError(t, err)
		assert.Equal(t, "echo Changed", string(contents))
	})

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := vcs.ReadFile(ctx, dir, "HEAD", "nope.txt")
		require.ErrorIs(t, err, vcs.ErrFileNotFound)
	})

	t.Run("Tags", func(t *testing.T) {
		require.NoError(t, vcs.CreateTag(ctx, dir, "online-2", "HEAD"))
		require.ErrorIs(t, vcs.CreateTag(ctx, dir, "online-2", "HEAD"), vcs.ErrTagExists)

		tags, err := vcs.ListTags(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"online-1", "online-2"}, tags)

		exists, err := vcs.TagExists(ctx, dir, "online-2")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = vcs.TagExists(ctx, dir, "online-9")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestCloneAndPull(t *testing.T) {
	ctx := context.Background()
	origin := newRepo(t)
	commitFile(t, origin, "task.json", "{}", 0o644)

	clone := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, vcs.Clone(ctx, origin, clone))

	sha := commitFile(t, origin, "README", "hello", 0o644)
	require.NoError(t, vcs.Pull(ctx, clone))
	require.NoError(t, vcs.Pull(ctx, clone), "pulling twice should be a no-op")

	resolved, err := vcs.Resolve(ctx, clone, "HEAD")
	require.NoError(t, err)
	assert.Equal(t, sha, resolved)
}
