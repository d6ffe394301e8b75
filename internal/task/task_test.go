package task_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/task/tasktest"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/vcs"
	"github.com/pottery-backend/pottery/internal/worker"
	mockworker "github.com/pottery-backend/pottery/internal/worker/mock"
)

func TestIndex(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tasksDir := t.TempDir()
	remote := tasktest.NewDefinition(t, nil)
	w := worker.NewBlocking(localEnv(), worker.Options{})

	index := task.NewIndex(st, tasksDir, tasktest.Author)
	tk, err := index.Create(ctx, remote)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(tk.DefinitionDir(), ".git"))

	found, err := index.Get(tk.ID())
	require.NoError(t, err)
	assert.Same(t, tk, found)

	t.Run("NotBuiltYet", func(t *testing.T) {
		_, err := tk.Copy(true)
		require.ErrorIs(t, err, task.ErrCopyNotReady)
		_, err = index.Copy(tk.ID(), false)
		require.ErrorIs(t, err, task.ErrCopyNotReady)
	})

	var testingCopy *task.Copy
	t.Run("ScheduleTesting", func(t *testing.T) {
		info, err := tk.ScheduleTesting(ctx, w)
		require.NoError(t, err)
		require.Equal(t, types.BuildStatusSuccess, info.Status, info.Exception)

		testingCopy, err = tk.Copy(true)
		require.NoError(t, err)
		assert.Equal(t, tk.ID(), testingCopy.TaskID)

		row, err := st.GetTask(ctx, tk.ID())
		require.NoError(t, err)
		assert.Equal(t, &testingCopy.ID, models.PtrFromNull(row.TestingCopyID))
		assert.Nil(t, models.PtrFromNull(row.RegisteredCopyID))

		status := tk.Status()
		require.NotNil(t, status.TestingInfo)
		assert.Equal(t, "Empty task", status.TestingInfo.Name)
		assert.Nil(t, status.Registered)
	})

	var registered *task.Copy
	t.Run("Register", func(t *testing.T) {
		_, err := tk.Register(ctx, w, "no-such-revision")
		require.ErrorIs(t, err, vcs.ErrRevisionNotFound)

		info, err := tk.Register(ctx, w, task.PlaceholderRevision)
		require.NoError(t, err)
		require.Equal(t, types.BuildStatusSuccess, info.Status, info.Exception)

		registered, err = index.Copy(tk.ID(), false)
		require.NoError(t, err)
		assert.NotEqual(t, testingCopy.ID, registered.ID, "slots build separate copies")

		status := tk.Status()
		assert.Equal(t, registered.Commit, status.RegisteredRevision)
		require.NotNil(t, status.Registered)
		assert.Equal(t, types.BuildStatusSuccess, status.Registered.Status)
	})

	t.Run("PullsRemote", func(t *testing.T) {
		sha := tasktest.Commit(t, remote, map[string]string{"README": "updated"})

		_, err := tk.ScheduleTesting(ctx, w)
		require.NoError(t, err)

		latest, err := tk.Copy(true)
		require.NoError(t, err)
		assert.Equal(t, sha, latest.Commit)
		assert.NotEqual(t, testingCopy.ID, latest.ID)
		assert.NoDirExists(t, testingCopy.Dir, "a superseded copy nobody holds is removed")
		assert.DirExists(t, latest.Dir)

		pinned, err := tk.Copy(false)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, pinned.ID, "a testing build must not move the registered copy")
	})

	t.Run("BrokenHeadKeepsLastCopy", func(t *testing.T) {
		before, err := tk.Copy(true)
		require.NoError(t, err)

		tasktest.Commit(t, remote, map[string]string{"compile-test.sh": "#!/bin/bash\nexit 1\n"})
		info, err := tk.ScheduleTesting(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, types.BuildStatusFailure, info.Status)

		after, err := tk.Copy(true)
		require.NoError(t, err)
		assert.Equal(t, before.ID, after.ID)

		tasktest.Commit(t, remote, map[string]string{"compile-test.sh": tasktest.NoopFiles()["compile-test.sh"]})
	})

	t.Run("Reload", func(t *testing.T) {
		reloaded := task.NewIndex(st, tasksDir, tasktest.Author)
		require.NoError(t, reloaded.Load(ctx))
		require.Len(t, reloaded.List(), 1)

		again, err := reloaded.Get(tk.ID())
		require.NoError(t, err)

		want, err := tk.Copy(true)
		require.NoError(t, err)
		got, err := again.Copy(true)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Verification, got.Verification)

		got, err = again.Copy(false)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, got.ID)

		status := again.Status()
		assert.Equal(t, types.BuildStatusSuccess, status.Testing.Status)
		assert.Equal(t, registered.Commit, status.RegisteredRevision)
	})

	t.Run("Retire", func(t *testing.T) {
		require.NoError(t, tk.SetRetired(ctx, true))
		_, err := tk.Register(ctx, w, task.PlaceholderRevision)
		require.ErrorIs(t, err, task.ErrRetired)

		row, err := st.GetTask(ctx, tk.ID())
		require.NoError(t, err)
		assert.True(t, row.Retired)

		_, err = tk.Copy(false)
		require.NoError(t, err, "a retired task keeps its registered copy")

		require.NoError(t, tk.SetRetired(ctx, false))
		assert.False(t, tk.Retired())
	})

	t.Run("ReloadMissingCopy", func(t *testing.T) {
		c, err := tk.Copy(true)
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(c.Dir))

		reloaded := task.NewIndex(st, tasksDir, tasktest.Author)
		require.NoError(t, reloaded.Load(ctx))
		again, err := reloaded.Get(tk.ID())
		require.NoError(t, err)

		status := again.Status()
		assert.Equal(t, types.BuildStatusFailure, status.Testing.Status)
		assert.Equal(t, task.InvalidRevision, status.Testing.Revision)
		_, err = again.Copy(true)
		require.ErrorIs(t, err, task.ErrCopyNotReady)

		info, err := again.ScheduleTesting(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, types.BuildStatusSuccess, info.Status, "a failed placeholder is replaced by a real build")
	})
}

func TestIndexLocalTask(t *testing.T) {
	ctx := context.Background()
	index := task.NewIndex(store.NewMemoryStore(), t.TempDir(), tasktest.Author)

	tk, err := index.Create(ctx, "")
	require.NoError(t, err)
	assert.DirExists(t, tk.DefinitionDir())
	assert.Equal(t, types.BuildStatusSuccess, tk.Status().Testing.Status, "new tasks start with a placeholder")

	info, err := tk.ScheduleTesting(ctx, worker.NewBlocking(localEnv(), worker.Options{}))
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusFailure, info.Status, "an empty definition has no task.json")

	_, err = tk.Copy(true)
	require.ErrorIs(t, err, task.ErrCopyNotReady)

	_, err = index.Get("missing")
	require.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestTaskScheduleWhileBusy(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	w := mockworker.NewMockWorker(ctrl)

	index := task.NewIndex(store.NewMemoryStore(), t.TempDir(), tasktest.Author)
	tk, err := index.Create(ctx, tasktest.NewDefinition(t, nil))
	require.NoError(t, err)

	// the queued build never runs
	w.EXPECT().Schedule(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	first, err := tk.ScheduleTesting(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusScheduled, first.Status)

	second, err := tk.ScheduleTesting(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusScheduled, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "the in-flight build is reported back")
}

func TestIndexFreshTasksDir(t *testing.T) {
	ctx := context.Background()
	tasksDir := filepath.Join(t.TempDir(), "tasks")
	index := task.NewIndex(store.NewMemoryStore(), tasksDir, tasktest.Author)

	tk, err := index.Create(ctx, tasktest.NewDefinition(t, nil))
	require.NoError(t, err)

	info, err := tk.ScheduleTesting(ctx, worker.NewBlocking(localEnv(), worker.Options{}))
	require.NoError(t, err)
	require.Equal(t, types.BuildStatusSuccess, info.Status, info.Exception)

	c, err := tk.Copy(true)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(tasksDir, "copies", c.ID))
}

func TestCopyHeldWhileInUse(t *testing.T) {
	ctx := context.Background()
	w := worker.NewBlocking(localEnv(), worker.Options{})
	index := task.NewIndex(store.NewMemoryStore(), t.TempDir(), tasktest.Author)

	tk, err := index.Create(ctx, tasktest.NewDefinition(t, nil))
	require.NoError(t, err)
	_, err = tk.ScheduleTesting(ctx, w)
	require.NoError(t, err)

	held, release, err := index.AcquireCopy(tk.ID(), true)
	require.NoError(t, err)

	_, err = tk.ScheduleTesting(ctx, w)
	require.NoError(t, err)
	latest, err := tk.Copy(true)
	require.NoError(t, err)
	require.NotEqual(t, held.ID, latest.ID)

	assert.DirExists(t, held.Dir, "a held copy outlives its replacement")
	release()
	assert.NoDirExists(t, held.Dir)
	assert.DirExists(t, latest.Dir)

	release()
	assert.DirExists(t, latest.Dir, "releasing twice is harmless")

	_, _, err = index.AcquireCopy("missing", true)
	require.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestLoadRemovesUnusedCopies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tasksDir := t.TempDir()
	index := task.NewIndex(st, tasksDir, tasktest.Author)

	tk, err := index.Create(ctx, tasktest.NewDefinition(t, nil))
	require.NoError(t, err)
	_, err = tk.ScheduleTesting(ctx, worker.NewBlocking(localEnv(), worker.Options{}))
	require.NoError(t, err)
	live, err := tk.Copy(true)
	require.NoError(t, err)

	// left behind by a build a restart interrupted
	stray := filepath.Join(tasksDir, "copies", "interrupted")
	require.NoError(t, os.MkdirAll(filepath.Join(stray, "harness"), 0o755))

	reloaded := task.NewIndex(st, tasksDir, tasktest.Author)
	require.NoError(t, reloaded.Load(ctx))

	assert.NoDirExists(t, stray)
	assert.DirExists(t, live.Dir)
	got, err := reloaded.Copy(tk.ID(), true)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
}
