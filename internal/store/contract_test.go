package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/types"
)

// Behaviour every Store implementation shares
func testStore(t *testing.T, st store.Store) {
	ctx := context.Background()

	task := &models.Task{ID: "task-1", Remote: ""}
	require.NoError(t, st.SaveTask(ctx, task))

	repo := &models.Repo{
		ID:                  "repo-1",
		TaskID:              task.ID,
		UsingTestingVersion: true,
		ExpiryDate:          time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, st.CreateRepo(ctx, repo))

	t.Run("Tasks", func(t *testing.T) {
		task.RegisteredRevision = models.NewNullFromData("abc123")
		task.TestingCopyID = models.NewNullFromData("copy-1")
		require.NoError(t, st.SaveTask(ctx, task), "saving an existing task should update it")

		got, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "abc123", *models.PtrFromNull(got.RegisteredRevision))
		assert.Equal(t, "copy-1", *models.PtrFromNull(got.TestingCopyID))
		assert.Nil(t, models.PtrFromNull(got.RegisteredCopyID))

		tasks, err := st.ListTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		_, err = st.GetTask(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Repos", func(t *testing.T) {
		got, err := st.GetRepo(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.TaskID)
		assert.True(t, got.UsingTestingVersion)
		assert.True(t, repo.ExpiryDate.Equal(got.ExpiryDate))

		require.ErrorIs(t, st.CreateRepo(ctx, &models.Repo{
			ID:         repo.ID,
			TaskID:     task.ID,
			ExpiryDate: time.Now(),
		}), store.ErrExists)

		_, err = st.GetRepo(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Submissions", func(t *testing.T) {
		first := &models.Submission{RepoID: repo.ID, Tag: "online-1", Status: types.SubmissionStatusPending}
		require.NoError(t, st.CreateSubmission(ctx, first))

		require.ErrorIs(t, st.CreateSubmission(ctx, &models.Submission{
			RepoID: repo.ID,
			Tag:    "online-1",
			Status: types.SubmissionStatusPending,
		}), store.ErrExists)

		second := &models.Submission{RepoID: repo.ID, Tag: "online-2", Status: types.SubmissionStatusPending}
		require.NoError(t, st.CreateSubmission(ctx, second))

		first.Status = types.SubmissionStatusComplete
		first.CompilationOutput = "ok"
		first.CompilationTimeMs = 12
		first.TestSteps = []types.TestStep{{Description: "A no-op task", Result: types.InterpretationPassed}}
		require.NoError(t, st.UpdateSubmission(ctx, first))

		got, err := st.GetSubmission(ctx, repo.ID, "online-1")
		require.NoError(t, err)
		assert.Equal(t, types.SubmissionStatusComplete, got.Status)
		assert.Equal(t, "ok", got.CompilationOutput)
		assert.Equal(t, int64(12), got.CompilationTimeMs)
		require.Len(t, got.TestSteps, 1)
		assert.Equal(t, types.InterpretationPassed, got.TestSteps[0].Result)

		pending, err := st.ListSubmissions(ctx, types.NonTerminalSubmissionStatuses()...)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "online-2", pending[0].Tag)

		_, err = st.GetSubmission(ctx, repo.ID, "online-9")
		require.ErrorIs(t, err, store.ErrNotFound)

		require.ErrorIs(t, st.UpdateSubmission(ctx, &models.Submission{
			RepoID: repo.ID,
			Tag:    "online-9",
			Status: types.SubmissionStatusComplete,
		}), store.ErrNotFound)
	})
}
