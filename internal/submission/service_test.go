package submission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/submission"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/worker"
	mockworker "github.com/pottery-backend/pottery/internal/worker/mock"
)

func TestScheduleGrading(t *testing.T) {
	ctx := context.Background()

	t.Run("ConcurrentAdmission", func(t *testing.T) {
		f := newFixture(t)
		w := mockworker.NewMockWorker(gomock.NewController(t))
		w.EXPECT().Schedule(gomock.Any(), gomock.Any()).Return(nil).Times(1)
		svc := f.service(w, nil)

		const callers = 2
		var wg sync.WaitGroup
		errs := make([]error, callers)
		subs := make([]*models.Submission, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				subs[i], errs[i] = svc.ScheduleGrading(ctx, f.repo.ID(), f.tag)
			}()
		}
		wg.Wait()

		admitted := 0
		for i := range callers {
			if errs[i] == nil {
				admitted++
				assert.Equal(t, types.SubmissionStatusPending, subs[i].Status)
				continue
			}
			require.ErrorIs(t, errs[i], submission.ErrAlreadyScheduled)
		}
		assert.Equal(t, 1, admitted)

		s, err := svc.GetSubmission(ctx, f.repo.ID(), f.tag)
		require.NoError(t, err)
		assert.Equal(t, types.SubmissionStatusPending, s.Status, "the queued chain never ran")
	})

	t.Run("AlreadyGraded", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(f.blocking(local(), worker.Options{}), nil)

		_, err := svc.ScheduleGrading(ctx, f.repo.ID(), f.tag)
		require.NoError(t, err)
		_, err = svc.ScheduleGrading(ctx, f.repo.ID(), f.tag)
		require.ErrorIs(t, err, submission.ErrAlreadyScheduled)
	})

	t.Run("TagNotFound", func(t *testing.T) {
		f := newFixture(t)
		w := mockworker.NewMockWorker(gomock.NewController(t))
		svc := f.service(w, nil)

		_, err := svc.ScheduleGrading(ctx, f.repo.ID(), "online-9")
		require.ErrorIs(t, err, submission.ErrTagNotFound)

		_, err = svc.GetSubmission(ctx, f.repo.ID(), "online-9")
		require.ErrorIs(t, err, submission.ErrNotFound, "a rejected tag leaves no record")
	})

	t.Run("RepoNotFound", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(mockworker.NewMockWorker(gomock.NewController(t)), nil)

		_, err := svc.ScheduleGrading(ctx, "missing", f.tag)
		require.ErrorIs(t, err, repo.ErrRepoNotFound)
	})

	t.Run("TaskNotRegistered", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(mockworker.NewMockWorker(gomock.NewController(t)), nil)

		r, err := f.repos.Create(ctx, repo.CreateOptions{
			ExpiryDate: time.Now().Add(time.Hour),
			TaskID:     f.repo.TaskID(),
		}, "")
		require.NoError(t, err)
		tag, err := r.CreateNewTag(ctx)
		require.NoError(t, err)

		_, err = svc.ScheduleGrading(ctx, r.ID(), tag)
		require.ErrorIs(t, err, task.ErrCopyNotReady)
	})

	t.Run("DuplicateWithoutCopy", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(mockworker.NewMockWorker(gomock.NewController(t)), nil)

		r, err := f.repos.Create(ctx, repo.CreateOptions{
			ExpiryDate: time.Now().Add(time.Hour),
			TaskID:     f.repo.TaskID(),
		}, "")
		require.NoError(t, err)
		tag, err := r.CreateNewTag(ctx)
		require.NoError(t, err)
		require.NoError(t, f.store.CreateSubmission(ctx, &models.Submission{
			CreatedAt: time.Now(),
			RepoID:    r.ID(),
			Tag:       tag,
			Status:    types.SubmissionStatusComplete,
		}))

		_, err = svc.ScheduleGrading(ctx, r.ID(), tag)
		require.ErrorIs(t, err, submission.ErrAlreadyScheduled, "a known submission is reported before the task copy")
	})

	t.Run("CopyHeldUntilFinished", func(t *testing.T) {
		f := newFixture(t)
		var queued worker.Chain
		w := mockworker.NewMockWorker(gomock.NewController(t))
		w.EXPECT().
			Schedule(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, chain worker.Chain) error {
				queued = chain
				return nil
			}).
			Times(1)

		_, err := f.service(w, nil).ScheduleGrading(ctx, f.repo.ID(), f.tag)
		require.NoError(t, err)

		tk, err := f.tasks.Get(f.repo.TaskID())
		require.NoError(t, err)
		graded, err := tk.Copy(true)
		require.NoError(t, err)

		info, err := tk.ScheduleTesting(ctx, f.blocking(local(), worker.Options{}))
		require.NoError(t, err)
		require.Equal(t, types.BuildStatusSuccess, info.Status, info.Exception)
		assert.DirExists(t, graded.Dir, "the queued submission still grades against its copy")

		require.NoError(t, f.blocking(local(), worker.Options{}).Schedule(ctx, queued))
		assert.NoDirExists(t, graded.Dir)

		s, err := f.store.GetSubmission(ctx, f.repo.ID(), f.tag)
		require.NoError(t, err)
		assert.Equal(t, types.SubmissionStatusComplete, s.Status, s.SummaryMessage)
	})

	t.Run("WorkerRefuses", func(t *testing.T) {
		f := newFixture(t)
		w := mockworker.NewMockWorker(gomock.NewController(t))
		w.EXPECT().Schedule(gomock.Any(), gomock.Any()).Return(worker.ErrStopped).Times(1)
		svc := f.service(w, nil)

		_, err := svc.ScheduleGrading(ctx, f.repo.ID(), f.tag)
		require.ErrorIs(t, err, worker.ErrStopped)

		s, err := svc.GetSubmission(ctx, f.repo.ID(), f.tag)
		require.NoError(t, err)
		assert.Equal(t, types.SubmissionStatusCompilationFailed, s.Status)
		assert.Contains(t, s.SummaryMessage, "Failed to schedule grading")
	})

	t.Run("Chain", func(t *testing.T) {
		f := newFixture(t)
		w := mockworker.NewMockWorker(gomock.NewController(t))
		w.EXPECT().
			Schedule(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, chain worker.Chain) error {
				require.Len(t, chain.Jobs, 3)
				assert.Equal(t, submission.StageCompile, chain.Jobs[0].Stage)
				assert.Equal(t, submission.StageHarness, chain.Jobs[1].Stage)
				assert.Equal(t, submission.StageValidate, chain.Jobs[2].Stage)
				require.NotNil(t, chain.Continuation)
				assert.Equal(t, submission.StageFinish, chain.Continuation.Stage)
				assert.Equal(t, worker.ContinueAlways, chain.Policy)
				assert.Equal(t, "Compile "+f.tag+" of repo "+f.repo.ID(), chain.Jobs[0].Description())
				return nil
			}).
			Times(1)

		_, err := f.service(w, nil).ScheduleGrading(ctx, f.repo.ID(), f.tag)
		require.NoError(t, err)
	})
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(mockworker.NewMockWorker(gomock.NewController(t)), nil)

	want := map[types.SubmissionStatus]types.SubmissionStatus{
		types.SubmissionStatusPending:             types.SubmissionStatusCompilationFailed,
		types.SubmissionStatusCompilationRunning:  types.SubmissionStatusCompilationFailed,
		types.SubmissionStatusCompilationComplete: types.SubmissionStatusHarnessFailed,
		types.SubmissionStatusHarnessRunning:      types.SubmissionStatusHarnessFailed,
		types.SubmissionStatusHarnessComplete:     types.SubmissionStatusValidatorFailed,
		types.SubmissionStatusValidatorRunning:    types.SubmissionStatusValidatorFailed,
		types.SubmissionStatusValidatorComplete:   types.SubmissionStatusComplete,
		types.SubmissionStatusHarnessFailed:       types.SubmissionStatusHarnessFailed,
		types.SubmissionStatusComplete:            types.SubmissionStatusComplete,
	}
	for from := range want {
		require.NoError(t, f.store.CreateSubmission(ctx, &models.Submission{
			CreatedAt: time.Now(),
			RepoID:    f.repo.ID(),
			Tag:       string(from),
			Status:    from,
		}))
	}

	recovered, err := svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, recovered)

	for from, to := range want {
		t.Run(string(from), func(t *testing.T) {
			s, err := svc.GetSubmission(ctx, f.repo.ID(), string(from))
			require.NoError(t, err)
			assert.Equal(t, to, s.Status)
			if !from.Terminal() {
				assert.Contains(t, s.SummaryMessage, "Interrupted by a restart")
			}
		})
	}

	recovered, err = svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered, "recovery leaves nothing to recover")
}
