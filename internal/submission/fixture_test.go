package submission_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pottery-backend/pottery/internal/command"
	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/submission"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/task/tasktest"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/upload"
	"github.com/pottery-backend/pottery/internal/worker"
)

// A built no-op task with one student repository tagged online-1
type fixture struct {
	store   store.Store
	tasks   *task.Index
	repos   *repo.Factory
	repo    *repo.Repo
	workDir string
	tag     string
}

func local() containers.Manager {
	return containers.NewLocalManager(command.NewShellExecutor())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	root := t.TempDir()

	tasks := task.NewIndex(st, filepath.Join(root, "tasks"), tasktest.Author)
	tk, err := tasks.Create(ctx, tasktest.NewDefinition(t, nil))
	require.NoError(t, err)

	build := worker.NewBlocking(&worker.Env{Containers: local(), Store: st}, worker.Options{})
	info, err := tk.ScheduleTesting(ctx, build)
	require.NoError(t, err)
	require.Equal(t, types.BuildStatusSuccess, info.Status, info.Exception)
	c, err := tk.Copy(true)
	require.NoError(t, err)

	repos := repo.NewFactory(st, filepath.Join(root, "repos"), tasktest.Author)
	r, err := repos.Create(ctx, repo.CreateOptions{
		ExpiryDate:          time.Now().Add(time.Hour),
		TaskID:              tk.ID(),
		UsingTestingVersion: true,
	}, c.SkeletonDir())
	require.NoError(t, err)
	tag, err := r.CreateNewTag(ctx)
	require.NoError(t, err)

	return &fixture{
		store:   st,
		tasks:   tasks,
		repos:   repos,
		repo:    r,
		workDir: filepath.Join(root, "submissions"),
		tag:     tag,
	}
}

func (f *fixture) blocking(mgr containers.Manager, opts worker.Options) worker.Worker {
	return worker.NewBlocking(&worker.Env{Containers: mgr, Store: f.store, Repos: f.repos}, opts)
}

func (f *fixture) service(w worker.Worker, archiver upload.Uploader) *submission.Service {
	return submission.NewService(f.store, f.repos, f.tasks, w, f.workDir, archiver)
}
