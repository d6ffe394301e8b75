package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/vcs"
	"github.com/pottery-backend/pottery/internal/worker"
)

var (
	ErrCopyNotReady = errors.New("task has no successful build")
	ErrRetired      = errors.New("task is retired")
)

// A task definition with two build slots. The testing slot follows the head of the definition, the
// registered slot is pinned to a revision students are graded against.
type Task struct {
	store          store.Store
	testing        *Builder
	registered     *Builder
	testingCopy    *Copy
	registeredCopy *Copy
	id             string
	remote         string
	definitionDir  string
	copiesDir      string
	registeredRev  string
	retired        bool
	mu             sync.Mutex
}

type Status struct {
	Testing            BuilderSnapshot  `json:"testing"`
	Registered         *BuilderSnapshot `json:"registered,omitempty"`
	TestingInfo        *types.TaskInfo  `json:"testing_info,omitempty"`
	RegisteredInfo     *types.TaskInfo  `json:"registered_info,omitempty"`
	ID                 string           `json:"task_id"`
	Remote             string           `json:"remote,omitempty"`
	RegisteredRevision string           `json:"registered_revision,omitempty"`
	Retired            bool             `json:"retired"`
}

func (t *Task) ID() string {
	return t.id
}

func (t *Task) DefinitionDir() string {
	return t.definitionDir
}

func (t *Task) Retired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retired
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Status{
		Testing:            t.testing.Info(),
		ID:                 t.id,
		Remote:             t.remote,
		RegisteredRevision: t.registeredRev,
		Retired:            t.retired,
	}
	if t.registered != nil {
		r := t.registered.Info()
		s.Registered = &r
	}
	if t.testingCopy != nil {
		s.TestingInfo = &t.testingCopy.Info
	}
	if t.registeredCopy != nil {
		s.RegisteredInfo = &t.registeredCopy.Info
	}
	return s
}

// The latest successfully built copy of the testing or registered slot
func (t *Task) Copy(testing bool) (*Copy, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.registeredCopy
	if testing {
		c = t.testingCopy
	}
	if c == nil {
		return nil, fmt.Errorf("%w: task %s", ErrCopyNotReady, t.id)
	}
	return c, nil
}

// Like Copy, but keeps the copy's files until release is called even when a newer build replaces it
func (t *Task) AcquireCopy(testing bool) (*Copy, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.registeredCopy
	if testing {
		c = t.testingCopy
	}
	if c == nil {
		return nil, nil, fmt.Errorf("%w: task %s", ErrCopyNotReady, t.id)
	}
	return c, c.acquire(), nil
}

// must hold mu
func (t *Task) rowLocked() *models.Task {
	row := &models.Task{ID: t.id, Remote: t.remote, Retired: t.retired}
	if t.registeredRev != "" {
		row.RegisteredRevision = models.NewNullFromData(t.registeredRev)
	}
	if t.testingCopy != nil {
		row.TestingCopyID = models.NewNullFromData(t.testingCopy.ID)
	}
	if t.registeredCopy != nil {
		row.RegisteredCopyID = models.NewNullFromData(t.registeredCopy.ID)
	}
	return row
}

func (t *Task) save(ctx context.Context) error {
	t.mu.Lock()
	row := t.rowLocked()
	t.mu.Unlock()
	return t.store.SaveTask(ctx, row)
}

func (t *Task) newBuilder(revision string) *Builder {
	copyID := uuid.NewString()
	return NewBuilder(t.id, copyID, revision, t.definitionDir, filepath.Join(t.copiesDir, copyID))
}

// Starts a build of the head of the definition, pulling from the remote first if there is one. Does
// nothing while a testing build is in flight.
func (t *Task) ScheduleTesting(ctx context.Context, w worker.Worker) (BuilderSnapshot, error) {
	ctx, span := tracer.Start(ctx, "Task.ScheduleTesting", trace.WithAttributes(
		attribute.String("task_id", t.id),
	))
	defer span.End()

	if t.remote != "" {
		if err := vcs.Pull(ctx, t.definitionDir); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to pull task definition")
			return BuilderSnapshot{}, fmt.Errorf("failed to update task %s from %s: %w", t.id, t.remote, err)
		}
	}

	known, err := vcs.Resolve(ctx, t.definitionDir, PlaceholderRevision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve head of task definition")
		return BuilderSnapshot{}, err
	}

	b, scheduled, err := t.schedule(ctx, w, true, known)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to schedule testing build")
		return BuilderSnapshot{}, err
	}
	span.SetAttributes(attribute.Bool("scheduled", scheduled))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled testing build")
	return b.Info(), nil
}

// Starts a build of revision into the registered slot. Students are graded against it once it
// succeeds.
func (t *Task) Register(ctx context.Context, w worker.Worker, revision string) (BuilderSnapshot, error) {
	ctx, span := tracer.Start(ctx, "Task.Register", trace.WithAttributes(
		attribute.String("task_id", t.id),
		attribute.String("revision", revision),
	))
	defer span.End()

	if t.Retired() {
		span.RecordError(ErrRetired)
		span.SetStatus(codes.Error, "task is retired")
		return BuilderSnapshot{}, ErrRetired
	}

	commit, err := vcs.Resolve(ctx, t.definitionDir, revision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve revision")
		return BuilderSnapshot{}, err
	}

	b, scheduled, err := t.schedule(ctx, w, false, commit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to schedule registration build")
		return BuilderSnapshot{}, err
	}
	span.SetAttributes(attribute.Bool("scheduled", scheduled))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled registration build")
	return b.Info(), nil
}

// Replaces the builder of a slot unless the current one is busy, which is then returned unchanged
func (t *Task) schedule(
	ctx context.Context,
	w worker.Worker,
	testing bool,
	commit string,
) (*Builder, bool, error) {
	t.mu.Lock()
	current := t.registered
	if testing {
		current = t.testing
	}
	if current != nil && !current.Status().Replaceable() {
		t.mu.Unlock()
		return current, false, nil
	}

	b := t.newBuilder(commit)
	// a fresh builder is always replaceable
	if _, err := b.reserve(); err != nil {
		t.mu.Unlock()
		return nil, false, err
	}
	if testing {
		t.testing = b
	} else {
		t.registered = b
	}
	t.mu.Unlock()

	promote := worker.Func(
		fmt.Sprintf("Promote copy %s of task %s", b.copyID, t.id),
		func(ctx context.Context, _ *worker.Env) worker.Outcome {
			return t.promote(ctx, b, testing)
		},
	)
	if err := b.enqueue(ctx, w, &promote); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *Task) promote(ctx context.Context, b *Builder, testing bool) worker.Outcome {
	c, ok := b.TaskCopy()
	if !ok {
		return worker.OutcomeFailed
	}

	t.mu.Lock()
	previous := t.registeredCopy
	if testing {
		previous = t.testingCopy
		t.testingCopy = c
	} else {
		t.registeredCopy = c
		t.registeredRev = c.Commit
	}
	if previous != nil && previous != c {
		previous.supersede()
	}
	row := t.rowLocked()
	t.mu.Unlock()

	if err := t.store.SaveTask(ctx, row); err != nil {
		logger.Logger.ErrorContext(ctx, "failed to persist task", "task_id", t.id, "error", err)
		return worker.OutcomeRetry
	}

	logger.Logger.InfoContext(ctx, "promoted task copy",
		"task_id", t.id, "copy_id", c.ID, "commit", c.Commit, "testing", testing)
	return worker.OutcomeOK
}

func (t *Task) SetRetired(ctx context.Context, retired bool) error {
	ctx, span := tracer.Start(ctx, "Task.SetRetired", trace.WithAttributes(
		attribute.String("task_id", t.id),
		attribute.Bool("retired", retired),
	))
	defer span.End()

	t.mu.Lock()
	t.retired = retired
	t.mu.Unlock()

	if err := t.save(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist task")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "updated task")
	return nil
}
