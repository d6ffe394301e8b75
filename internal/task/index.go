package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/vcs"
)

var ErrTaskNotFound = errors.New("task not found")

// How many tasks are restored at once on start-up
const loadConcurrency = 8

// Every task known to this server
type Index struct {
	tasks          *xsync.MapOf[string, *Task]
	store          store.Store
	author         vcs.Signature
	definitionsDir string
	copiesDir      string
}

// Task definitions live under tasksDir/definitions and their builds under tasksDir/copies
func NewIndex(st store.Store, tasksDir string, author vcs.Signature) *Index {
	return &Index{
		tasks:          xsync.NewMapOf[string, *Task](),
		store:          st,
		author:         author,
		definitionsDir: filepath.Join(tasksDir, "definitions"),
		copiesDir:      filepath.Join(tasksDir, "copies"),
	}
}

func (x *Index) newTask(id, remote string) *Task {
	return &Task{
		store:         x.store,
		testing:       SuccessPlaceholder(id),
		id:            id,
		remote:        remote,
		definitionDir: filepath.Join(x.definitionsDir, id),
		copiesDir:     x.copiesDir,
	}
}

// Creates a task backed by a clone of remote, or by a new empty definition repository when remote
// is empty
func (x *Index) Create(ctx context.Context, remote string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "Index.Create", trace.WithAttributes(
		attribute.String("remote", remote),
	))
	defer span.End()

	t := x.newTask(uuid.NewString(), remote)
	span.SetAttributes(attribute.String("task_id", t.id))

	if err := os.MkdirAll(x.definitionsDir, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create definitions directory")
		return nil, err
	}

	var err error
	if remote != "" {
		err = vcs.Clone(ctx, remote, t.definitionDir)
	} else {
		_, err = vcs.Init(ctx, t.definitionDir, x.author)
	}
	if err != nil {
		_ = os.RemoveAll(t.definitionDir)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create task definition")
		return nil, fmt.Errorf("failed to create definition of task %s: %w", t.id, err)
	}

	if err := t.save(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist task")
		return nil, err
	}
	x.tasks.Store(t.id, t)

	logger.Logger.InfoContext(ctx, "created task", "task_id", t.id, "remote", remote)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created task")
	return t, nil
}

func (x *Index) Get(id string) (*Task, error) {
	t, ok := x.tasks.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// Every task ordered by id
func (x *Index) List() []*Task {
	tasks := make([]*Task, 0, x.tasks.Size())
	x.tasks.Range(func(_ string, t *Task) bool {
		tasks = append(tasks, t)
		return true
	})
	slices.SortFunc(tasks, func(a, b *Task) int { return strings.Compare(a.id, b.id) })
	return tasks
}

// The current copy of a task's testing or registered slot
func (x *Index) Copy(taskID string, testing bool) (*Copy, error) {
	t, err := x.Get(taskID)
	if err != nil {
		return nil, err
	}
	return t.Copy(testing)
}

// Holds the current copy of a task's slot until release is called
func (x *Index) AcquireCopy(taskID string, testing bool) (*Copy, func(), error) {
	t, err := x.Get(taskID)
	if err != nil {
		return nil, nil, err
	}
	return t.AcquireCopy(testing)
}

func (x *Index) restoreSlot(row *models.Task, copyID *string) (*Builder, *Copy) {
	if copyID == nil {
		return SuccessPlaceholder(row.ID), nil
	}
	c, err := LoadCopy(*copyID, row.ID, filepath.Join(x.copiesDir, *copyID))
	if err != nil {
		logger.Logger.Warn("failed to reopen task copy", "task_id", row.ID, "copy_id", *copyID, "error", err)
		return FailurePlaceholder(row.ID, err), nil
	}
	return BuilderForExisting(c), c
}

func (x *Index) restore(row *models.Task) *Task {
	t := x.newTask(row.ID, row.Remote)
	t.retired = row.Retired
	if rev := models.PtrFromNull(row.RegisteredRevision); rev != nil {
		t.registeredRev = *rev
	}

	if _, err := os.Stat(t.definitionDir); err != nil {
		logger.Logger.Warn("task definition is missing", "task_id", row.ID, "error", err)
		t.testing = FailurePlaceholder(row.ID, err)
		return t
	}

	t.testing, t.testingCopy = x.restoreSlot(row, models.PtrFromNull(row.TestingCopyID))
	if t.registeredRev != "" {
		t.registered, t.registeredCopy = x.restoreSlot(row, models.PtrFromNull(row.RegisteredCopyID))
	}
	return t
}

// Restores every persisted task, reusing copies built before the restart
func (x *Index) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Index.Load")
	defer span.End()

	rows, err := x.store.ListTasks(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks")
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i := range rows {
		row := &rows[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x.tasks.Store(row.ID, x.restore(row))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load tasks")
		return err
	}

	removed, err := x.sweepCopies()
	if err != nil {
		logger.Logger.WarnContext(ctx, "failed to remove unused task copies", "error", err)
	}

	span.SetAttributes(attribute.Int("tasks", len(rows)), attribute.Int("copies.removed", removed))
	logger.Logger.InfoContext(ctx, "loaded tasks", "count", len(rows), "removed_copies", removed)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "loaded tasks")
	return nil
}

// Removes copy directories no loaded task points at: superseded copies whose last user was a
// previous run, and builds a restart interrupted. Only safe before any build is scheduled.
func (x *Index) sweepCopies() (int, error) {
	entries, err := os.ReadDir(x.copiesDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	live := make(map[string]struct{})
	x.tasks.Range(func(_ string, t *Task) bool {
		t.mu.Lock()
		for _, c := range []*Copy{t.testingCopy, t.registeredCopy} {
			if c != nil {
				live[c.ID] = struct{}{}
			}
		}
		t.mu.Unlock()
		return true
	})

	removed := 0
	var errs []error
	for _, e := range entries {
		if _, ok := live[e.Name()]; ok || !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(x.copiesDir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
