package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/audit"
	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/vcs"
	"github.com/pottery-backend/pottery/internal/worker"
)

const name string = "github.com/pottery-backend/pottery/internal/task"

var tracer = otel.Tracer(name)

const (
	StageCopy    worker.Stage = "copy"
	StageCompile worker.Stage = "compile"
)

const (
	// Revision of a builder standing in for a build that never ran
	PlaceholderRevision = "HEAD"
	// Revision of a builder standing in for a task that could not be loaded
	InvalidRevision = "INVALID"
)

var ErrNotSchedulable = errors.New("placeholder builders cannot be scheduled")

// Ensure Builder implements worker.Pipeline interface.
var _ worker.Pipeline = (*Builder)(nil)

// Ensure Builder implements worker.Abandoner interface.
var _ worker.Abandoner = (*Builder)(nil)

// Builds one task copy: materialize the definition, then compile and verify it against the
// reference solution.
type Builder struct {
	info          *BuilderInfo
	copy          *Copy // published under info.mu together with SUCCESS
	staged        *Copy // owned by the running chain
	taskID        string
	copyID        string
	revision      string
	definitionDir string
	copyDir       string
}

// Builds definitionDir at revision into copyDir, exclusive to this builder
func NewBuilder(taskID, copyID, revision, definitionDir, copyDir string) *Builder {
	return &Builder{
		info:          newBuilderInfo(revision, types.BuildStatusNotStarted),
		taskID:        taskID,
		copyID:        copyID,
		revision:      revision,
		definitionDir: definitionDir,
		copyDir:       copyDir,
	}
}

// Wraps a copy built before a restart
func BuilderForExisting(c *Copy) *Builder {
	info := newBuilderInfo(c.Commit, types.BuildStatusSuccess)
	info.commit = c.Commit
	return &Builder{info: info, copy: c, taskID: c.TaskID, copyID: c.ID, revision: c.Commit, copyDir: c.Dir}
}

// A builder with nothing to build that may be replaced by a real one
func SuccessPlaceholder(taskID string) *Builder {
	return &Builder{
		info:     newBuilderInfo(PlaceholderRevision, types.BuildStatusSuccess),
		taskID:   taskID,
		revision: PlaceholderRevision,
	}
}

// Records why the task could not be loaded
func FailurePlaceholder(taskID string, cause error) *Builder {
	info := newBuilderInfo(InvalidRevision, types.BuildStatusFailure)
	info.cause = cause
	return &Builder{info: info, taskID: taskID, revision: InvalidRevision}
}

func (b *Builder) Info() BuilderSnapshot {
	return b.info.Snapshot()
}

func (b *Builder) Status() types.BuildStatus {
	return b.info.Status()
}

func (b *Builder) Cause() error {
	return b.info.Cause()
}

// The built copy, only once the build succeeded
func (b *Builder) TaskCopy() (*Copy, bool) {
	b.info.mu.Lock()
	defer b.info.mu.Unlock()
	if b.info.status != types.BuildStatusSuccess || b.copy == nil {
		return nil, false
	}
	return b.copy, true
}

// Claims the builder for a new attempt. False when an attempt is already in flight.
func (b *Builder) reserve() (bool, error) {
	if b.definitionDir == "" {
		return false, ErrNotSchedulable
	}

	b.info.mu.Lock()
	defer b.info.mu.Unlock()
	if !b.info.reserveLocked() {
		return false, nil
	}
	b.copy = nil
	return true, nil
}

func (b *Builder) enqueue(ctx context.Context, w worker.Worker, continuation *worker.Job) error {
	err := w.Schedule(ctx, worker.Chain{
		Jobs: []worker.Job{
			{Stage: StageCopy, Pipeline: b},
			{Stage: StageCompile, Pipeline: b},
		},
		Continuation: continuation,
		Policy:       worker.ContinueOnSuccess,
	})
	if err != nil {
		b.info.fail(fmt.Errorf("failed to schedule build: %w", err))
		return err
	}
	return nil
}

// Queues the build on w. Scheduling a builder that is already busy does nothing and reports false.
// The continuation runs only after a successful build.
func (b *Builder) Schedule(ctx context.Context, w worker.Worker, continuation *worker.Job) (bool, error) {
	ok, err := b.reserve()
	if err != nil || !ok {
		return false, err
	}
	if err := b.enqueue(ctx, w, continuation); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Builder) DescribeStage(stage worker.Stage) string {
	switch stage {
	case StageCopy:
		return fmt.Sprintf("Copy files into copy of task %s at %s", b.taskID, b.revision)
	case StageCompile:
		return fmt.Sprintf("Compile tests for task %s at %s", b.taskID, b.revision)
	}
	return fmt.Sprintf("Unknown stage %s of task %s", stage, b.taskID)
}

func (b *Builder) RunStage(ctx context.Context, env *worker.Env, stage worker.Stage) worker.Outcome {
	switch stage {
	case StageCopy:
		return b.copyFiles(ctx)
	case StageCompile:
		return b.compile(ctx, env.Containers)
	}
	b.info.fail(fmt.Errorf("unknown build stage %q", stage))
	return worker.OutcomeFailed
}

func (b *Builder) Abandon(_ context.Context, stage worker.Stage, err error) {
	err = fmt.Errorf("%s: %w", b.DescribeStage(stage), err)
	b.info.fail(err)
	audit.LogTaskBuilt(b.taskID, b.copyID, b.revision, types.BuildStatusFailure, err)
}

func (b *Builder) copyFiles(ctx context.Context) worker.Outcome {
	ctx, span := tracer.Start(ctx, "Builder.copyFiles", trace.WithAttributes(
		attribute.String("task_id", b.taskID),
		attribute.String("copy_id", b.copyID),
		attribute.String("revision", b.revision),
	))
	defer span.End()

	logger.Logger.InfoContext(ctx, "copying task files", "task_id", b.taskID, "copy_id", b.copyID)
	b.info.setStatus(types.BuildStatusCopyingFiles)

	// a previous attempt in the same slot may have left files behind
	if err := os.RemoveAll(b.copyDir); err != nil {
		return b.abort(span, fmt.Errorf("failed to clear copy directory %s: %w", b.copyDir, err))
	}

	commit, err := vcs.Materialize(ctx, b.definitionDir, b.revision, b.copyDir)
	if err != nil {
		return b.abort(span, fmt.Errorf(
			"failed to create copy of %s at %s: %w", b.definitionDir, b.revision, err,
		))
	}
	b.info.update(func(i *BuilderInfo) { i.commit = commit })

	info, err := LoadInfo(b.copyDir)
	if err != nil {
		return b.abort(span, err)
	}

	b.staged = &Copy{
		ID:     b.copyID,
		TaskID: b.taskID,
		Commit: commit,
		Dir:    b.copyDir,
		Info:   *info,
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "copied task files")
	return worker.OutcomeOK
}

func (b *Builder) abort(span trace.Span, err error) worker.Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, "task build failed")
	logger.Logger.Warn("task build failed", "task_id", b.taskID, "copy_id", b.copyID, "error", err)
	b.info.fail(err)
	audit.LogTaskBuilt(b.taskID, b.copyID, b.revision, types.BuildStatusFailure, err)
	return worker.OutcomeFailed
}

// Decides whether a sub-step let the build continue. done is true when the stage must return
// outcome right away.
func (b *Builder) check(
	span trace.Span,
	step Step,
	err error,
	status types.ExecStatus,
	completed bool,
	raw string,
) (outcome worker.Outcome, done bool) {
	if errors.Is(err, containers.ErrUnavailable) {
		logger.Logger.Warn("container engine unavailable, retrying", "task_id", b.taskID, "error", err)
		span.AddEvent("container engine unavailable")
		return worker.OutcomeRetry, true
	}
	if err != nil {
		return b.abort(span, fmt.Errorf("%s: %w", step, err)), true
	}
	if status != types.ExecStatusCompleted || !completed {
		return b.abort(span, execFailure(step, status, raw)), true
	}
	return worker.OutcomeOK, false
}

func (b *Builder) compile(ctx context.Context, mgr containers.Manager) worker.Outcome {
	ctx, span := tracer.Start(ctx, "Builder.compile", trace.WithAttributes(
		attribute.String("task_id", b.taskID),
		attribute.String("copy_id", b.copyID),
	))
	defer span.End()

	c := b.staged
	if c == nil {
		return b.abort(span, errors.New("no task files were copied"))
	}
	image := c.Info.Image

	logger.Logger.InfoContext(ctx, "compiling tests", "task_id", b.taskID, "copy_id", b.copyID)
	b.info.setStatus(types.BuildStatusCompilingTest)
	testCompile, err := mgr.ExecHarnessCompile(ctx, c.Dir, image, c.Info.TaskCompilationRestrictions)
	if outcome, done := b.check(span, StepHarnessCompile, err, testCompile.Status, true, testCompile.RawResponse); done {
		return outcome
	}
	b.info.update(func(i *BuilderInfo) { i.testCompileOutput = testCompile.Response })

	b.info.setStatus(types.BuildStatusCompilingSolution)
	solutionCompile, err := mgr.ExecSolutionCompile(
		ctx, c.SolutionDir(), c.CompileDir(), image, c.Info.CompilationRestrictions,
	)
	if outcome, done := b.check(
		span, StepSolutionCompile, err, solutionCompile.Status, true, solutionCompile.RawResponse,
	); done {
		return outcome
	}
	b.info.update(func(i *BuilderInfo) { i.solutionCompileOutput = solutionCompile.Response })

	b.info.setStatus(types.BuildStatusTestingSolution)
	harness, err := mgr.ExecHarness(ctx, c.SolutionDir(), c.HarnessDir(), image, c.Info.HarnessRestrictions)
	if outcome, done := b.check(
		span, StepHarness, err, harness.Status, harness.Response.Completed, harness.RawResponse,
	); done {
		return outcome
	}
	b.info.update(func(i *BuilderInfo) { i.harness = &harness.Response })

	var measured []string
	for _, part := range harness.Response.TestParts {
		for _, m := range part.Measurements {
			measured = append(measured, m.Criterion)
		}
	}
	if unknown := unknownCriteria(c.Info.Criteria, measured...); len(unknown) > 0 {
		return b.abort(span, &InvalidSpecificationError{
			Step:   StepHarness,
			Reason: "Measurements for undeclared criteria " + strings.Join(unknown, ", "),
			Output: harness.RawResponse,
		})
	}

	validator, err := mgr.ExecValidator(ctx, c.ValidatorDir(), harness.Response, image, c.Info.ValidatorRestrictions)
	if outcome, done := b.check(
		span, StepValidator, err, validator.Status, validator.Response.Completed, validator.RawResponse,
	); done {
		return outcome
	}
	b.info.update(func(i *BuilderInfo) { i.validator = &validator.Response })

	var interpreted []string
	for _, i := range validator.Response.Interpretations {
		interpreted = append(interpreted, i.Criterion)
	}
	if unknown := unknownCriteria(c.Info.Criteria, interpreted...); len(unknown) > 0 {
		return b.abort(span, &InvalidSpecificationError{
			Step:   StepValidator,
			Reason: "Interpretations for undeclared criteria " + strings.Join(unknown, ", "),
			Output: validator.RawResponse,
		})
	}

	c.Verification = Verification{
		TestCompileOutput:     testCompile.Response,
		SolutionCompileOutput: solutionCompile.Response,
		Harness:               harness.Response,
		Validator:             validator.Response,
	}
	if err := c.writeVerified(); err != nil {
		return b.abort(span, fmt.Errorf("failed to record verification of copy %s: %w", c.ID, err))
	}

	b.publish(c)
	b.staged = nil
	audit.LogTaskBuilt(b.taskID, b.copyID, c.Commit, types.BuildStatusSuccess, nil)

	logger.Logger.InfoContext(ctx, "task build succeeded", "task_id", b.taskID, "copy_id", b.copyID, "commit", c.Commit)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "compiled and verified task")
	return worker.OutcomeOK
}

func (b *Builder) publish(c *Copy) {
	b.info.mu.Lock()
	defer b.info.mu.Unlock()
	b.copy = c
	b.info.status = types.BuildStatusSuccess
	b.info.updatedAt = time.Now()
}
