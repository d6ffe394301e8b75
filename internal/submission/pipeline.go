package submission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/audit"
	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/upload"
	"github.com/pottery-backend/pottery/internal/worker"
)

const (
	StageCompile  worker.Stage = "compile"
	StageHarness  worker.Stage = "harness"
	StageValidate worker.Stage = "validate"
	StageFinish   worker.Stage = "finish"
)

// Ensure Pipeline implements Pipeline interface.
var _ worker.Pipeline = (*Pipeline)(nil)

// Ensure Pipeline implements Abandoner interface.
var _ worker.Abandoner = (*Pipeline)(nil)

// Grades one tag of a repository against a task copy
type Pipeline struct {
	scheduledAt time.Time
	acc         *accumulator
	copy        *task.Copy
	release     func()
	repo        *repo.Repo
	archiver    upload.Uploader
	codeDir     string
}

func (p *Pipeline) chain() worker.Chain {
	finish := worker.Job{Stage: StageFinish, Pipeline: p}
	return worker.Chain{
		Jobs: []worker.Job{
			{Stage: StageCompile, Pipeline: p},
			{Stage: StageHarness, Pipeline: p},
			{Stage: StageValidate, Pipeline: p},
		},
		Continuation: &finish,
		Policy:       worker.ContinueAlways,
	}
}

func (p *Pipeline) DescribeStage(stage worker.Stage) string {
	switch stage {
	case StageCompile:
		return fmt.Sprintf("Compile %s of repo %s", p.acc.tag, p.acc.repoID)
	case StageHarness:
		return fmt.Sprintf("Run harness on %s of repo %s", p.acc.tag, p.acc.repoID)
	case StageValidate:
		return fmt.Sprintf("Validate %s of repo %s", p.acc.tag, p.acc.repoID)
	case StageFinish:
		return fmt.Sprintf("Record result of %s of repo %s", p.acc.tag, p.acc.repoID)
	}
	return string(stage)
}

func (p *Pipeline) RunStage(ctx context.Context, env *worker.Env, stage worker.Stage) worker.Outcome {
	ctx, span := tracer.Start(ctx, "Pipeline.RunStage", trace.WithAttributes(
		attribute.String("repo_id", p.acc.repoID),
		attribute.String("tag", p.acc.tag),
		attribute.String("stage", string(stage)),
	))
	defer span.End()

	var outcome worker.Outcome
	switch stage {
	case StageCompile:
		outcome = p.compile(ctx, env)
	case StageHarness:
		outcome = p.runHarness(ctx, env)
	case StageValidate:
		outcome = p.validate(ctx, env)
	case StageFinish:
		outcome = p.finish(ctx, env)
	default:
		span.SetStatus(codes.Error, "unknown stage")
		return worker.OutcomeFailed
	}

	span.SetAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.String("status", string(p.acc.status)),
	)
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran stage")
	return outcome
}

// The stage panicked or ran out of retries. finish still runs and records the failure.
func (p *Pipeline) Abandon(ctx context.Context, stage worker.Stage, err error) {
	logger.Logger.WarnContext(ctx, "grading stage abandoned",
		"repo_id", p.acc.repoID, "tag", p.acc.tag, "stage", stage, "error", err)
	p.acc.summary = fmt.Sprintf("Failed to %s: %v", stage, err)
	if !p.acc.status.Terminal() {
		p.acc.complete()
	}
}

// Writes the current state of the attempt to the store
func (p *Pipeline) persist(ctx context.Context, env *worker.Env) error {
	return env.Store.UpdateSubmission(ctx, p.acc.Build())
}

// Sets a running status and persists it. A store failure asks for the stage to be retried.
func (p *Pipeline) start(ctx context.Context, env *worker.Env, status types.SubmissionStatus) bool {
	p.acc.status = status
	if err := p.persist(ctx, env); err != nil {
		logger.Logger.ErrorContext(ctx, "failed to persist submission",
			"repo_id", p.acc.repoID, "tag", p.acc.tag, "error", err)
		return false
	}
	return true
}

func unavailable(err error) bool {
	return errors.Is(err, containers.ErrUnavailable)
}

// Summary for executions that did not complete
func failure(tool string, status types.ExecStatus) string {
	switch status {
	case types.ExecStatusFailedDisk:
		return tool + " exceeded its disk quota"
	case types.ExecStatusFailedOOM:
		return tool + " ran out of memory"
	case types.ExecStatusFailedTimeout:
		return tool + " timed out"
	case types.ExecStatusCompleted, types.ExecStatusFailedUnknown:
	}
	return tool + " failed"
}

func (p *Pipeline) compile(ctx context.Context, env *worker.Env) worker.Outcome {
	if p.acc.status == types.SubmissionStatusPending {
		p.acc.waitTime = time.Since(p.scheduledAt)
	}
	if !p.start(ctx, env, types.SubmissionStatusCompilationRunning) {
		return worker.OutcomeRetry
	}

	// a previous attempt of this stage may have left a checkout behind
	if err := os.RemoveAll(p.codeDir); err != nil {
		p.acc.summary = fmt.Sprintf("Failed to prepare code: %v", err)
		p.acc.setCompilation("", false, 0)
		return worker.OutcomeFailed
	}
	if err := p.repo.MaterializeTag(ctx, p.acc.tag, p.codeDir); err != nil {
		p.acc.summary = fmt.Sprintf("Failed to check out %s: %v", p.acc.tag, err)
		p.acc.setCompilation("", false, 0)
		return worker.OutcomeFailed
	}

	res, err := env.Containers.ExecSolutionCompile(
		ctx, p.codeDir, p.copy.CompileDir(), p.copy.Info.Image, p.copy.Info.CompilationRestrictions,
	)
	if unavailable(err) {
		return worker.OutcomeRetry
	}
	if err != nil {
		p.acc.summary = fmt.Sprintf("Failed to run compiler: %v", err)
		p.acc.setCompilation("", false, 0)
		return worker.OutcomeFailed
	}

	ok := res.Status == types.ExecStatusCompleted
	p.acc.setCompilation(res.RawResponse, ok, res.ExecutionTime)
	if !ok {
		p.acc.summary = failure("Compilation", res.Status)
		return worker.OutcomeFailed
	}
	return p.stageDone(ctx, env)
}

func (p *Pipeline) runHarness(ctx context.Context, env *worker.Env) worker.Outcome {
	if !p.start(ctx, env, types.SubmissionStatusHarnessRunning) {
		return worker.OutcomeRetry
	}

	res, err := env.Containers.ExecHarness(
		ctx, p.codeDir, p.copy.HarnessDir(), p.copy.Info.Image, p.copy.Info.HarnessRestrictions,
	)
	if unavailable(err) {
		return worker.OutcomeRetry
	}
	if err != nil {
		p.acc.setHarness(types.HarnessResponse{}, 0)
		p.acc.summary = fmt.Sprintf("Failed to run harness: %v", err)
		return worker.OutcomeFailed
	}

	if res.Status != types.ExecStatusCompleted {
		p.acc.setHarness(types.HarnessResponse{}, res.ExecutionTime)
		p.acc.summary = failure("Harness", res.Status)
		return worker.OutcomeFailed
	}
	p.acc.setHarness(res.Response, res.ExecutionTime)
	if !res.Response.Completed {
		if p.acc.summary == "" {
			p.acc.summary = "Harness did not run to completion"
		}
		return worker.OutcomeFailed
	}
	return p.stageDone(ctx, env)
}

func (p *Pipeline) validate(ctx context.Context, env *worker.Env) worker.Outcome {
	if !p.start(ctx, env, types.SubmissionStatusValidatorRunning) {
		return worker.OutcomeRetry
	}

	res, err := env.Containers.ExecValidator(
		ctx, p.copy.ValidatorDir(), *p.acc.harness, p.copy.Info.Image, p.copy.Info.ValidatorRestrictions,
	)
	if unavailable(err) {
		return worker.OutcomeRetry
	}
	if err != nil {
		p.acc.setValidator(types.ValidatorResponse{}, 0)
		p.acc.summary = fmt.Sprintf("Failed to run validator: %v", err)
		return worker.OutcomeFailed
	}

	if res.Status != types.ExecStatusCompleted {
		p.acc.setValidator(types.ValidatorResponse{}, res.ExecutionTime)
		p.acc.summary = failure("Validator", res.Status)
		return worker.OutcomeFailed
	}
	p.acc.setValidator(res.Response, res.ExecutionTime)
	if !res.Response.Completed {
		if p.acc.summary == "" {
			p.acc.summary = "Validator did not run to completion"
		}
		return worker.OutcomeFailed
	}
	return p.stageDone(ctx, env)
}

// Persists a completed stage. The stage already ran, so a store failure is left for finish to retry.
func (p *Pipeline) stageDone(ctx context.Context, env *worker.Env) worker.Outcome {
	if err := p.persist(ctx, env); err != nil {
		logger.Logger.WarnContext(ctx, "failed to persist stage result",
			"repo_id", p.acc.repoID, "tag", p.acc.tag, "status", p.acc.status, "error", err)
	}
	return worker.OutcomeOK
}

// Runs after every attempt, successful or not. Settles a terminal status, persists it, removes the
// checkout, lets go of the task copy and archives the record.
func (p *Pipeline) finish(ctx context.Context, env *worker.Env) worker.Outcome {
	if !p.acc.status.Terminal() {
		p.acc.complete()
	}

	s := p.acc.Build()
	if err := env.Store.UpdateSubmission(ctx, s); err != nil {
		logger.Logger.ErrorContext(ctx, "failed to persist finished submission",
			"repo_id", p.acc.repoID, "tag", p.acc.tag, "error", err)
		return worker.OutcomeRetry
	}

	if err := os.RemoveAll(p.codeDir); err != nil {
		logger.Logger.WarnContext(ctx, "failed to remove checkout", "dir", p.codeDir, "error", err)
	}
	p.release()

	if p.archiver != nil {
		p.archive(ctx, s)
	}

	audit.LogSubmissionGraded(p.repo.TaskID(), s)
	logger.Logger.InfoContext(ctx, "graded submission",
		"repo_id", s.RepoID, "tag", s.Tag, "status", s.Status, "wait_time_ms", s.WaitTimeMs)
	return worker.OutcomeOK
}

// Archive failures are logged and never change the result
func (p *Pipeline) archive(ctx context.Context, s *models.Submission) {
	key := archiveKey(s.RepoID, s.Tag)
	sum, err := upload.JSON(ctx, p.archiver, key, s)
	if err != nil {
		logger.Logger.ErrorContext(ctx, "failed to archive submission",
			"repo_id", s.RepoID, "tag", s.Tag, "error", err)
		return
	}

	bucket, err := p.archiver.StoreIdentifier(ctx)
	if err != nil {
		logger.Logger.WarnContext(ctx, "failed to identify archive store", "error", err)
		bucket = "unknown"
	}
	audit.LogFileArchived(p.repo.TaskID(), s.RepoID, bucket, key, sum, audit.EntitySubmission, s.Tag)
}

func archiveKey(repoID, tag string) string {
	return fmt.Sprintf("submissions/%s/%s.json", repoID, tag)
}
