// Package submission grades tagged revisions of student repositories and records the results.
package submission

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/audit"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/upload"
	"github.com/pottery-backend/pottery/internal/worker"
)

const name = "github.com/pottery-backend/pottery/internal/submission"

var tracer = otel.Tracer(name)

var (
	ErrAlreadyScheduled = errors.New("submission already scheduled")
	ErrTagNotFound      = errors.New("tag not found")
	ErrNotFound         = errors.New("submission not found")
)

type Service struct {
	store    store.Store
	repos    *repo.Factory
	tasks    *task.Index
	worker   worker.Worker
	archiver upload.Uploader
	workDir  string
}

// Checkouts being graded live under workDir. A nil archiver disables archiving.
func NewService(
	st store.Store,
	repos *repo.Factory,
	tasks *task.Index,
	w worker.Worker,
	workDir string,
	archiver upload.Uploader,
) *Service {
	return &Service{
		store:    st,
		repos:    repos,
		tasks:    tasks,
		worker:   w,
		archiver: archiver,
		workDir:  workDir,
	}
}

// Admits tag of repoID for grading and queues it. At most one submission per repository and tag is
// ever admitted.
func (s *Service) ScheduleGrading(ctx context.Context, repoID, tag string) (*models.Submission, error) {
	ctx, span := tracer.Start(ctx, "Service.ScheduleGrading", trace.WithAttributes(
		attribute.String("repo_id", repoID),
		attribute.String("tag", tag),
	))
	defer span.End()

	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open repository")
		return nil, err
	}
	mu := s.repos.Lock(repoID)
	mu.Lock()
	defer mu.Unlock()

	_, err = s.store.GetSubmission(ctx, repoID, tag)
	if err == nil {
		err = fmt.Errorf("%w: %s of %s", ErrAlreadyScheduled, tag, repoID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission exists")
		return nil, err
	}

	exists, err := r.TagExists(ctx, tag)
	if err == nil && !exists {
		err = fmt.Errorf("%w: %s in %s", ErrTagNotFound, tag, repoID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to find tag")
		return nil, err
	}

	c, release, err := s.tasks.AcquireCopy(r.TaskID(), r.UsingTestingVersion())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task has no copy to grade against")
		return nil, err
	}

	pending := &models.Submission{
		CreatedAt: time.Now(),
		RepoID:    repoID,
		Tag:       tag,
		Status:    types.SubmissionStatusPending,
	}
	if err := s.store.CreateSubmission(ctx, pending); err != nil {
		release()
		if errors.Is(err, store.ErrExists) {
			err = fmt.Errorf("%w: %s of %s", ErrAlreadyScheduled, tag, repoID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create submission")
		return nil, err
	}
	admitted := *pending

	p := &Pipeline{
		scheduledAt: pending.CreatedAt,
		acc:         newAccumulator(pending),
		copy:        c,
		release:     release,
		repo:        r,
		archiver:    s.archiver,
		codeDir:     filepath.Join(s.workDir, uuid.NewString()),
	}
	if err := s.worker.Schedule(ctx, p.chain()); err != nil {
		release()
		p.acc.summary = fmt.Sprintf("Failed to schedule grading: %v", err)
		p.acc.complete()
		if uerr := s.store.UpdateSubmission(ctx, p.acc.Build()); uerr != nil {
			logger.Logger.ErrorContext(ctx, "failed to record unscheduled submission",
				"repo_id", repoID, "tag", tag, "error", uerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to schedule grading")
		return nil, err
	}

	audit.LogSubmissionScheduled(r.TaskID(), repoID, tag, c.ID)
	logger.Logger.InfoContext(ctx, "scheduled grading",
		"repo_id", repoID, "tag", tag, "task_id", r.TaskID(), "copy_id", c.ID)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled grading")
	return &admitted, nil
}

func (s *Service) GetSubmission(ctx context.Context, repoID, tag string) (*models.Submission, error) {
	ctx, span := tracer.Start(ctx, "Service.GetSubmission", trace.WithAttributes(
		attribute.String("repo_id", repoID),
		attribute.String("tag", tag),
	))
	defer span.End()

	sub, err := s.store.GetSubmission(ctx, repoID, tag)
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w: %s of %s", ErrNotFound, tag, repoID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get submission")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "got submission")
	return sub, nil
}

// Settles every submission a previous run left unfinished. Must run before the worker starts taking
// new submissions.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Service.RecoverInterrupted")
	defer span.End()

	interrupted, err := s.store.ListSubmissions(ctx, types.NonTerminalSubmissionStatuses()...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list interrupted submissions")
		return 0, err
	}

	for i := range interrupted {
		sub := &interrupted[i]
		from := sub.Status
		sub.Status = sub.Status.Recovered()
		if sub.SummaryMessage == "" {
			sub.SummaryMessage = "Interrupted by a restart while " + string(from)
		}
		if err := s.store.UpdateSubmission(ctx, sub); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to persist recovered submission")
			return i, fmt.Errorf("failed to recover %s of %s: %w", sub.Tag, sub.RepoID, err)
		}
		audit.LogSubmissionRecovered(sub.RepoID, sub.Tag, from, sub.Status)
		logger.Logger.InfoContext(ctx, "recovered interrupted submission",
			"repo_id", sub.RepoID, "tag", sub.Tag, "from", from, "to", sub.Status)
	}

	span.SetAttributes(attribute.Int("recovered", len(interrupted)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "recovered submissions")
	return len(interrupted), nil
}
