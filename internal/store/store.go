package store

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/types"
)

const name string = "github.com/pottery-backend/pottery/internal/store"

var tracer = otel.Tracer(name)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

//go:generate mockgen -destination ./mock/mock.go -package mock . Store
type Store interface {
	// ErrExists when a submission with the same repo and tag was already created
	CreateSubmission(ctx context.Context, s *models.Submission) error
	UpdateSubmission(ctx context.Context, s *models.Submission) error
	GetSubmission(ctx context.Context, repoID, tag string) (*models.Submission, error)
	// Every submission in one of statuses, oldest first
	ListSubmissions(ctx context.Context, statuses ...types.SubmissionStatus) ([]models.Submission, error)

	SaveTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)

	CreateRepo(ctx context.Context, r *models.Repo) error
	GetRepo(ctx context.Context, id string) (*models.Repo, error)
}
