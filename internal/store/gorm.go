package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sloggorm "github.com/orandin/slog-gorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	"github.com/pottery-backend/pottery/internal/config"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/models"
	"github.com/pottery-backend/pottery/internal/store/migrations"
	"github.com/pottery-backend/pottery/internal/types"
)

// Ensure GormStore implements Store interface.
var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Connects to postgres, installs logging and tracing and migrates the schema to the latest version
func OpenPostgres(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	ctx, span := tracer.Start(ctx, "OpenPostgres")
	defer span.End()

	gormLogger := slog.New(logger.Handler)

	sg := sloggorm.New(
		sloggorm.WithHandler(gormLogger.Handler()),
		sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
	)
	if cfg.Logging.Gorm.TraceQueries {
		sg = sloggorm.New(
			sloggorm.WithHandler(gormLogger.Handler()),
			sloggorm.WithTraceAll(),
			sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
		)
	}

	span.AddEvent("initialized gorm logging")

	db, err := gorm.Open(
		postgres.Open(cfg.PostgresDSN()),
		&gorm.Config{Logger: sg, TranslateError: true},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire underlying database connection")
		return nil, fmt.Errorf("failed to acquire underlying database connection: %w", err)
	}

	p := cfg.Store.Postgres
	sqlDB.SetMaxIdleConns(p.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(p.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(p.ConnectionTTL)

	span.AddEvent("initialized database connection")

	if err = db.Use(gormtracing.NewPlugin()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add otel plugin to gorm")
		return nil, fmt.Errorf("failed to add otel plugin to gorm: %w", err)
	}

	version, err := migrations.Up(ctx, db)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to perform database migrations")
		return nil, fmt.Errorf("failed to perform database migrations: %w", err)
	}

	span.AddEvent("migrated database to latest version", trace.WithAttributes(
		attribute.Int64("version", version),
	))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "opened database")
	return db, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrExists, err)
	}
	return err
}

func (g *GormStore) CreateSubmission(ctx context.Context, s *models.Submission) error {
	ctx, span := tracer.Start(ctx, "GormStore.CreateSubmission")
	defer span.End()

	span.SetAttributes(attribute.String("repo_id", s.RepoID), attribute.String("tag", s.Tag))

	if err := translate(g.db.WithContext(ctx).Create(s).Error); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create submission")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created submission")
	return nil
}

func (g *GormStore) UpdateSubmission(ctx context.Context, s *models.Submission) error {
	ctx, span := tracer.Start(ctx, "GormStore.UpdateSubmission")
	defer span.End()

	span.SetAttributes(
		attribute.String("repo_id", s.RepoID),
		attribute.String("tag", s.Tag),
		attribute.String("status", string(s.Status)),
	)

	result := g.db.WithContext(ctx).Model(s).Select("*").Omit("created_at").Updates(s)
	if result.Error != nil {
		err := translate(result.Error)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update submission")
		return err
	}
	if result.RowsAffected == 0 {
		span.RecordError(ErrNotFound)
		span.SetStatus(codes.Error, "submission does not exist")
		return ErrNotFound
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "updated submission")
	return nil
}

func (g *GormStore) GetSubmission(ctx context.Context, repoID, tag string) (*models.Submission, error) {
	s, err := models.ByKey[models.Submission](ctx, g.db, map[string]any{"repo_id": repoID, "tag": tag})
	return s, translate(err)
}

func (g *GormStore) ListSubmissions(
	ctx context.Context,
	statuses ...types.SubmissionStatus,
) ([]models.Submission, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListSubmissions")
	defer span.End()

	var submissions []models.Submission
	err := g.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at").
		Find(&submissions).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list submissions")
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(submissions)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed submissions")
	return submissions, nil
}

func (g *GormStore) SaveTask(ctx context.Context, t *models.Task) error {
	ctx, span := tracer.Start(ctx, "GormStore.SaveTask")
	defer span.End()

	span.SetAttributes(attribute.String("task_id", t.ID))

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote", "registered_revision", "testing_copy_id", "registered_copy_id", "retired", "updated_at",
		}),
	}).Create(t).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save task")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "saved task")
	return nil
}

func (g *GormStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := models.ByKey[models.Task](ctx, g.db, map[string]any{"id": id})
	return t, translate(err)
}

func (g *GormStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListTasks")
	defer span.End()

	var tasks []models.Task
	if err := g.db.WithContext(ctx).Order("id").Find(&tasks).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed tasks")
	return tasks, nil
}

func (g *GormStore) CreateRepo(ctx context.Context, r *models.Repo) error {
	ctx, span := tracer.Start(ctx, "GormStore.CreateRepo")
	defer span.End()

	span.SetAttributes(attribute.String("repo_id", r.ID), attribute.String("task_id", r.TaskID))

	if err := translate(g.db.WithContext(ctx).Create(r).Error); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create repo")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created repo")
	return nil
}

func (g *GormStore) GetRepo(ctx context.Context, id string) (*models.Repo, error) {
	r, err := models.ByKey[models.Repo](ctx, g.db, map[string]any{"id": id})
	return r, translate(err)
}
