package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	otellib "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	servermiddleware "github.com/pottery-backend/pottery/cmd/server/internal/middleware"
	"github.com/pottery-backend/pottery/cmd/server/internal/routes"
	"github.com/pottery-backend/pottery/cmd/server/internal/routes/api"
	"github.com/pottery-backend/pottery/internal/command"
	"github.com/pottery-backend/pottery/internal/config"
	"github.com/pottery-backend/pottery/internal/containers"
	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/otel"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/store"
	"github.com/pottery-backend/pottery/internal/submission"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/upload"
	"github.com/pottery-backend/pottery/internal/vcs"
	"github.com/pottery-backend/pottery/internal/worker"
)

const name string = "github.com/pottery-backend/pottery/server"

var tracer = otellib.Tracer(name)

type server struct {
	router       *echo.Echo
	config       *config.Config
	pool         *worker.Pool
	submissions  *submission.Service
	otelShutdown func(context.Context) error
	closeStore   func() error
}

// Requests larger than this are refused before they reach a handler
const bodyLimit = "8M"

type storeHandle struct {
	store store.Store
	close func() error
	ping  func(ctx context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config) (*storeHandle, error) {
	if cfg.Store.Driver != "postgres" {
		logger.Logger.WarnContext(ctx, "using the in-memory store, nothing survives a restart")
		return &storeHandle{store: store.NewMemoryStore(), close: func() error { return nil }}, nil
	}

	db, err := store.OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire underlying database connection: %w", err)
	}
	return &storeHandle{store: store.NewGormStore(db), close: sqlDB.Close, ping: sqlDB.PingContext}, nil
}

func newContainerManager(cfg *config.Config) (containers.Manager, error) {
	if cfg.Containers.Engine == "local" {
		logger.Logger.Warn("running stages on the host without a sandbox")
		return containers.NewLocalManager(command.NewShellExecutor()), nil
	}

	cli, err := containers.NewDockerClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return containers.NewDockerManager(cli, containers.DockerOptions{
		CPUs:       cfg.Containers.Docker.CPUs,
		PullImages: cfg.Containers.Docker.PullImages,
	}), nil
}

func newArchiver(ctx context.Context, cfg *config.Config) (upload.Uploader, error) {
	if !cfg.S3Archive.Enabled {
		return nil, nil
	}

	archiver, err := upload.NewMinioUploader(
		cfg.S3Archive.Endpoint,
		cfg.S3Archive.AccessKeyID,
		cfg.S3Archive.SecretAccessKey,
		cfg.S3Archive.SSLEnabled,
		cfg.S3Archive.BucketName,
	)
	if err != nil {
		return nil, err
	}
	if err := archiver.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare archive bucket: %w", err)
	}
	if cfg.S3Archive.Compress {
		return upload.NewGzipUploader(upload.NewRetryUploader(archiver)), nil
	}
	return upload.NewRetryUploader(archiver), nil
}

func initServer(ctx context.Context) (*server, error) {
	server := new(server)

	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server config: %w", err)
	}
	server.config = cfg

	shutdownOTel, err := otel.SetupOTelSDK(ctx, otel.Options{
		UseOTLP:     cfg.Logging.UseOTLP,
		SampleRatio: cfg.Logging.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OTEL SDK: %w", err)
	}
	defer func() {
		// Something failed to initialize, make sure everything gets flushed to the server
		if server.otelShutdown == nil {
			otelShutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				time.Second*time.Duration(cfg.GracefulShutdownSecs),
			)
			defer cancel()

			if err = shutdownOTel(otelShutdownCtx); err != nil {
				logger.Logger.Error("failed to flush otel data", "error", err)
			}
		}
	}()

	ctx, span := tracer.Start(ctx, "initServer")
	defer span.End()

	logger.LogLevel.Set(slog.Level(cfg.Logging.App.Level))

	for _, dir := range []string{
		cfg.Directories.Tasks,
		cfg.Directories.Repos,
		cfg.Directories.Submissions,
	} {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create data directories")
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	handle, err := openStore(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize store")
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	st := handle.store

	span.AddEvent("initialized store", trace.WithAttributes(
		attribute.String("store.driver", cfg.Store.Driver),
	))

	manager, err := newContainerManager(cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize container manager")
		return nil, err
	}

	span.AddEvent("initialized container manager")

	author := vcs.Signature{Name: cfg.Repo.CommitterName, Email: cfg.Repo.CommitterEmail}
	repos := repo.NewFactory(st, cfg.Directories.Repos, author)

	tasks := task.NewIndex(st, cfg.Directories.Tasks, author)
	if err = tasks.Load(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load tasks")
		return nil, err
	}

	span.AddEvent("loaded tasks")

	pool, err := worker.NewPool(
		&worker.Env{Containers: manager, Store: st, Repos: repos},
		worker.Options{
			Threads:    cfg.Worker.Threads,
			MaxRetries: cfg.Worker.MaxRetries,
			RetryDelay: cfg.Worker.RetryDelay,
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start worker pool")
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	span.AddEvent("started worker pool")

	archiver, err := newArchiver(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to construct archiver")
		return nil, err
	}

	submissions := submission.NewService(st, repos, tasks, pool, cfg.Directories.Submissions, archiver)

	e, err := routes.BuildEcho(logger.Logger, routes.Options{Health: handle.ping, BodyLimit: bodyLimit})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error building router")
		return nil, fmt.Errorf("error building router: %w", err)
	}

	span.AddEvent("created echo router")

	middlewareHandler := servermiddleware.Handler{Repos: repos, Tasks: tasks}
	apiHandler := api.NewHandler(tasks, repos, submissions, pool, cfg.Repo.DefaultValidity)
	apiHandler.AddRoutes(e, &middlewareHandler)

	server.otelShutdown = shutdownOTel
	server.router = e
	server.pool = pool
	server.submissions = submissions
	server.closeStore = handle.close

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "initialized server")
	return server, nil
}

func (s *server) Start(ctx context.Context) error {
	recovered, err := s.submissions.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted submissions: %w", err)
	}
	if recovered > 0 {
		logger.Logger.WarnContext(ctx, "recovered interrupted submissions", "count", recovered)
	}

	logger.Logger.Info("Starting services...", "address", s.config.ListenAddress)

	err = s.router.Start(s.config.ListenAddress)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *server) Shutdown() error {
	var errs error

	ctx, cancelTimeout := context.WithTimeout(
		context.Background(),
		time.Second*time.Duration(s.config.GracefulShutdownSecs),
	)
	defer cancelTimeout()

	// stop taking requests before the worker stops taking chains
	if err := s.router.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, err)
	}

	if err := s.pool.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to shutdown worker gracefully: %w", err))
	}

	if err := s.closeStore(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close store: %w", err))
	}

	if s.otelShutdown != nil {
		errs = errors.Join(errs, s.otelShutdown(ctx))
	}

	return errs
}

func main() {
	ctx, cancelSignal := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	logger.InitSlog()

	server, err := initServer(ctx)
	if err != nil {
		logger.Logger.Error(err.Error())
		cancelSignal()
		os.Exit(1)
	}

	errch := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Got shutdown signal!")
		errch <- server.Shutdown()
		close(errch)
	}()

	if err := server.Start(ctx); err != nil {
		logger.Logger.Error(err.Error())
		cancelSignal()
		os.Exit(1)
	}

	if err := <-errch; err != nil {
		logger.Logger.Error("Error shutting down server", "error", err)
	}

	cancelSignal()
}
