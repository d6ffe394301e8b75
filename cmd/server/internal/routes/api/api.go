package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"

	servermiddleware "github.com/pottery-backend/pottery/cmd/server/internal/middleware"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/submission"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/worker"
)

const name = "github.com/pottery-backend/pottery/server/routes/api"

var tracer = otel.Tracer(name)

type Handler struct {
	tasks       *task.Index
	repos       *repo.Factory
	submissions *submission.Service
	worker      worker.Worker
	// Validity of repositories created without an expiry date
	defaultValidity time.Duration
}

func NewHandler(
	tasks *task.Index,
	repos *repo.Factory,
	submissions *submission.Service,
	w worker.Worker,
	defaultValidity time.Duration,
) Handler {
	return Handler{
		tasks:           tasks,
		repos:           repos,
		submissions:     submissions,
		worker:          w,
		defaultValidity: defaultValidity,
	}
}

func (h *Handler) AddRoutes(e *echo.Echo, middlewareHandler *servermiddleware.Handler) {
	submissionGroup := e.Group(
		"/submissions/:repo_id/:tag",
		servermiddleware.PopulateRepo(middlewareHandler, "repo_id", "repo"),
	)
	submissionGroup.POST("/", h.ScheduleGrading)
	submissionGroup.GET("/", h.GetSubmission)

	workerGroup := e.Group("/worker")
	workerGroup.GET("/", h.ListQueue)
	workerGroup.POST("/resize/", h.ResizeWorker)

	e.POST("/tasks/", h.CreateTask)
	e.GET("/tasks/", h.ListTasks)

	taskGroup := e.Group(
		"/tasks/:task_id",
		servermiddleware.PopulateTask(middlewareHandler, "task_id", "task"),
	)
	taskGroup.GET("/", h.GetTask)
	taskGroup.POST("/testing/", h.ScheduleTesting)
	taskGroup.POST("/register/", h.RegisterTask)
	taskGroup.POST("/retire/", h.RetireTask)

	e.POST("/repos/", h.CreateRepo)

	repoGroup := e.Group(
		"/repos/:repo_id",
		servermiddleware.PopulateRepo(middlewareHandler, "repo_id", "repo"),
	)
	repoGroup.GET("/tags/", h.ListTags)
	repoGroup.POST("/tags/", h.CreateTag)
	repoGroup.GET("/files/:tag/", h.ListFiles)
	repoGroup.GET("/file/:tag/*", h.ReadFile)
	repoGroup.PUT("/update/*", h.UpdateFile)
}
