package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	servermiddleware "github.com/pottery-backend/pottery/cmd/server/internal/middleware"
	"github.com/pottery-backend/pottery/cmd/server/internal/response"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/vcs"
	"github.com/pottery-backend/pottery/internal/worker"
)

func contextTask(c echo.Context, span trace.Span) (*task.Task, error) {
	t, ok := c.Get("task").(*task.Task)
	if !ok {
		span.RecordError(servermiddleware.ErrTypeAssertMismatch)
		span.SetStatus(codes.Error, fmt.Sprintf("task: %s", servermiddleware.ErrTypeAssertMismatch))
		return nil, response.InternalServerError
	}
	span.SetAttributes(attribute.String("task.id", t.ID()))
	return t, nil
}

// Maps errors from starting a build to a response
func buildError(err error) error {
	switch {
	case errors.Is(err, task.ErrRetired):
		return response.Conflict("task is retired")
	case errors.Is(err, vcs.ErrRevisionNotFound):
		return response.NotFound("revision not found")
	case errors.Is(err, worker.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, types.StringError("worker is shutting down"))
	}
	return response.InternalServerError
}

func (h *Handler) CreateTask(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "CreateTask")
	defer span.End()

	type requestData struct {
		// Empty for a new definition repository
		Remote string `json:"remote"`
	}

	span.AddEvent("parsing request body")
	var rdata requestData

	err := c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse request data")
		span.RecordError(err)
		return response.BadRequest("failed to parse request data")
	}

	span.SetAttributes(attribute.String("task.remote", rdata.Remote))

	t, err := h.tasks.Create(ctx, rdata.Remote)
	if err != nil {
		span.SetStatus(codes.Error, "failed to create task")
		span.RecordError(err)
		return response.InternalServerError
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created task")
	return c.JSON(http.StatusOK, t.Status())
}

func (h *Handler) ListTasks(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "ListTasks")
	defer span.End()

	tasks := h.tasks.List()
	statuses := make([]task.Status, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, t.Status())
	}

	span.SetAttributes(attribute.Int("tasks.count", len(statuses)))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed tasks")
	return c.JSON(http.StatusOK, statuses)
}

func (h *Handler) GetTask(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "GetTask")
	defer span.End()

	t, err := contextTask(c, span)
	if err != nil {
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched task")
	return c.JSON(http.StatusOK, t.Status())
}

func (h *Handler) ScheduleTesting(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ScheduleTesting")
	defer span.End()

	t, err := contextTask(c, span)
	if err != nil {
		return err
	}

	info, err := t.ScheduleTesting(ctx, h.worker)
	if err != nil {
		span.SetStatus(codes.Error, "failed to schedule testing build")
		span.RecordError(err)
		return buildError(err)
	}

	span.SetAttributes(attribute.String("build.status", string(info.Status)))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled testing build")
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) RegisterTask(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "RegisterTask")
	defer span.End()

	t, err := contextTask(c, span)
	if err != nil {
		return err
	}

	type requestData struct {
		Revision string `json:"revision" validate:"required,revision"`
	}

	span.AddEvent("parsing request body")
	var rdata requestData

	err = c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse request data")
		span.RecordError(err)
		return response.BadRequest("failed to parse request data")
	}

	span.AddEvent("validating request body")
	err = c.Validate(rdata)
	if err != nil {
		span.SetStatus(codes.Error, "failed to validate request")
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusBadRequest, types.ValidationError(err))
	}

	span.SetAttributes(attribute.String("task.revision", rdata.Revision))

	info, err := t.Register(ctx, h.worker, rdata.Revision)
	if err != nil {
		span.SetStatus(codes.Error, "failed to schedule registration build")
		span.RecordError(err)
		return buildError(err)
	}

	span.SetAttributes(attribute.String("build.status", string(info.Status)))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled registration build")
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) RetireTask(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "RetireTask")
	defer span.End()

	t, err := contextTask(c, span)
	if err != nil {
		return err
	}

	type requestData struct {
		// Defaults to true, false brings a task back
		Retired *bool `json:"retired"`
	}

	var rdata requestData
	err = c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse request data")
		span.RecordError(err)
		return response.BadRequest("failed to parse request data")
	}

	retired := rdata.Retired == nil || *rdata.Retired
	span.SetAttributes(attribute.Bool("task.retired", retired))

	if err = t.SetRetired(ctx, retired); err != nil {
		span.SetStatus(codes.Error, "failed to update task")
		span.RecordError(err)
		return response.InternalServerError
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "updated task")
	return c.JSON(http.StatusOK, t.Status())
}
