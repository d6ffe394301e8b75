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
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/submission"
	"github.com/pottery-backend/pottery/internal/task"
)

func contextRepo(c echo.Context, span trace.Span) (*repo.Repo, error) {
	r, ok := c.Get("repo").(*repo.Repo)
	if !ok {
		span.RecordError(servermiddleware.ErrTypeAssertMismatch)
		span.SetStatus(codes.Error, fmt.Sprintf("repo: %s", servermiddleware.ErrTypeAssertMismatch))
		return nil, response.InternalServerError
	}
	span.SetAttributes(attribute.String("repo.id", r.ID()))
	return r, nil
}

func (h *Handler) ScheduleGrading(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ScheduleGrading")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}
	tag := c.Param("tag")
	span.SetAttributes(attribute.String("tag", tag))

	span.AddEvent("scheduling grading")
	sub, err := h.submissions.ScheduleGrading(ctx, r.ID(), tag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to schedule grading")

		switch {
		case errors.Is(err, submission.ErrAlreadyScheduled):
			return response.Conflict("submission already scheduled")
		case errors.Is(err, submission.ErrTagNotFound):
			return response.NotFound("tag not found")
		case errors.Is(err, task.ErrCopyNotReady), errors.Is(err, task.ErrTaskNotFound):
			return response.Conflict("task has no usable build")
		}
		return response.InternalServerError
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "scheduled grading")
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) GetSubmission(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "GetSubmission")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}
	tag := c.Param("tag")
	span.SetAttributes(attribute.String("tag", tag))

	sub, err := h.submissions.GetSubmission(ctx, r.ID(), tag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch submission")

		if errors.Is(err, submission.ErrNotFound) {
			return response.NotFoundError
		}
		return response.InternalServerError
	}

	span.SetAttributes(attribute.String("submission.status", string(sub.Status)))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "fetched submission")
	return c.JSON(http.StatusOK, sub)
}
