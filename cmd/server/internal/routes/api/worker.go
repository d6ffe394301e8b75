package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pottery-backend/pottery/cmd/server/internal/response"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/worker"
)

type queueResponse struct {
	Queue   []worker.JobStatus `json:"queue"`
	Threads int                `json:"num_threads"`
}

func (h *Handler) ListQueue(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "ListQueue")
	defer span.End()

	queue := h.worker.ListQueue()
	span.SetAttributes(attribute.Int("queue.length", len(queue)))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed queue")
	return c.JSON(http.StatusOK, queueResponse{Queue: queue, Threads: h.worker.Threads()})
}

func (h *Handler) ResizeWorker(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "ResizeWorker")
	defer span.End()

	type requestData struct {
		Threads int `json:"num_threads" validate:"required,gte=1"`
	}

	span.AddEvent("parsing request body")
	var rdata requestData

	err := c.Bind(&rdata)
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

	span.SetAttributes(attribute.Int("worker.threads", rdata.Threads))

	err = h.worker.Resize(rdata.Threads)
	if err != nil {
		span.SetStatus(codes.Error, "failed to resize worker")
		span.RecordError(err)

		switch {
		case errors.Is(err, worker.ErrInvalidSize):
			return response.BadRequest(err.Error())
		case errors.Is(err, worker.ErrStopped):
			return echo.NewHTTPError(http.StatusServiceUnavailable, types.StringError(err.Error()))
		}
		return response.InternalServerError
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "resized worker")
	return c.JSON(http.StatusOK, queueResponse{Queue: h.worker.ListQueue(), Threads: h.worker.Threads()})
}
