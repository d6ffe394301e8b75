package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pottery-backend/pottery/cmd/server/internal/response"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/task"
)

// Opens the repository named by `paramName` and stores it under `contextName`
func PopulateRepo(h *Handler, paramName string, contextName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracer.Start(c.Request().Context(), "PopulateRepo")
			defer span.End()

			id := c.Param(paramName)
			span.SetAttributes(
				attribute.String("paramName", paramName),
				attribute.String("contextName", contextName),
				attribute.String("repo.id", id),
			)

			span.AddEvent("opening repository")
			r, err := h.Repos.Get(ctx, id)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to open repository")

				if errors.Is(err, repo.ErrRepoNotFound) {
					return response.NotFoundError
				}

				return response.InternalServerError
			}

			c.Set(contextName, r)

			span.RecordError(nil)
			span.SetStatus(codes.Ok, "opened repository")
			return next(c)
		}
	}
}

// Looks up the task named by `paramName` and stores it under `contextName`
func PopulateTask(h *Handler, paramName string, contextName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			_, span := tracer.Start(c.Request().Context(), "PopulateTask")
			defer span.End()

			id := c.Param(paramName)
			span.SetAttributes(
				attribute.String("paramName", paramName),
				attribute.String("contextName", contextName),
				attribute.String("task.id", id),
			)

			t, err := h.Tasks.Get(id)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "task not found")

				if errors.Is(err, task.ErrTaskNotFound) {
					return response.NotFoundError
				}

				return response.InternalServerError
			}

			c.Set(contextName, t)

			span.RecordError(nil)
			span.SetStatus(codes.Ok, "found task")
			return next(c)
		}
	}
}
