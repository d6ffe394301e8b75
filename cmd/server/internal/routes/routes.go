package routes

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/pottery-backend/pottery/internal/logger"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/validator"
)

type Options struct {
	// Reports whether the backing services are reachable; nil means always healthy
	Health func(ctx context.Context) error
	// Largest accepted request body, in echo's BodyLimit notation; empty means unlimited
	BodyLimit string
}

func BuildEcho(logger *slog.Logger, opts Options) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	validate := validator.Create()
	e.Validator = &validate

	e.Pre(middleware.AddTrailingSlash())

	e.Use(
		middleware.RequestID(),
		otelecho.Middleware("pottery"),
		slogecho.NewWithConfig(logger, slogecho.Config{WithRequestID: true}),
		middleware.Recover(),
	)
	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	e.GET("/health/", health(opts.Health))

	return e, nil
}

func health(check func(ctx context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx := c.Request().Context()
		if err := check(ctx); err != nil {
			logger.Logger.WarnContext(ctx, "health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, types.StringError("backing services unavailable"))
		}
		return c.NoContent(http.StatusOK)
	}
}
