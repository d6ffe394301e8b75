package middleware

import (
	"errors"

	"go.opentelemetry.io/otel"

	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/task"
)

const name string = "github.com/pottery-backend/pottery/server/middleware"

var tracer = otel.Tracer(name)

var ErrTypeAssertMismatch = errors.New("context value has an unexpected type")

type Handler struct {
	Repos *repo.Factory
	Tasks *task.Index
}
