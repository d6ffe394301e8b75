package response

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pottery-backend/pottery/internal/types"
)

var (
	InternalServerError = echo.NewHTTPError(
		http.StatusInternalServerError,
		types.StringError("something went wrong"),
	)
	NotFoundError = echo.NewHTTPError(http.StatusNotFound, types.StringError("not found"))
)

func BadRequest(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, types.StringError(message))
}

func Conflict(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusConflict, types.StringError(message))
}

func NotFound(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, types.StringError(message))
}
