package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pottery-backend/pottery/cmd/server/internal/response"
	"github.com/pottery-backend/pottery/internal/repo"
	"github.com/pottery-backend/pottery/internal/task"
	"github.com/pottery-backend/pottery/internal/types"
	"github.com/pottery-backend/pottery/internal/vcs"
)

// Largest file accepted by UpdateFile
const maxFileBytes = 4 << 20

// Maps errors from reading or writing a repository to a response
func repoError(err error) error {
	switch {
	case errors.Is(err, repo.ErrExpired):
		return echo.NewHTTPError(http.StatusForbidden, types.StringError("repository has expired"))
	case errors.Is(err, vcs.ErrUnsafePath):
		return response.BadRequest("path escapes the repository")
	case errors.Is(err, vcs.ErrFileNotFound):
		return response.NotFound("file not found")
	case errors.Is(err, vcs.ErrRevisionNotFound), errors.Is(err, repo.ErrTagNotFound):
		return response.NotFound("tag not found")
	}
	return response.InternalServerError
}

// The wildcard path with the slash added by the trailing slash middleware removed
func filePath(c echo.Context) string {
	return strings.TrimSuffix(c.Param("*"), "/")
}

func (h *Handler) CreateRepo(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "CreateRepo")
	defer span.End()

	type requestData struct {
		ExpiryDate          *time.Time `json:"expiry_date"`
		TaskID              string     `json:"task_id"               validate:"required"`
		Remote              string     `json:"remote"`
		UsingTestingVersion bool       `json:"using_testing_version"`
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

	span.SetAttributes(
		attribute.String("task.id", rdata.TaskID),
		attribute.Bool("repo.using_testing_version", rdata.UsingTestingVersion),
	)

	t, err := h.tasks.Get(rdata.TaskID)
	if err != nil {
		span.SetStatus(codes.Error, "task not found")
		span.RecordError(err)
		return response.NotFound("task not found")
	}
	if t.Retired() {
		span.SetStatus(codes.Error, "task is retired")
		span.RecordError(task.ErrRetired)
		return response.Conflict("task is retired")
	}

	taskCopy, release, err := t.AcquireCopy(rdata.UsingTestingVersion)
	if err != nil {
		span.SetStatus(codes.Error, "task has no usable build")
		span.RecordError(err)
		return response.Conflict("task has no usable build")
	}
	defer release()

	expiry := time.Now().Add(h.defaultValidity)
	if rdata.ExpiryDate != nil {
		expiry = *rdata.ExpiryDate
	}

	r, err := h.repos.Create(ctx, repo.CreateOptions{
		ExpiryDate:          expiry,
		TaskID:              t.ID(),
		UsingTestingVersion: rdata.UsingTestingVersion,
		Remote:              rdata.Remote,
	}, taskCopy.SkeletonDir())
	if err != nil {
		span.SetStatus(codes.Error, "failed to create repository")
		span.RecordError(err)
		return response.InternalServerError
	}

	span.SetAttributes(attribute.String("repo.id", r.ID()))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created repository")
	return c.JSON(http.StatusOK, r.Info())
}

func (h *Handler) ListTags(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ListTags")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}

	tags, err := r.ListTags(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list tags")
		span.RecordError(err)
		return repoError(err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed tags")
	return c.JSON(http.StatusOK, tags)
}

func (h *Handler) CreateTag(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "CreateTag")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}

	tag, err := r.CreateNewTag(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to create tag")
		span.RecordError(err)
		return repoError(err)
	}

	span.SetAttributes(attribute.String("tag", tag))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created tag")
	return c.JSON(http.StatusOK, map[string]string{"tag": tag})
}

func (h *Handler) ListFiles(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ListFiles")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}
	tag := c.Param("tag")
	span.SetAttributes(attribute.String("tag", tag))

	files, err := r.ListFiles(ctx, tag)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list files")
		span.RecordError(err)
		return repoError(err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed files")
	return c.JSON(http.StatusOK, files)
}

func (h *Handler) ReadFile(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ReadFile")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}
	tag := c.Param("tag")
	path := filePath(c)
	span.SetAttributes(attribute.String("tag", tag), attribute.String("file", path))

	contents, err := r.ReadFile(ctx, tag, path)
	if err != nil {
		span.SetStatus(codes.Error, "failed to read file")
		span.RecordError(err)
		return repoError(err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "read file")
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, contents)
}

func (h *Handler) UpdateFile(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "UpdateFile")
	defer span.End()

	r, err := contextRepo(c, span)
	if err != nil {
		return err
	}
	path := filePath(c)
	span.SetAttributes(attribute.String("file", path))

	if path == "" {
		span.SetStatus(codes.Error, "missing file path")
		span.RecordError(vcs.ErrUnsafePath)
		return response.BadRequest("missing file path")
	}

	span.AddEvent("reading request body")
	contents, err := io.ReadAll(io.LimitReader(c.Request().Body, maxFileBytes+1))
	if err != nil {
		span.SetStatus(codes.Error, "failed to read request body")
		span.RecordError(err)
		return response.BadRequest("failed to read request body")
	}
	if len(contents) > maxFileBytes {
		span.SetStatus(codes.Error, "file too large")
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, types.StringError("file too large"))
	}

	sha, err := r.UpdateFile(ctx, path, contents)
	if err != nil {
		span.SetStatus(codes.Error, "failed to update file")
		span.RecordError(err)
		return repoError(err)
	}

	span.SetAttributes(attribute.String("commit", sha))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "updated file")
	return c.JSON(http.StatusOK, map[string]string{"commit": sha})
}
