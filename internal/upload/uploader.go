package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pottery-backend/pottery/internal/hash"
)

var tracer = otel.Tracer("github.com/pottery-backend/pottery/internal/upload")

// Wrapped by uploaders around failures that retrying cannot fix
var ErrPermanent = errors.New("permanent upload failure")

//go:generate mockgen -destination ./mock/mock.go -package mock . Uploader

// Generic object persistence interface
type Uploader interface {
	// Create / Overwrite object contents at `key`
	Upload(ctx context.Context, reader io.ReadSeeker, length int64, key string) error
	// Check if an object exists
	Exists(ctx context.Context, key string) (bool, error)
	// Provide an identifier for where objects are being uploaded to. Useful for logging.
	StoreIdentifier(ctx context.Context) (string, error)
}

// Uploads v encoded as indented JSON to key and returns the sha256 of the uploaded bytes
func JSON(ctx context.Context, u Uploader, key string, v any) (string, error) {
	ctx, span := tracer.Start(ctx, "UploadJSON", trace.WithAttributes(
		attribute.String("key", key),
	))
	defer span.End()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal object")
		return "", err
	}

	if err := u.Upload(ctx, bytes.NewReader(data), int64(len(data)), key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload object")
		return "", err
	}

	sum := hash.Buffer(data)
	span.SetAttributes(attribute.String("sha256", sum))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "uploaded object")
	return sum, nil
}
