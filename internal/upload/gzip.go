package upload

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ensure GzipUploader implements Uploader interface.
var _ Uploader = (*GzipUploader)(nil)

const GzipSuffix = ".gz"

// Meta uploader that gzips object contents and stores them under key + ".gz"
type GzipUploader struct {
	uploader Uploader
	level    int
}

func NewGzipUploader(uploader Uploader) *GzipUploader {
	return &GzipUploader{uploader: uploader, level: gzip.BestCompression}
}

func (g *GzipUploader) Exists(ctx context.Context, key string) (bool, error) {
	return g.uploader.Exists(ctx, key+GzipSuffix)
}

func (g *GzipUploader) StoreIdentifier(ctx context.Context) (string, error) {
	return g.uploader.StoreIdentifier(ctx)
}

func (g *GzipUploader) Upload(ctx context.Context, reader io.ReadSeeker, length int64, key string) error {
	ctx, span := tracer.Start(ctx, "GzipUploader.Upload", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int64("length", length),
	))
	defer span.End()

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create gzip writer")
		return err
	}
	if _, err := io.Copy(zw, reader); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compress object")
		return err
	}
	if err := zw.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to flush gzip writer")
		return err
	}

	span.SetAttributes(attribute.Int("compressed_length", buf.Len()))
	if err := g.uploader.Upload(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()), key+GzipSuffix); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload compressed object")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "uploaded compressed object")
	return nil
}
