package upload

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ensure RetryUploader implements Uploader interface.
var _ Uploader = (*RetryUploader)(nil)

// Meta uploader that wraps uploader operations in backoff loops. Errors wrapping ErrPermanent end the
// loop on the first attempt.
type RetryUploader struct {
	uploader Uploader
	backoff  func() retry.Backoff
}

func NewRetryUploaderBackoff(uploader Uploader, backoff func() retry.Backoff) *RetryUploader {
	return &RetryUploader{
		uploader: uploader,
		backoff:  backoff,
	}
}

// Exponential backoff for up to two minutes, for archiving off the grading path
func NewRetryUploader(uploader Uploader) *RetryUploader {
	return NewRetryUploaderBackoff(uploader, func() retry.Backoff {
		b := retry.NewExponential(time.Second)
		b = retry.WithMaxDuration(time.Second*120, b)
		return b
	})
}

// Runs fn under the backoff, one child span per attempt
func attempt[T any](
	ctx context.Context,
	r *RetryUploader,
	op string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	ctx, span := tracer.Start(ctx, "RetryUploader."+op)
	defer span.End()

	var (
		result   T
		attempts int
	)
	err := retry.Do(ctx, r.backoff(), func(rctx context.Context) error {
		attempts++
		//nolint:govet // shadow: intentionally shadow ctx and span to avoid using the incorrect one.
		ctx, span := tracer.Start(rctx, "RetryUploader."+op+".Attempt", trace.WithAttributes(
			attribute.Int("attempt", attempts),
		))
		defer span.End()

		var err error
		result, err = fn(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attempt failed")
			if errors.Is(err, ErrPermanent) {
				return err
			}
			return retry.RetryableError(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "attempt succeeded")
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		var zero T
		span.RecordError(err)
		span.SetStatus(codes.Error, "gave up")
		return zero, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "done")
	return result, nil
}

func (r *RetryUploader) Exists(ctx context.Context, key string) (bool, error) {
	return attempt(ctx, r, "Exists", func(ctx context.Context) (bool, error) {
		return r.uploader.Exists(ctx, key)
	})
}

func (r *RetryUploader) StoreIdentifier(ctx context.Context) (string, error) {
	return attempt(ctx, r, "StoreIdentifier", r.uploader.StoreIdentifier)
}

// reader is rewound before every attempt
func (r *RetryUploader) Upload(
	ctx context.Context,
	reader io.ReadSeeker,
	length int64,
	key string,
) error {
	_, err := attempt(ctx, r, "Upload", func(ctx context.Context) (struct{}, error) {
		if _, err := reader.Seek(0, io.SeekStart); err != nil {
			return struct{}{}, errors.Join(ErrPermanent, err)
		}
		return struct{}{}, r.uploader.Upload(ctx, reader, length, key)
	})
	return err
}
