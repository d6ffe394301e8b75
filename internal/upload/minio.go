package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ensure MinioUploader implements Uploader interface.
var _ Uploader = (*MinioUploader)(nil)

// S3 error codes no retry can fix
var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"InvalidBucketName":     true,
	"NoSuchBucket":          true,
	"SignatureDoesNotMatch": true,
}

// S3 backed uploader using the minio client
type MinioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(
	endpoint, id, secret string,
	ssl bool,
	bucket string,
) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(id, secret, ""),
		Secure: ssl,
	})
	if err != nil {
		return nil, err
	}

	return NewMinioUploaderFromClient(client, bucket), nil
}

func NewMinioUploaderFromClient(client *minio.Client, bucket string) *MinioUploader {
	return &MinioUploader{
		client: client,
		bucket: bucket,
	}
}

func classify(err error) error {
	if permanentCodes[minio.ToErrorResponse(err).Code] {
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	return err
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case GzipSuffix:
		return "application/gzip"
	}
	return "application/octet-stream"
}

// Creates the archive bucket when it does not exist yet
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "MinioUploader.EnsureBucket", trace.WithAttributes(
		attribute.String("bucket", u.bucket),
	))
	defer span.End()

	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check bucket")
		return classify(err)
	}
	if !exists {
		span.AddEvent("creating bucket")
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create bucket")
			return classify(err)
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "bucket ready")
	return nil
}

func (u *MinioUploader) Upload(
	ctx context.Context,
	reader io.ReadSeeker,
	length int64,
	key string,
) error {
	ctx, span := tracer.Start(ctx, "MinioUploader.Upload", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int64("length", length),
	))
	defer span.End()

	_, err := u.client.PutObject(ctx, u.bucket, key, reader, length, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put object")
		return classify(err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "put object")
	return nil
}

func (u *MinioUploader) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "MinioUploader.Exists", trace.WithAttributes(
		attribute.String("key", key),
	))
	defer span.End()

	_, err := u.client.StatObject(ctx, u.bucket, key, minio.StatObjectOptions{})
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		span.SetStatus(codes.Ok, "did not find object")
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stat object")
		return false, classify(err)
	}

	span.SetStatus(codes.Ok, "found object")
	return true, nil
}

func (u *MinioUploader) StoreIdentifier(_ context.Context) (string, error) {
	return "s3://" + strings.TrimSuffix(u.client.EndpointURL().Host, "/") + "/" + u.bucket, nil
}
