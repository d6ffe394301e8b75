// Package migrations holds the goose migrations for the postgres store, registered as Go functions
// so they ship inside the binaries.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/pottery-backend/pottery/internal/store/migrations")

// Migrates to the latest version and returns it
func Up(ctx context.Context, db *gorm.DB) (int64, error) {
	ctx, span := tracer.Start(ctx, "Up")
	defer span.End()

	rawDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database handle")
		return 0, err
	}

	if err := goose.UpContext(ctx, rawDB, "."); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to bring migrations up")
		return 0, err
	}

	version, err := Version(ctx, rawDB)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read schema version")
		return 0, err
	}
	span.SetAttributes(attribute.Int64("version", version))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "brought migrations up")
	return version, nil
}

// Reverts every migration, leaving only the goose version table
func Down(ctx context.Context, db *gorm.DB) error {
	ctx, span := tracer.Start(ctx, "Down")
	defer span.End()

	rawDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get database handle")
		return err
	}

	if err := goose.DownToContext(ctx, rawDB, ".", 0); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to bring migrations down")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "brought migrations down")
	return nil
}

func Version(ctx context.Context, db *sql.DB) (int64, error) {
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

func execStatements(ctx context.Context, tx *sql.Tx, statements ...string) error {
	for i, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}

	return nil
}
