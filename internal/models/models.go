package models

import (
	"context"
	"reflect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const name string = "github.com/pottery-backend/pottery/internal/models"

var tracer = otel.Tracer(name)

type Model interface {
	Task | Repo | Submission
}

// gets a row by its primary key columns, in declaration order
func ByKey[T Model](ctx context.Context, db *gorm.DB, conds map[string]any) (*T, error) {
	var data T

	ctx, span := tracer.Start(ctx, "ByKey")
	defer span.End()

	span.SetAttributes(attribute.String("type", reflect.TypeOf(data).String()))

	span.AddEvent("getting object by key")
	err := db.WithContext(ctx).Where(conds).First(&data).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object by key")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "got object by key")
	return &data, nil
}

// Transmutes a pointer into a [datatypes.Null]
func NewNull[T any](d *T) datatypes.Null[T] {
	if d != nil {
		return datatypes.NewNull(*d)
	}

	return datatypes.Null[T]{}
}

// Transmutes data into valid [datatypes.Null]
func NewNullFromData[T any](d T) datatypes.Null[T] {
	return datatypes.NewNull(d)
}

// Maps a [datatypes.Null] back into a pointer
func PtrFromNull[T any](d datatypes.Null[T]) *T {
	if !d.Valid {
		return nil
	}

	return &d.V
}
