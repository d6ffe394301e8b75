package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0005, Down0005)
}

func Up0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		`ALTER TABLE tasks ADD COLUMN testing_copy_id TEXT;`,
		`ALTER TABLE tasks ADD COLUMN registered_copy_id TEXT;`,
	)
}

func Down0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		`ALTER TABLE tasks DROP COLUMN registered_copy_id;`,
		`ALTER TABLE tasks DROP COLUMN testing_copy_id;`,
	)
}
