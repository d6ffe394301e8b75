package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0002, Down0002)
}

func Up0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `
CREATE TABLE tasks (
	id TEXT PRIMARY KEY,
	remote TEXT NOT NULL DEFAULT '',
	registered_revision TEXT,
	retired BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);`, `
CREATE TRIGGER touch_updated_at_trigger
BEFORE UPDATE ON tasks
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();`,
	)
}

func Down0002(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE tasks;`)
	return err
}
