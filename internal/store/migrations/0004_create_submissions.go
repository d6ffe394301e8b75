package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0004, Down0004)
}

func Up0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `
CREATE TABLE submissions (
	repo_id TEXT NOT NULL REFERENCES repos(id),
	tag TEXT NOT NULL,
	status TEXT NOT NULL,
	compilation_output TEXT NOT NULL DEFAULT '',
	compilation_time_ms BIGINT NOT NULL DEFAULT 0,
	harness_time_ms BIGINT NOT NULL DEFAULT 0,
	validator_time_ms BIGINT NOT NULL DEFAULT 0,
	wait_time_ms BIGINT NOT NULL DEFAULT 0,
	summary_message TEXT NOT NULL DEFAULT '',
	test_steps JSONB,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	PRIMARY KEY (repo_id, tag)
);`, `
CREATE INDEX submissions_status_idx ON submissions (status);`, `
CREATE TRIGGER touch_updated_at_trigger
BEFORE UPDATE ON submissions
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();`,
	)
}

func Down0004(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE submissions;`)
	return err
}
