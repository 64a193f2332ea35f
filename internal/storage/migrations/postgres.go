package migrations

import (
	"context"
	"fmt"
	"io/fs"

	"deploywatch/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded schema files in lexical order:
// the pipeline tables (candidates, contracts, monitors, events) plus the
// notify triggers the change feed listens on. Every file is idempotent, so
// the daemon runs this unconditionally at startup.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
