package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockKey serializes migrators across replicas of gather-ui-api.
// Two pods racing Run at deploy time would otherwise apply the same file twice.
const advisoryLockKey = 874_210_553

// Run applies every embedded SQL migration that has not been recorded yet,
// in lexical filename order. Calling it again is a no-op.
func Run(ctx context.Context, db *sql.DB) error {
	logger := slog.Default().With("component", "migrations")

	if _, err := db.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey); err != nil {
			logger.WarnContext(ctx, "release migration lock failed", "err", err)
		}
	}()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	pending, err := listMigrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, mig := range pending {
		ran, applyErr := applyMigration(ctx, db, logger, mig)
		if applyErr != nil {
			return applyErr
		}
		if ran {
			applied++
		}
	}
	if applied > 0 {
		logger.InfoContext(ctx, "migrations applied", "count", applied)
	}
	return nil
}

// migration is one embedded SQL file, keyed by the numeric prefix of its name.
type migration struct {
	version string
	file    string
}

func listMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	migs := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, migration{
			version: strings.TrimSuffix(e.Name(), ".sql"),
			file:    e.Name(),
		})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].file < migs[j].file })
	return migs, nil
}

func alreadyApplied(ctx context.Context, db *sql.DB, mig migration) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`
	if err := db.QueryRowContext(ctx, query, mig.version).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", mig.file, err)
	}
	return exists, nil
}

func applyMigration(ctx context.Context, db *sql.DB, logger *slog.Logger, mig migration) (bool, error) {
	done, err := alreadyApplied(ctx, db, mig)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	sqlBytes, err := migrationsFS.ReadFile("migrations/" + mig.file)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", mig.file, err)
	}

	logger.InfoContext(ctx, "applying migration", "version", mig.version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "failed to rollback transaction",
				"err", rollbackErr, "migration_file", mig.file)
		}
	}()

	if _, execErr := tx.ExecContext(ctx, string(sqlBytes)); execErr != nil {
		return false, fmt.Errorf("exec migration %s: %w", mig.file, execErr)
	}
	if _, insertErr := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, mig.version); insertErr != nil {
		return false, fmt.Errorf("record migration %s: %w", mig.file, insertErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return false, fmt.Errorf("commit migration %s: %w", mig.file, commitErr)
	}
	return true, nil
}
