package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/dbutil"
	"github.com/hivecore/swarmcore/internal/common/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate brings the schema at writer up to the latest versioned baseline
// via goose, then applies additive-only column changes introduced after
// that baseline. Each additive change is detected by introspection so
// re-running Migrate is always a no-op, and each one that actually fires
// logs a single structured event.
func Migrate(writer *sql.DB, log *logger.Logger) error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(writer, "migrations"); err != nil {
		return fmt.Errorf("running goose migrations: %w", err)
	}

	if err := ensureSessionColumns(writer, log); err != nil {
		return fmt.Errorf("applying additive session columns: %w", err)
	}
	return nil
}

// ensureSessionColumns adds parent_pid and child_pids to sessions.
// These are observed, in practice, to arrive after the baseline schema was
// first cut, so they're added via introspection rather than a new goose
// version.
func ensureSessionColumns(writer *sql.DB, log *logger.Logger) error {
	additions := []struct {
		column     string
		definition string
	}{
		{"parent_pid", "INTEGER NOT NULL DEFAULT 0"},
		{"child_pids", "TEXT NOT NULL DEFAULT '[]'"},
	}

	for _, a := range additions {
		existed, err := dbutil.ColumnExists(writer, "sessions", a.column)
		if err != nil {
			return err
		}
		if existed {
			continue
		}
		if err := dbutil.EnsureColumn(writer, "sessions", a.column, a.definition); err != nil {
			return err
		}
		if log != nil {
			log.Info("schema migration applied",
				zap.String("table", "sessions"),
				zap.String("column", a.column),
				zap.String("kind", "additive"),
			)
		}
	}
	return nil
}
