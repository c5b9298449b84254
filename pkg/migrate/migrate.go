package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

const (
	// DefaultDir is where create and validate look on disk.
	DefaultDir = "pkg/migrate/migrations"

	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"

	embeddedDir = "migrations"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Run executes a goose command. An empty dir runs the migrations compiled
// into the binary.
func Run(ctx context.Context, db *sql.DB, dialect, dir, command string, args ...string) error {
	dir, err := prepare(db, dialect, dir)
	if err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down until it reaches target.
func MigrateToVersion(ctx context.Context, db *sql.DB, dialect, dir, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	dir, err = prepare(db, dialect, dir)
	if err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		err = goose.UpToContext(ctx, db, dir, target)
	case current > target:
		err = goose.DownToContext(ctx, db, dir, target)
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func prepare(db *sql.DB, dialect, dir string) (string, error) {
	if db == nil {
		return "", errors.New("db is required")
	}
	if dialect == "" {
		dialect = DialectPostgres
	}
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	if dir == "" {
		goose.SetBaseFS(embedded)
		return embeddedDir, nil
	}
	goose.SetBaseFS(nil)
	return dir, nil
}

// DialectFor maps the sqlite feature flag onto a goose dialect.
func DialectFor(useSQLite bool) string {
	if useSQLite {
		return DialectSQLite
	}
	return DialectPostgres
}
