package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/migrate"
)

type options struct {
	cmd      string
	dir      string
	embedded bool
	name     string
	version  string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory on disk")
	flag.BoolVar(&opts.embedded, "embedded", false, "apply the migrations compiled into this binary instead of -dir")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	dialect := migrate.DialectFor(cfg.FeatureFlags.UseSQLite)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "dialect": dialect})

	if err := run(ctx, cfg, logg, dialect, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, dialect string, opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	case "up", "down", "redo", "status", "version":
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
	if opts.cmd == "version" && opts.version == "" {
		return errors.New("missing -version for version command")
	}

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	dir := opts.dir
	if opts.embedded {
		dir = ""
	}
	logg.Info(logg.WithField(ctx, "embedded", opts.embedded), "migrate ready")
	if opts.cmd == "version" {
		return migrate.MigrateToVersion(ctx, sqlDB, dialect, dir, opts.version)
	}
	return migrate.Run(ctx, sqlDB, dialect, dir, opts.cmd)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
