package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when running in dev
// with auto-migrate enabled. Other environments migrate through cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	dialect := DialectFor(cfg.FeatureFlags.UseSQLite)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dialect": dialect, "source": "embedded"})
	if err := Run(ctx, sqlDB, dialect, "", "up"); err != nil {
		return err
	}
	logg.Info(ctx, "dev migrations applied")
	return nil
}
