package cli

import (
	"context"
	"fmt"

	"ecolearn-gamification/internal/config"
	"ecolearn-gamification/internal/infra/memory"
	pgstore "ecolearn-gamification/internal/infra/postgres"
	pgmigrations "ecolearn-gamification/internal/infra/postgres/migrations"
	"ecolearn-gamification/internal/logger"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "load the sample quizzes and challenges")
	return cmd
}

func runMigrations(ctx context.Context, configPath string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Env)
	defer func() { _ = log.Sync() }()
	return runMigrationsWithConfig(ctx, cfg, log, seed)
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, log *zap.Logger, seed bool) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := openBun(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info("no new migrations")
	} else {
		log.Info("migrations applied", zap.String("group", group.String()))
	}

	if seed {
		quizzes, challenges := memory.SampleQuizzes(), memory.SampleChallenges()
		if err := pgstore.SeedCatalog(ctx, db, quizzes, challenges); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		log.Info("catalog seeded", zap.Int("quizzes", len(quizzes)), zap.Int("challenges", len(challenges)))
	}
	return nil
}
