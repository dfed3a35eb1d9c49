package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/migrate"
)

const defaultFixtures = "pkg/migrate/fixtures/catalog.yaml"

type app struct {
	dir  string
	logg *logger.Logger
	cfg  *config.Config
}

func main() {
	_ = godotenv.Load()

	a := &app{logg: logger.New(logger.Options{ServiceName: "migrate"})}
	if err := a.root().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the marketplace database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.dir, "dir", migrate.DefaultDir, "goose migrations directory")

	root.AddCommand(
		a.gooseCommand("up", "Apply all pending migrations"),
		a.gooseCommand("down", "Roll back the latest migration"),
		a.gooseCommand("status", "Print migration status"),
		a.versionCommand(),
		a.createCommand(),
		a.validateCommand(),
		a.seedCommand(),
	)
	return root
}

func (a *app) gooseCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd.Context(), func(ctx context.Context, sqlDB *sql.DB, _ *db.Client) error {
				return migrate.Run(ctx, sqlDB, a.dir, name)
			})
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version <YYYYMMDDHHMMSS>",
		Short: "Migrate up or down to the given version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd.Context(), func(ctx context.Context, sqlDB *sql.DB, _ *db.Client) error {
				return migrate.MigrateToVersion(ctx, sqlDB, a.dir, args[0])
			})
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new timestamped SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(a.dir, args[0])
			if err != nil {
				return fmt.Errorf("create migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	}
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check migration files for naming and goose annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.ValidateDir(a.dir); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	}
}

func (a *app) seedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog fixtures (dev only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fixtures, err := migrate.LoadFixturesFile(file)
			if err != nil {
				return err
			}
			return a.withDB(cmd.Context(), func(ctx context.Context, _ *sql.DB, client *db.Client) error {
				if a.cfg.App.IsProd() {
					return errors.New("refusing to seed a production database")
				}
				inserted, err := migrate.Seed(ctx, client.DB(), fixtures)
				if err != nil {
					return err
				}
				a.logg.Info(a.logg.WithField(ctx, "rows", inserted), "catalog fixtures seeded")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", defaultFixtures, "fixtures yaml file")
	return cmd
}

// withDB loads config, opens the database and hands both handles to fn.
func (a *app) withDB(ctx context.Context, fn func(ctx context.Context, sqlDB *sql.DB, client *db.Client) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = a.logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"dir": a.dir,
	})

	client, err := db.New(ctx, cfg.DB, a.logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			a.logg.Error(ctx, "error closing database", err)
		}
	}()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	a.logg.Info(ctx, "migrate ready")
	return fn(ctx, sqlDB, client)
}
