package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/alzaio/anyvideodownload/internal/config"
	"github.com/alzaio/anyvideodownload/internal/database"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string",
				Sources: cli.EnvVars("AVD_STATS_DATABASE_URL"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if v := cmd.String("database-url"); v != "" {
				cfg.Stats.DatabaseURL = v
			}
			if cfg.Stats.DatabaseURL == "" {
				return fmt.Errorf("database URL is required (set AVD_STATS_DATABASE_URL or --database-url)")
			}

			pool, err := database.Connect(ctx, cfg.Stats.DatabaseURL, cfg.Stats.MaxConnections)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			return database.Migrate(ctx, pool)
		},
	}
}
