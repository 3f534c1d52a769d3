package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/alzaio/anyvideodownload/internal/app"
	"github.com/alzaio/anyvideodownload/internal/config"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the download server (workers + HTTP API)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string for usage statistics (optional)",
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
			if v := cmd.String("log-level"); v != "" {
				cfg.Logging.Level = v
			}

			return app.Run(ctx, cfg)
		},
	}
}
