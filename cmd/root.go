package cmd

import (
	"github.com/urfave/cli/v3"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "anyvideodownload",
		Version: version,
		Usage:   "Self-hosted media fetch service: download, compress to fit, deliver.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("AVD_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("AVD_LOGGING_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			probeCmd(),
			migrateCmd(),
		},
	}
}
