package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/alzaio/anyvideodownload/internal/config"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/format"
)

func probeCmd() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "Probe a media URL without downloading",
		ArgsUsage: "<url>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			url := cmd.Args().First()
			if url == "" {
				return fmt.Errorf("usage: probe <url>")
			}

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			fetcher, err := fetch.NewYtDlp(fetch.Config{
				Binary:      cfg.Fetch.Binary,
				DownloadDir: cfg.Downloads.Dir,
				CookieFile:  cfg.Downloads.CookieFile,
			})
			if err != nil {
				return fmt.Errorf("fetch engine: %w", err)
			}

			probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			info, err := fetcher.Probe(probeCtx, url)
			if err != nil {
				return err
			}

			fmt.Printf("title: %s\nsize:  %s\n", info.Title, format.Bytes(info.Size))
			if cfg.Downloads.MaxFileSize > 0 && info.Size > cfg.Downloads.MaxFileSize {
				fmt.Printf("note:  exceeds the delivery limit of %s\n", format.Bytes(cfg.Downloads.MaxFileSize))
			}
			return nil
		},
	}
}
