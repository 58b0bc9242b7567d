package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/TomasB/geolocal/internal/feed"
)

func cmdDownload() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Download the current db-ip country feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "page-url",
				Usage: "download page that links the feed",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "directory to store the feed in",
			},
		},
		Action: runDownload,
	}
}

func runDownload(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if c.IsSet("page-url") {
		cfg.Feed.PageURL = c.String("page-url")
	}
	if c.IsSet("dir") {
		cfg.Feed.TmpDir = c.String("dir")
	}

	path, err := feed.NewDownloader(cfg.Feed.PageURL, cfg.Feed.TmpDir).Download(ctx)
	if err != nil {
		return fmt.Errorf("download feed: %w", err)
	}
	logger.Info("feed downloaded", "path", path)
	fmt.Println(path)
	return nil
}
