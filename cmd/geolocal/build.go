package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/TomasB/geolocal/internal/artifact"
	"github.com/TomasB/geolocal/internal/build"
	"github.com/TomasB/geolocal/internal/config"
	"github.com/TomasB/geolocal/internal/feed"
	"github.com/TomasB/geolocal/internal/store"
)

func cmdBuild() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build the range table artifact from a feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "feed",
				Usage: "local feed file; downloads the db-ip feed when empty",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "feed format: csv or mmdb",
			},
			&cli.StringSliceFlag{
				Name:  "countries",
				Usage: "restrict the table to these country codes",
			},
			&cli.StringFlag{
				Name:  "families",
				Usage: "comma separated families to include, e.g. ipv4,ipv6",
			},
			&cli.BoolFlag{
				Name:  "fail-fast",
				Usage: "abort on the first rejected feed row",
			},
			&cli.StringFlag{
				Name:  "go-file",
				Usage: "also write Go source with one accessor per country",
			},
			&cli.StringFlag{
				Name:  "go-package",
				Usage: "package name for --go-file",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "store the artifact in Redis and notify subscribers",
			},
		},
		Action: runBuild,
	}
}

func runBuild(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if err := applyBuildFlags(&cfg, c); err != nil {
		return err
	}

	start := time.Now()

	path := cfg.Feed.Path
	if path == "" {
		if cfg.Feed.Format != "csv" {
			return fmt.Errorf("feed format %s needs a local feed path", cfg.Feed.Format)
		}
		path, err = feed.NewDownloader(cfg.Feed.PageURL, cfg.Feed.TmpDir).Download(ctx)
		if err != nil {
			return fmt.Errorf("download feed: %w", err)
		}
	}

	src, closeFeed, err := feed.Open(cfg.Feed.Format, path)
	if err != nil {
		return err
	}
	defer closeFeed()

	res, err := build.Build(ctx, src, build.Options{
		IPv4:      cfg.IPv4,
		IPv6:      cfg.IPv6,
		Countries: cfg.Countries,
		Workers:   cfg.Build.Workers,
		FailFast:  cfg.Build.FailFast,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}

	meta := artifact.Meta{
		Source:      filepath.Base(path),
		GeneratedAt: time.Now(),
		Families:    res.Families,
		Countries:   res.Countries,
	}

	var doc bytes.Buffer
	if err := artifact.Encode(&doc, artifact.NewDocument(res.Table, meta)); err != nil {
		return err
	}
	files := store.NewFileStore(cfg.Output.Dir)
	if err := files.Put(ctx, cfg.Output.Artifact, doc.Bytes()); err != nil {
		return err
	}

	if cfg.Output.GoFile != "" {
		if err := writeGoFile(ctx, cfg, res, meta); err != nil {
			return err
		}
	}

	if c.Bool("publish") {
		if err := publish(ctx, cfg, doc.Bytes(), logger); err != nil {
			return err
		}
	}

	logger.Info("table built",
		"artifact", files.Path(cfg.Output.Artifact),
		"size", humanize.Bytes(uint64(doc.Len())),
		"rows", humanize.Comma(int64(res.Rows)),
		"ranges", humanize.Comma(int64(res.Table.Len())),
		"rejected", len(res.RowErrors),
		"filtered", humanize.Comma(int64(res.Filtered)),
		"countries", len(res.Countries),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

func applyBuildFlags(cfg *config.Config, c *cli.Command) error {
	if c.IsSet("feed") {
		cfg.Feed.Path = c.String("feed")
	}
	if c.IsSet("format") {
		cfg.Feed.Format = c.String("format")
	}
	if c.IsSet("countries") {
		cfg.Countries = nil
		for _, cc := range c.StringSlice("countries") {
			cfg.Countries = append(cfg.Countries, strings.ToUpper(strings.TrimSpace(cc)))
		}
	}
	if c.IsSet("families") {
		cfg.IPv4, cfg.IPv6 = false, false
		for _, f := range strings.Split(c.String("families"), ",") {
			switch strings.ToLower(strings.TrimSpace(f)) {
			case "ipv4", "v4", "4":
				cfg.IPv4 = true
			case "ipv6", "v6", "6":
				cfg.IPv6 = true
			default:
				return fmt.Errorf("unknown family %q", f)
			}
		}
	}
	if c.IsSet("fail-fast") {
		cfg.Build.FailFast = c.Bool("fail-fast")
	}
	if c.IsSet("go-file") {
		cfg.Output.GoFile = c.String("go-file")
	}
	if c.IsSet("go-package") {
		cfg.Output.GoPackage = c.String("go-package")
	}
	return cfg.Validate()
}

func writeGoFile(ctx context.Context, cfg config.Config, res *build.Result, meta artifact.Meta) error {
	var src bytes.Buffer
	if err := artifact.WriteGoSource(&src, cfg.Output.GoPackage, res.Table, meta); err != nil {
		return err
	}
	dir, name := filepath.Split(cfg.Output.GoFile)
	if dir == "" {
		dir = "."
	}
	return store.NewFileStore(dir).Put(ctx, name, src.Bytes())
}

func publish(ctx context.Context, cfg config.Config, doc []byte, logger *slog.Logger) error {
	if cfg.Redis.Addr == "" {
		return errors.New("--publish needs redis.addr")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer client.Close()

	rs := store.NewRedisStore(client, cfg.Redis.Prefix, cfg.Redis.Channel)
	if err := rs.Put(ctx, cfg.Output.Artifact, doc); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	logger.Info("artifact published", "redis", cfg.Redis.Addr, "name", cfg.Output.Artifact)
	return nil
}
