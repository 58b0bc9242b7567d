package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/TomasB/geolocal/internal/config"
	"github.com/TomasB/geolocal/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("geolocal failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "geolocal",
		Usage: "Build country IP range tables and answer membership queries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("GEOLOCAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "json or text",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only log warnings and errors",
			},
		},
		Commands: []*cli.Command{
			cmdDownload(),
			cmdBuild(),
			cmdServe(),
			cmdVerify(),
		},
	}
}

// setup loads the configuration and installs the default logger. Global
// flags override the file and the environment.
func setup(c *cli.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("quiet") {
		cfg.Log.Quiet = c.Bool("quiet")
	}

	var logger *slog.Logger
	if cfg.Log.Quiet {
		logger = logging.Quiet(os.Stderr, cfg.Log.Format)
	} else {
		logger = logging.New(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
