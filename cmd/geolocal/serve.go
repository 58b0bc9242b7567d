package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"github.com/TomasB/geolocal/internal/config"
	"github.com/TomasB/geolocal/internal/data"
	"github.com/TomasB/geolocal/internal/handler/check"
	grpchandler "github.com/TomasB/geolocal/internal/handler/grpc"
	"github.com/TomasB/geolocal/internal/handler/health"
	"github.com/TomasB/geolocal/internal/logging"
	"github.com/TomasB/geolocal/internal/metrics"
	"github.com/TomasB/geolocal/internal/store"
)

const shutdownTimeout = 30 * time.Second

func cmdServe() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve membership queries over HTTP and gRPC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "HTTP port",
			},
			&cli.StringFlag{
				Name:  "grpc-port",
				Usage: "gRPC port, 0 disables gRPC",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if err := applyServeFlags(&cfg, c); err != nil {
		return err
	}

	slog.Info("service starting", "log_level", cfg.Log.Level)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := store.NewFileStore(cfg.Output.Dir)
	holder := data.NewHolder(files, cfg.Output.Artifact, m, logger)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		rs := store.NewRedisStore(redisClient, cfg.Redis.Prefix, cfg.Redis.Channel)
		if err := pullArtifact(ctx, rs, files, cfg.Output.Artifact); err != nil {
			logger.Warn("no published artifact in redis", "error", err)
		}
		go rs.Subscribe(ctx, func(name string) {
			if name != cfg.Output.Artifact {
				return
			}
			// The file watcher picks up the new file and reloads.
			if err := pullArtifact(ctx, rs, files, name); err != nil {
				logger.Error("failed to pull published artifact", "error", err)
			}
		})
	}

	if err := holder.Reload(ctx); err != nil {
		logger.Warn("no table loaded yet, serving not ready", "error", err)
	}
	go func() {
		if err := holder.Watch(ctx, cfg.Output.Dir); err != nil {
			logger.Error("artifact watch stopped", "error", err)
		}
	}()

	checks := []health.Check{{Name: "table", Fn: holder.Ready}}
	if redisClient != nil {
		checks = append(checks, health.Check{Name: "redis", Fn: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(pingCtx).Err()
		}})
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(holder, m, reg, logger, checks...)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("service started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpchandler.LoggingInterceptor(logger)))
		grpchandler.Register(grpcServer, grpchandler.NewHandler(holder, m))
		go func() {
			slog.Info("grpc started", "port", cfg.Server.GRPCPort)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("service shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("service stopped")
	return nil
}

func applyServeFlags(cfg *config.Config, c *cli.Command) error {
	for flag, dst := range map[string]*int{"port": &cfg.Server.Port, "grpc-port": &cfg.Server.GRPCPort} {
		if !c.IsSet(flag) {
			continue
		}
		n, err := strconv.Atoi(c.String(flag))
		if err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = n
	}
	return cfg.Validate()
}

// newRouter wires the HTTP API around tables.
func newRouter(tables data.TableProvider, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger, checks ...health.Check) *gin.Engine {
	router := gin.New()
	router.Use(logging.GinLogger(logger))
	router.Use(gin.Recovery())

	healthHandler := health.NewHandler(checks...)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	check.NewHandler(tables, m).Register(router.Group("/api/v1"))
	return router
}

// pullArtifact copies the published artifact from Redis into the file store.
func pullArtifact(ctx context.Context, from, to store.Store, name string) error {
	raw, err := from.Get(ctx, name)
	if err != nil {
		return err
	}
	return to.Put(ctx, name, raw)
}
