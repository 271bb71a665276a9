package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/yamori310/craftdock/api"
	"github.com/yamori310/craftdock/backup"
	"github.com/yamori310/craftdock/catalog"
	"github.com/yamori310/craftdock/config"
	"github.com/yamori310/craftdock/conflict"
	"github.com/yamori310/craftdock/layout"
	"github.com/yamori310/craftdock/ping"
	"github.com/yamori310/craftdock/repository/boltstore"
	"github.com/yamori310/craftdock/runtime"
	"github.com/yamori310/craftdock/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load(os.Getenv("CRAFTDOCK_CONFIG"))
	lay := layout.New(cfg.DataRoot)

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		log.Fatalf("failed to create data root: %v", err)
	}

	store, err := boltstore.Open(lay.RegistryPath())
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}
	defer store.Close()

	docker, err := runtime.New()
	if err != nil {
		log.Fatalf("failed to create docker client: %v", err)
	}
	defer docker.Close()

	var mirror *backup.S3Mirror
	if cfg.S3.Bucket != "" {
		mirror, err = backup.NewS3Mirror(cfg.S3.Endpoint, cfg.S3.Bucket, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Region)
		if err != nil {
			log.Fatalf("failed to create S3 mirror: %v", err)
		}
	}

	catalogs := map[string]catalog.Client{
		"modrinth":   catalog.NewModrinthClient(),
		"curseforge": catalog.NewCurseForgeClient(cfg.CurseForgeAPIKey),
	}
	if cfg.RedisAddr != "" {
		rdb, err := catalog.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("redis unavailable, catalog cache disabled", "error", err)
		} else {
			defer rdb.Close()
			for source, client := range catalogs {
				catalogs[source] = catalog.NewCachedClient(client, source, rdb)
			}
		}
	}

	orch := service.New(service.Deps{
		Registry:  store,
		Runtime:   docker,
		Layout:    lay,
		Conflicts: conflict.NewDetector(store, docker, lay),
		Prober:    ping.NewProber(ping.NewClient(), docker, cfg.ProbeInterval, cfg.ProbeTimeout),
		Backups:   backup.NewManager(mirror),
		Catalogs:  catalogs,
		Logger:    logger,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	orchDone := make(chan struct{})
	go func() {
		orch.Run(runCtx)
		close(orchDone)
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogMethod: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"status", v.Status,
				"method", v.Method,
				"uri", v.URI,
				"error", v.Error)
			return nil
		},
	}))
	api.Register(e, orch)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	}()

	logger.Info("craftdock listening", "addr", cfg.ListenAddr)
	if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("failed to serve: %v", err)
	}

	cancelRun()
	<-orchDone
}
