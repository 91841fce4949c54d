package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lineage/api/internal/app"
	"lineage/api/internal/cache"
	"lineage/api/internal/config"
	"lineage/api/internal/gitrepo"
	"lineage/api/internal/logging"
	"lineage/api/internal/metrics"
	"lineage/api/internal/photo"
	"lineage/api/internal/search"
	"lineage/api/internal/session"
	"lineage/api/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := store.OpenMigrated(ctx, cfg.DatabaseURL, cfg.MigrationsDir, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)

	m := metrics.New()
	deps := app.Deps{
		Config:  cfg,
		Store:   dataStore,
		Wiki:    gitrepo.New(cfg.WikiRepoDir),
		Metrics: m,
		Logger:  logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Cache = cache.NewSummaryCache(redisStore.Client(), cfg.SummaryCacheTTL)
		logger.Info("using redis for sessions and summary cache")
	} else {
		logger.Info("using postgres for sessions and an in-process summary cache")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := photo.NewMinioStore(photo.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("photo storage: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = blobs.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			logger.Warn("photo bucket unavailable; uploads will fail until it exists", zap.Error(err))
		}
		deps.Photos = photo.NewService(blobs, cfg.PhotoURLTTL, logger)
	} else {
		logger.Info("photo storage not configured")
	}

	pgfts := search.NewPgFTS(db)
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pgfts, logger)
	searchService.OnFallback(m.SearchFallback)
	defer searchService.Wait()
	deps.Search = searchService
	go searchService.ReindexAll(ctx, pgfts)

	service := app.New(deps)
	created, err := service.Accounts().EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
	if err != nil {
		logger.Warn("bootstrap admin failed; will retry on next restart", zap.Error(err))
	} else if created {
		logger.Info("bootstrap admin created", zap.String("email", cfg.BootstrapAdminEmail))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger, m)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("lineage api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
