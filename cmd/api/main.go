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

	migrations "tillbook/api/db"
	"tillbook/api/internal/app"
	"tillbook/api/internal/archive"
	"tillbook/api/internal/auth"
	"tillbook/api/internal/config"
	"tillbook/api/internal/email"
	"tillbook/api/internal/export"
	"tillbook/api/internal/generate"
	"tillbook/api/internal/logger"
	"tillbook/api/internal/media"
	"tillbook/api/internal/metrics"
	"tillbook/api/internal/search"
	"tillbook/api/internal/session"
	"tillbook/api/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New("tillbook-api", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	schema := migrations.Migrations()
	if cfg.MigrationsDir != "" {
		schema = os.DirFS(cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, db, schema); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer sessions.Close()

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	m := metrics.New("tillbook")

	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.Named("meili"))
		defer meili.Close()
		searchService = search.NewService(meili, pgfts, log.Named("search"))
		go searchService.ReindexAllFromPG(ctx)
	} else {
		log.Info("meilisearch not configured, using postgres full-text search")
		searchService = search.NewService(nil, pgfts, log.Named("search"))
	}

	deps := app.Deps{
		Docs:      store.NewPostgresStore(db),
		Ping:      db.PingContext,
		Sessions:  sessions,
		Identity:  auth.NewIdentityVerifier(cfg.IdentitySecret, cfg.IdentityIssuer, cfg.IdentityAudience),
		Slots:     app.RedisSlots(sessions.Client()),
		Archive:   archive.New(cfg.ArchiveDir),
		Search:    searchService,
		Generator: generate.NewGateway(generate.NewHTTPBackend(cfg.GeneratorURL, cfg.GeneratorAPIKey), cfg.GeneratorTimeout, log.Named("generate"), m),
		Export:    export.NewService(cfg.ExportLocale, log.Named("export")),
		Metrics:   m,
		Logger:    log,
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaStore, err := media.New(ctx, media.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MediaPublicURL,
		}, log.Named("media"))
		if err != nil {
			return fmt.Errorf("media storage setup failed: %w", err)
		}
		deps.Media = mediaStore
	} else {
		log.Info("media storage not configured, uploads disabled")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		log.Info("smtp not configured, invoice email disabled")
	}

	service := app.New(cfg, deps)
	defer service.Close()

	go func() {
		if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sync worker stopped", zap.Error(err))
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
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
		log.Info("tillbook api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	log.Info("tillbook api stopped")
	return nil
}
