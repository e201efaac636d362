package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/seantiz/helix/internal/api"
	"github.com/seantiz/helix/internal/archive"
	"github.com/seantiz/helix/internal/config"
	"github.com/seantiz/helix/internal/engine"
	"github.com/seantiz/helix/internal/provider"
	"github.com/seantiz/helix/internal/provider/builtin"
	"github.com/seantiz/helix/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("helix: starting",
		"listen_addr", cfg.ListenAddr,
		"notify_addr", cfg.NotifyAddr,
		"store_driver", cfg.StoreDriver,
	)

	var db store.Store
	switch cfg.StoreDriver {
	case "postgres":
		db, err = store.NewPostgresStore(context.Background(), cfg.PostgresDSN)
	default:
		db, err = store.NewSQLiteStore(cfg.DBPath)
	}
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	providerCfgs, err := config.LoadProviders(cfg.ProvidersPath)
	if err != nil {
		log.Fatalf("failed to load providers: %v", err)
	}
	registry, err := provider.Build(providerCfgs, builtin.Factories(), logger)
	if err != nil {
		log.Fatalf("failed to build providers: %v", err)
	}

	var archiver engine.Archiver
	if cfg.ArchiveEnabled() {
		startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a, err := archive.New(startupCtx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Region:    cfg.ArchiveRegion,
			UseSSL:    cfg.ArchiveUseSSL,
			Bucket:    cfg.ArchiveBucket,
		}, logger)
		cancel()
		if err != nil {
			log.Fatalf("failed to init archive: %v", err)
		}
		archiver = a
	}

	ctrl := engine.NewController(db, registry, logger, engine.Options{
		ProviderTimeout:   cfg.ProviderTimeout,
		MaxSubmitAttempts: cfg.MaxSubmitAttempts,
		BackoffBase:       cfg.SubmitBackoffBase,
		Archiver:          archiver,
	})

	sched := engine.NewScheduler(ctrl, db, engine.SchedulerConfig{
		PollInterval:       cfg.PollInterval,
		StalenessThreshold: cfg.StalenessThreshold,
		Workers:            cfg.Workers,
		QueueSize:          cfg.QueueSize,
	}, logger)
	sched.Start()
	defer sched.Stop()

	// The notification intake listens on its own port so push hints never
	// compete with public API traffic.
	listener := engine.NewListener(sched, logger)
	notifySrv := &http.Server{
		Addr:              cfg.NotifyAddr,
		Handler:           listener.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("notify listener started", "addr", cfg.NotifyAddr)
		if err := notifySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("notify listener failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = notifySrv.Shutdown(shutdownCtx)
	}()

	srv := api.NewServer(cfg.ListenAddr, ctrl, sched, registry, db, logger)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
