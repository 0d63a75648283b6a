package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livewatch/internal/livestatus"
	"livewatch/internal/platform/config"
	"livewatch/internal/platform/logger"
	"livewatch/internal/platform/metrics"
	"livewatch/internal/websub"
	"livewatch/internal/youtube"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	channelID := config.GetEnv("CHANNEL_ID", "")
	dbPath := config.GetEnv("DB_PATH", "data/livewatch.db")
	reconcileInterval := config.GetEnvDuration("RECONCILE_INTERVAL", 10*time.Minute)

	log := logger.New(logLevel, logFormat)

	if channelID == "" {
		log.Error("CHANNEL_ID is required")
		os.Exit(1)
	}

	store, err := livestatus.OpenSQLite(dbPath)
	if err != nil {
		log.Error("open state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	repo, err := livestatus.NewStateRepository(store, log)
	if err != nil {
		log.Error("load persisted state", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	notifier := livestatus.NewNotifier(log)
	repo.SetBroadcast(func(snap livestatus.Snapshot) {
		notifier.Broadcast(snap)
		met.IncBroadcasts()
	})

	yt := youtube.NewClient(config.GetEnv("YOUTUBE_API_KEY", ""))
	hub := websub.NewClient(config.GetEnv("HUB_URL", "https://pubsubhubbub.appspot.com/subscribe"))

	svc := livestatus.NewService(livestatus.Config{
		ChannelID:     channelID,
		CallbackURL:   config.GetEnv("CALLBACK_URL", ""),
		VerifyToken:   config.GetEnv("VERIFY_TOKEN", ""),
		WebhookSecret: config.GetEnv("WEBHOOK_SECRET", ""),
		ControlToken:  config.GetEnv("CONTROL_TOKEN", ""),
		LeaseSeconds:  config.GetEnvInt("LEASE_SECONDS", livestatus.DefaultLeaseSeconds),
		FlushCooldown: config.GetEnvDuration("FLUSH_COOLDOWN", livestatus.DefaultFlushCooldown),
	}, repo, yt, hub, log, met)

	h := livestatus.NewHandler(svc, notifier, log, met)

	r := chi.NewRouter()
	r.Use(logger.Recoverer(log))
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(livestatus.CORS)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetConnectedListeners(notifier.Count()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Reconciliation sweep: an immediate pass gets the subscription going on
	// a cold start, then the ticker takes over.
	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	go func() {
		svc.Reconcile(reconcileCtx)
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.Reconcile(reconcileCtx)
			case <-reconcileCtx.Done():
				return
			}
		}
	}()

	log.Info("server starting",
		"port", port,
		"channel_id", channelID,
		"reconcile_interval", reconcileInterval.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stopReconcile()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
