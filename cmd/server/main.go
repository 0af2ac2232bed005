package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "swarmhub/internal/api/http"
	"swarmhub/internal/app"
	"swarmhub/internal/domain/ports"
	"swarmhub/internal/metrics"
	"swarmhub/internal/services/netclass"
	"swarmhub/internal/services/sysprobe"
	"swarmhub/internal/services/transfer"
	"swarmhub/internal/services/transfer/backend/anacrolix"
	"swarmhub/internal/services/tuning"
	"swarmhub/internal/store/fsstore"
	snapmongo "swarmhub/internal/store/mongo"
	"swarmhub/internal/telemetry"
	"swarmhub/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	if persisted, err := app.LoadSettings(cfg.StateDir); err == nil {
		cfg = persisted.Apply(cfg)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "swarmhub")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "swarmhub"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("stateDir", cfg.StateDir),
		slog.String("downloadDir", cfg.DownloadDir),
		slog.Int("listenPort", cfg.ListenPort),
		slog.String("logLevel", cfg.LogLevel),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := fsstore.New(cfg.StateDir)
	if err != nil {
		logger.Error("state store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The snapshot list mirrors to Mongo when configured, so the transfer
	// list survives loss of the local state directory.
	snapshots := ports.SnapshotStore(store)
	var disconnectMongo func()
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		client, err := snapmongo.Connect(ctx, cfg.MongoURI,
			options.Client().SetMonitor(otelmongo.NewMonitor()))
		cancel()
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(rootCtx, 5*time.Second)
		err = client.Ping(pingCtx, readpref.Primary())
		pingCancel()
		if err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		snapshots = snapmongo.NewSnapshotStore(client, cfg.MongoDatabase, cfg.MongoCollection)
		disconnectMongo = func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
			}
		}
	}

	factory := func(bc transfer.BackendConfig) (ports.Backend, error) {
		return anacrolix.New(anacrolix.Config{
			DataDir:    bc.DataDir,
			ListenPort: bc.ListenPort,
			Logger:     logger,
		})
	}
	engine := transfer.New(factory, store, snapshots, logger, transfer.Config{
		DataDir:           cfg.DownloadDir,
		CheckpointTimeout: cfg.CheckpointTimeout,
	})
	if err := engine.Start(cfg.ListenPort); err != nil {
		logger.Error("engine start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	classifier := netclass.New(logger)
	tuner := tuning.New(engine, classifier, logger)
	if cfg.Profile != "" {
		tuner.SetManualProfile(cfg.Profile)
	} else {
		tuner.DetectAndApply()
	}

	settingsMgr, err := app.NewSettingsManager(cfg.StateDir, engine, tuner)
	if err != nil {
		logger.Error("settings manager init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Re-add persisted transfers in the background so the HTTP server comes
	// up immediately.
	go func() {
		if restored := usecase.RestoreSession(rootCtx, engine, logger); restored > 0 {
			logger.Info("restored transfers", slog.Int("count", restored))
		}
	}()

	monitor := &usecase.Monitor{
		Engine:   engine,
		Tuner:    tuner,
		Probe:    sysprobe.New(cfg.DownloadDir, logger),
		Logger:   logger,
		Interval: cfg.ProbeInterval,
	}

	handler := apihttp.NewServer(engine,
		apihttp.WithLogger(logger),
		apihttp.WithTuner(tuner),
		apihttp.WithBottleneckSource(monitor),
		apihttp.WithSettings(settingsMgr),
		apihttp.WithDownloadDir(cfg.DownloadDir),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	monitor.Broadcast = handler.BroadcastUpdate
	go monitor.Run(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	engine.PersistTorrentList(shutdownCtx)
	engine.Stop()

	if disconnectMongo != nil {
		disconnectMongo()
	}
	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
