package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-correlator/internal/anomaly"
	"github.com/miradorstack/mirador-correlator/internal/api"
	"github.com/miradorstack/mirador-correlator/internal/cache"
	"github.com/miradorstack/mirador-correlator/internal/config"
	"github.com/miradorstack/mirador-correlator/internal/correlation"
	"github.com/miradorstack/mirador-correlator/internal/metrics"
	"github.com/miradorstack/mirador-correlator/internal/models"
	"github.com/miradorstack/mirador-correlator/internal/monitor"
	"github.com/miradorstack/mirador-correlator/internal/narrative"
	"github.com/miradorstack/mirador-correlator/internal/repo"
	"github.com/miradorstack/mirador-correlator/internal/services"
	"github.com/miradorstack/mirador-correlator/internal/similarity"
	"github.com/miradorstack/mirador-correlator/internal/store"
	"github.com/miradorstack/mirador-correlator/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-correlator", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	incidentStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open incident store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer incidentStore.Close()

	cacheProvider := cache.NewMemoryProvider(nil)
	defer cacheProvider.Close()

	seriesClient := repo.NewTimeSeriesClient(cfg.MetricsSource.BaseURL, cfg.MetricsSource.SeriesPath, cfg.MetricsSource.Timeout)
	statsProvider := anomaly.NewSeriesStatsProvider(seriesClient, cacheProvider, cfg.Cache.StatsTTL)

	method, _ := models.ParseDetectionMethod(cfg.Anomaly.Method)
	detector := anomaly.NewDetector(statsProvider, anomaly.Config{
		Window:           time.Duration(cfg.Anomaly.WindowMinutes) * time.Minute,
		MinSamples:       cfg.Anomaly.MinSamples,
		ZScoreThreshold:  cfg.Anomaly.ZScoreThreshold,
		DefaultMethod:    method,
		BollingerEnabled: cfg.Anomaly.BollingerEnabled,
	})

	narrator := narrative.NewClient(narrative.Config{
		Endpoint:          cfg.Narrative.Endpoint,
		Model:             cfg.Narrative.Model,
		Timeout:           cfg.Narrative.Timeout,
		RequestsPerMinute: cfg.Narrative.RequestsPerMinute,
		CacheTTL:          cfg.Narrative.CacheTTL,
	}, cacheProvider, utils.Component(logger, "narrative"))

	correlationCfg := cfg.Correlation
	engine := correlation.NewEngine(
		incidentStore,
		similarity.NewClusterer(),
		narrator,
		correlation.SettingsFunc(func() correlation.Settings {
			return correlation.Settings{
				WindowMinutes:        correlationCfg.WindowMinutes,
				SmartGroupingEnabled: correlationCfg.SmartGrouping.Enabled,
				SimilarityThreshold:  correlationCfg.SmartGrouping.SimilarityThreshold,
				NarrativeEnabled:     correlationCfg.Narrative.Enabled,
			}
		}),
		utils.Component(logger, "correlation"),
	)

	actions, err := monitor.LoadActionRules(cfg.Monitor.ActionRulesPath, logger)
	if err != nil {
		logger.Error("failed to load action rules", slog.Any("error", err))
		os.Exit(1)
	}
	cycle := monitor.NewCycle(detector, engine, actions, utils.Component(logger, "monitor"))

	correlatorService := services.NewCorrelatorService(logger, engine, detector, cycle, incidentStore)

	server, err := api.NewServer(cfg.Server, correlatorService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := incidentStore.Ping(r.Context()); err != nil {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-correlator stopped")
}
