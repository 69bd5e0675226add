// CrowdSight server entrypoint. Wires configuration, storage, the embedded
// message bus, the per-camera pipelines and the REST/WebSocket surface, then
// runs until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/crowdsight/crowdsight/internal/alerts"
	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/api"
	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/config"
	"github.com/crowdsight/crowdsight/internal/core"
	"github.com/crowdsight/crowdsight/internal/database"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/frames"
	"github.com/crowdsight/crowdsight/internal/match"
	"github.com/crowdsight/crowdsight/internal/metrics"
	"github.com/crowdsight/crowdsight/internal/pipeline"
	"github.com/crowdsight/crowdsight/internal/push"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// detectorProbeTimeout bounds the startup health check against the
// detector endpoint.
const detectorProbeTimeout = 5 * time.Second

func main() {
	configFlag := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	configPath := resolveConfigPath(*configFlag)
	cfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	logLevel := setupLogging(cfg)
	cfg.OnChange(func(c *config.Config) {
		logLevel.Set(parseLogLevel(c.Logging.Level))
		slog.Info("Configuration reloaded", "path", configPath)
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Configuration hot reload disabled", "error", err)
	}

	slog.Info("Starting CrowdSight server", "version", version, "config", configPath)

	db, err := database.Open(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}

	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	bus, err := core.NewEventBus(core.EventBusConfig{
		Host: cfg.Bus.Host,
		Port: cfg.Bus.Port,
	}, slog.Default())
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}

	detector, err := buildDetector(cfg)
	if err != nil {
		slog.Error("Detector unreachable with strict mode enabled",
			"endpoint", cfg.Detector.Endpoint, "error", err)
		os.Exit(1)
	}

	cameraStore := cameras.NewStore(db)
	zoneStore := zones.NewStore(db)
	alertStore := alerts.NewStore(db)
	analyticsStore := analytics.NewStore(db)
	movementStore := match.NewStore(db)

	collector := metrics.NewCollector()

	writer := analytics.NewWriter(analyticsStore, analytics.WriterConfig{
		MaxRows: cfg.Pipeline.WriteBufferSamples,
		OnDrop: func(cameraID string, rows int) {
			collector.RowsDropped.WithLabelValues(cameraID).Add(float64(rows))
		},
	})
	writer.Start()

	generator := alerts.NewGenerator(alerts.GeneratorConfig{
		ResampleInterval:     time.Duration(cfg.Alerts.ResampleSeconds) * time.Second,
		OvercapacityCooldown: time.Duration(cfg.Alerts.CooldownSeconds) * time.Second,
	})

	cache := frames.NewCache(cfg.Cache.Frames, time.Duration(cfg.Cache.TTLSeconds)*time.Second)

	hub := push.NewHub(push.Config{
		BufferSize:          cfg.Push.BufferSize,
		SendDeadline:        time.Duration(cfg.Push.SendDeadlineMS) * time.Millisecond,
		MaxConsecutiveDrops: cfg.Push.MaxConsecutiveDrops,
	}, collector)

	matcher := match.NewMatcher(zoneStore, movementStore, match.Config{
		Window:       time.Duration(cfg.Matcher.WindowSeconds) * time.Second,
		SimThreshold: cfg.Matcher.SimThreshold,
	}, collector)

	// Metrics and alerts feed the push fabric, zone events feed the
	// cross-camera matcher.
	mustSubscribe(bus, core.SubjectMetricsAll, hub.HandleMsg)
	mustSubscribe(bus, core.SubjectAlerts, hub.HandleMsg)
	mustSubscribe(bus, core.SubjectZoneEventsAll, matcher.HandleMsg)

	coordinator := pipeline.NewCoordinator(pipeline.Config{
		QueueSize:     cfg.Pipeline.QueueSize,
		ConfThreshold: cfg.Detector.ConfThreshold,
		NMSIoU:        cfg.Detector.NMSIoU,
		Tracker: detection.TrackerConfig{
			IoUThreshold: cfg.Tracker.IoUThreshold,
			MinHits:      cfg.Tracker.MinHits,
			MaxAge:       cfg.Tracker.MaxAge,
		},
		ReIDAlpha: cfg.ReID.Alpha,
		Engine: analytics.EngineConfig{
			DensityNorm:        cfg.Analytics.DensityNorm,
			ReferenceSpeed:     cfg.Analytics.ReferenceSpeed,
			SpeedJumpThreshold: cfg.Analytics.SpeedJumpThreshold,
		},
	}, pipeline.Deps{
		Detector:  detector,
		Zones:     zoneStore,
		Analytics: analyticsStore,
		Writer:    writer,
		Alerts:    alertStore,
		Generator: generator,
		Cameras:   cameraStore,
		Cache:     cache,
		Bus:       bus,
		Metrics:   collector,
	})

	sweeper := cameras.NewSweeper(cameraStore, time.Duration(cfg.Pipeline.CameraIdleSeconds)*time.Second, 0)
	sweeper.Start()

	server := api.NewServer(api.Deps{
		Config:      cfg,
		DB:          db,
		Cameras:     cameraStore,
		Zones:       zoneStore,
		Alerts:      alertStore,
		Analytics:   analyticsStore,
		Movements:   movementStore,
		Coordinator: coordinator,
		Cache:       cache,
		Hub:         hub,
		Collector:   collector,
		Version:     version,
	})

	// No global read or write timeouts: MJPEG streams and push sockets
	// outlive any sane value. The JSON surface is covered by per-route
	// timeout middleware.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Forcing remaining connections closed", "error", err)
		_ = httpServer.Close()
	}

	coordinator.Shutdown()
	bus.Stop()
	hub.Close()
	sweeper.Stop()
	writer.Stop()
	if err := db.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}

	slog.Info("Shutdown complete")
}

func mustSubscribe(bus *core.EventBus, subject string, handler func(*nats.Msg)) {
	if _, err := bus.Subscribe(subject, handler); err != nil {
		slog.Error("Failed to subscribe on event bus", "subject", subject, "error", err)
		os.Exit(1)
	}
}

// resolveConfigPath prefers the -config flag, then the CROWDSIGHT_CONFIG
// environment variable, then the working directory.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("CROWDSIGHT_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

// loadOrCreateConfig reads the configuration file, writing a default one on
// first run so operators have something to edit.
func loadOrCreateConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = config.Default()
	cfg.SetPath(path)
	if saveErr := cfg.Save(); saveErr != nil {
		slog.Warn("Could not write default configuration", "path", path, "error", saveErr)
	} else {
		slog.Info("Wrote default configuration", "path", path)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.Logging.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	return level
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// buildDetector selects the detector backend from configuration. In strict
// mode an unreachable HTTP detector aborts startup; otherwise the server
// comes up and retries per frame.
func buildDetector(cfg *config.Config) (detection.Detector, error) {
	if cfg.Detector.Mode == "static" {
		slog.Info("Using static detector")
		return &detection.StaticDetector{}, nil
	}

	det := detection.NewHTTPDetector(detection.HTTPDetectorConfig{
		Endpoint:   cfg.Detector.Endpoint,
		Timeout:    time.Duration(cfg.Detector.TimeoutMS) * time.Millisecond,
		MaxRetries: cfg.Detector.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), detectorProbeTimeout)
	defer cancel()
	if err := det.Ping(ctx); err != nil {
		if cfg.Detector.Strict {
			return nil, err
		}
		slog.Warn("Detector not reachable yet", "endpoint", cfg.Detector.Endpoint, "error", err)
	}
	return det, nil
}
