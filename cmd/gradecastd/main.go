package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visiongrade/gradecast/pkg/audit"
	"github.com/visiongrade/gradecast/pkg/config"
	"github.com/visiongrade/gradecast/pkg/events"
	"github.com/visiongrade/gradecast/pkg/features"
	"github.com/visiongrade/gradecast/pkg/httpapi"
	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/metrics"
	"github.com/visiongrade/gradecast/pkg/predictor"
	"github.com/visiongrade/gradecast/pkg/recovery"
	"github.com/visiongrade/gradecast/pkg/registry"
	"github.com/visiongrade/gradecast/pkg/store"
	"github.com/visiongrade/gradecast/pkg/trainer"
)

const (
	version = "2.0.0"
	appName = "gradecastd"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
		modelDir    = flag.String("model-dir", "", "Model storage directory (overrides MODEL_DIR)")
		logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *modelDir != "" {
		cfg.ModelDir = *modelDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logx.New(cfg.LogLevel)
	logger.Info("starting gradecast daemon",
		"version", version,
		"listen", cfg.ListenAddr,
		"model_dir", cfg.ModelDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	reg := registry.New(cfg.ModelDir, logger)
	loaded := reg.LoadDir()
	logger.Info("model registry initialized", "loaded_models", loaded)

	trainerCfg := trainer.DefaultConfig()
	trainerCfg.MinRows = cfg.MinTrainingRows
	trainerCfg.TestFraction = cfg.TestSplit
	trainerCfg.AttendanceDefault = cfg.DefaultAttendancePct
	tr := trainer.New(trainerCfg, reg, logger)

	policy := recovery.DefaultEstimatePolicy()
	policy.MinMarks = cfg.FallbackMinMarks
	policy.MaxMarks = cfg.FallbackMaxMarks
	pr := predictor.New(reg, features.NewBuilder(cfg.DefaultAttendancePct), policy, logger)

	auditLog, err := audit.Open(cfg.AuditDBPath, logger)
	if err != nil {
		logger.Warn("audit log unavailable, continuing without it", "error", err.Error())
		auditLog = nil
	} else {
		defer auditLog.Close()
	}

	pub := events.NewPublisher(cfg.MQTT, logger)
	if err := pub.Connect(); err != nil {
		logger.Warn("event publisher unavailable, continuing without it", "error", err.Error())
	}
	defer pub.Disconnect()

	if auditLog != nil {
		auditLog.Record(audit.KindModelReload, map[string]interface{}{
			"loaded_models": reg.Keys(),
			"model_version": reg.Version(),
		})
	}
	if err := pub.PublishModelReload(reg.Info()); err != nil {
		logger.Warn("model reload event not published", "error", err.Error())
	}

	met := metrics.NewServer(reg, logger)
	if err := met.Start(cfg.MetricsPort); err != nil {
		logger.Warn("metrics server not started", "error", err.Error())
	}
	met.UpdateModelMetrics()

	api := httpapi.New(st, tr, pr, reg, auditLog, pub, met, logger)

	go publishHealthLoop(ctx, st, reg, pub, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", "error", err.Error())
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err.Error())
	}
	if err := met.Stop(); err != nil {
		logger.Warn("metrics shutdown incomplete", "error", err.Error())
	}
	logger.Info("gradecast daemon stopped")
}

// publishHealthLoop reports service health to the event bus once a minute
func publishHealthLoop(ctx context.Context, st *store.Store, reg *registry.Registry,
	pub *events.Publisher, logger *logx.Logger) {

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dbStatus := "up"
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := st.Ping(pingCtx); err != nil {
				dbStatus = "down"
			}
			cancel()

			if err := pub.PublishHealth(map[string]interface{}{
				"database":      dbStatus,
				"loaded_models": reg.Keys(),
				"model_version": reg.Version(),
			}); err != nil {
				logger.Warn("health event not published", "error", err.Error())
			}
		}
	}
}
