package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ForsakenNGS/LogTrackerApp/internal/addon"
	"github.com/ForsakenNGS/LogTrackerApp/internal/config"
	"github.com/ForsakenNGS/LogTrackerApp/internal/data"
	"github.com/ForsakenNGS/LogTrackerApp/internal/engine"
	"github.com/ForsakenNGS/LogTrackerApp/internal/view"
	"github.com/ForsakenNGS/LogTrackerApp/internal/wcl"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadApp()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	settings, err := config.LoadSettings(config.SettingsPath())
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	log, err := newLogger(settings.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	zones, err := data.LoadZoneTable(settings.ZonesFile)
	if err != nil {
		return fmt.Errorf("load zone table: %w", err)
	}
	log.Info("zone table loaded",
		zap.Int("zones", zones.Count()),
		zap.String("active", zones.Active().Name))

	if cfg.GameDir == "" {
		log.Warn("no game directory configured, set game_dir in " + config.AppPath())
	}
	if !cfg.HasCredentials() {
		log.Warn("no API credentials configured, updates are disabled")
	}

	bridge := view.NewBridge()
	codec := addon.NewCodec(log)
	client := wcl.NewClient(wcl.Config{
		TokenURL:   settings.API.TokenURL,
		GraphQLURL: settings.API.GraphQLURL,
		UserAgent:  settings.API.UserAgent,
		Timeout:    settings.API.HTTPTimeout,
	}, log)

	eng := engine.New(cfg, settings, zones, codec, client, bridge, log)
	eng.Start()

	// Headless chrome: echo status transitions the way the GUI would
	// repaint its status label.
	go func() {
		last := ""
		for range bridge.Repaints() {
			if st := bridge.Status(); st != "" && st != last {
				log.Info(st)
				last = st
			}
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	eng.Stop()
	log.Info("updater stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
