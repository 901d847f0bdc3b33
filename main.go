package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"microstructure-engine/config"
	"microstructure-engine/internal/engine"
	"microstructure-engine/internal/events"
	"microstructure-engine/internal/feed"
	"microstructure-engine/internal/footprint"
	"microstructure-engine/internal/guard"
	"microstructure-engine/internal/metrics"
	"microstructure-engine/internal/mtf"
	"microstructure-engine/internal/regime"
	"microstructure-engine/internal/scalper"
	"microstructure-engine/internal/scoring"
	"microstructure-engine/internal/sizing"
	"microstructure-engine/internal/volatility"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("feed_mode", cfg.Feed.Mode).Msg("Microstructure engine starting")

	bus := events.NewBus()
	eng, err := buildEngine(cfg, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Engine construction failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics.New(registry).Attach(bus)
		go serveMetrics(ctx, cfg.Server.MetricsAddr, registry, logger)
	}

	bus.Subscribe(events.EventBlackSwanAlert, func(e events.Event) {
		logger.Warn().
			Str("symbol", e.Symbol).
			Interface("alert", e.Data).
			Msg("Black swan alert")
	})

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Housekeeping loop stopped")
		}
	}()

	switch cfg.Feed.Mode {
	case "synthetic":
		src := feed.NewSynthetic(&cfg.Feed.Synthetic, func(sig *engine.EnhancedSignal) {
			logger.Info().
				Str("symbol", sig.Symbol).
				Str("direction", string(sig.Direction)).
				Float64("score", sig.Score).
				Float64("size_usd", sig.SizeUSD).
				Msg("Signal")
		}, logger)
		if err := src.Run(ctx, eng); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Feed stopped")
		}
	case "none":
		<-ctx.Done()
	}

	logger.Info().Msg("Microstructure engine stopped")
}

// buildEngine wires every component from the loaded configuration
func buildEngine(cfg *config.Config, bus *events.Bus, logger zerolog.Logger) (*engine.Engine, error) {
	account := sizing.NewAccount(cfg.Portfolio.InitialValueUSD)
	sizer, err := sizing.NewSizer(&cfg.Sizing, account, logger)
	if err != nil {
		return nil, err
	}
	comps := engine.Components{
		Scalper:    scalper.NewStrategy(&cfg.Scalper, bus, logger),
		Detector:   volatility.NewDetector(&cfg.Detector, bus, logger),
		Footprint:  footprint.NewAnalyzer(&cfg.Footprint, logger),
		Classifier: regime.NewClassifier(&cfg.Classifier, logger),
		MTF:        mtf.NewAnalyzer(&cfg.MTF, logger),
		Scorer:     scoring.NewScorer(&cfg.Scoring, logger),
		Sizer:      sizer,
		Guard:      guard.NewGuard(&cfg.Guard, bus, logger),
	}
	return engine.New(&cfg.Engine, comps, bus, logger)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	var w zerolog.Logger
	if cfg.JSONFormat {
		w = zerolog.New(out)
	} else {
		w = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return w.Level(level).With().Timestamp().Logger()
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}
