// Command replay runs a recorded JSON-lines session through a cold
// engine and prints every signal that clears the pipeline. The same
// recording always yields the same output.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"microstructure-engine/config"
	"microstructure-engine/internal/engine"
	"microstructure-engine/internal/events"
	"microstructure-engine/internal/feed"
	"microstructure-engine/internal/footprint"
	"microstructure-engine/internal/guard"
	"microstructure-engine/internal/mtf"
	"microstructure-engine/internal/regime"
	"microstructure-engine/internal/scalper"
	"microstructure-engine/internal/scoring"
	"microstructure-engine/internal/sizing"
	"microstructure-engine/internal/volatility"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration (defaults apply when empty)")
	recording := flag.String("file", "", "path to a JSON-lines recording (required)")
	verbose := flag.Bool("v", false, "log component activity to stderr")
	flag.Parse()

	if *recording == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -file recording.jsonl [-config config.yaml] [-v]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	f, err := os.Open(*recording)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open recording: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}

	out := json.NewEncoder(os.Stdout)
	emitted := 0
	src := feed.NewReplay(f, func(sig *engine.EnhancedSignal) {
		emitted++
		if err := out.Encode(sig); err != nil {
			fmt.Fprintf(os.Stderr, "encode signal: %v\n", err)
		}
	}, logger)

	if err := src.Run(context.Background(), eng); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "replay complete: %d signals\n", emitted)
}

func buildEngine(cfg *config.Config, logger zerolog.Logger) (*engine.Engine, error) {
	bus := events.NewBus()
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
