// Package config assembles the per-component settings into one
// document: YAML file over defaults, validated as a whole at load.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"microstructure-engine/internal/engine"
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

// ErrInvalidConfig reports a configuration that failed validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full engine configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
	Portfolio PortfolioConfig `json:"portfolio" yaml:"portfolio"`

	Engine     engine.Config             `json:"engine" yaml:"engine"`
	Detector   volatility.DetectorConfig `json:"volatility" yaml:"volatility"`
	Scalper    scalper.Config            `json:"scalper" yaml:"scalper"`
	Footprint  footprint.AnalyzerConfig  `json:"footprint" yaml:"footprint"`
	Classifier regime.ClassifierConfig   `json:"regime" yaml:"regime"`
	MTF        mtf.Config                `json:"mtf" yaml:"mtf"`
	Scoring    scoring.Config            `json:"scoring" yaml:"scoring"`
	Sizing     sizing.Config             `json:"sizing" yaml:"sizing"`
	Guard      guard.Config              `json:"guard" yaml:"guard"`
}

// ServerConfig holds the observability endpoint settings
type ServerConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled" default:"true"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr" default:":9090"`
}

// LoggingConfig holds the zerolog bootstrap settings
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Output     string `json:"output" yaml:"output" default:"stdout" validate:"oneof=stdout stderr"`
	JSONFormat bool   `json:"json_format" yaml:"json_format"`
}

// FeedConfig selects the market data source
type FeedConfig struct {
	Mode      string               `json:"mode" yaml:"mode" default:"synthetic" validate:"oneof=synthetic none"`
	Synthetic feed.SyntheticConfig `json:"synthetic" yaml:"synthetic"`
}

// PortfolioConfig seeds the sizing portfolio
type PortfolioConfig struct {
	InitialValueUSD float64 `json:"initial_value_usd" yaml:"initial_value_usd" default:"100000" validate:"gt=0"`
}

// Default returns the full default configuration: per-package defaults
// for the components, tag defaults for the local sections.
func Default() *Config {
	c := &Config{
		Feed:       FeedConfig{Synthetic: *feed.DefaultSyntheticConfig()},
		Engine:     *engine.DefaultConfig(),
		Detector:   *volatility.DefaultDetectorConfig(),
		Scalper:    *scalper.DefaultConfig(),
		Footprint:  *footprint.DefaultAnalyzerConfig(),
		Classifier: *regime.DefaultClassifierConfig(),
		MTF:        *mtf.DefaultConfig(),
		Scoring:    *scoring.DefaultConfig(),
		Sizing:     *sizing.DefaultConfig(),
		Guard:      *guard.DefaultConfig(),
	}
	// Only the local sections carry default tags; the component
	// sections are already filled above.
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return c
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every section's struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
