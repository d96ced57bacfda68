// Package config loads the pricer's configuration from a YAML file and
// PRICER_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/defistate/defistate-pricing-go/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all pricer configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Pricer    PricerConfig    `mapstructure:"pricer"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// VerifierConfig tunes subgraph verification.
type VerifierConfig struct {
	// MinLiquidity is a decimal amount in end-token units.
	MinLiquidity string `mapstructure:"min_liquidity"`
	Workers      int    `mapstructure:"workers"`
	MaxIters     int    `mapstructure:"max_iters"`
	RundownAfter int    `mapstructure:"rundown_after"`
}

type GraphConfig struct {
	MaxHops             int `mapstructure:"max_hops"`
	CompactionThreshold int `mapstructure:"compaction_threshold"`
}

// PricerConfig selects what to price. Pairs are "0xBase-0xQuote".
type PricerConfig struct {
	FixturePath   string   `mapstructure:"fixture_path"`
	Block         uint64   `mapstructure:"block"`
	Pairs         []string `mapstructure:"pairs"`
	MaxRounds     int      `mapstructure:"max_rounds"`
	SplitFirstHop bool     `mapstructure:"split_first_hop"`
}

type TelemetryConfig struct {
	// Enabled writes verification spans to stdout.
	Enabled bool `mapstructure:"enabled"`
	// MetricsAddr serves /metrics when set.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoadConfig loads configuration from path and the environment. A missing
// file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.log_level", "PRICER_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("pricer.pairs", "PRICER_PAIRS")
	v.BindEnv("pricer.fixture_path", "PRICER_FIXTURE")
	v.BindEnv("telemetry.enabled", "PRICER_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.metrics_addr", "PRICER_METRICS_ADDR")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("verifier.min_liquidity", "25000")
	v.SetDefault("verifier.workers", 0) // GOMAXPROCS
	v.SetDefault("verifier.max_iters", 16)
	v.SetDefault("verifier.rundown_after", 2)

	v.SetDefault("graph.max_hops", 4)
	v.SetDefault("graph.compaction_threshold", 1000)

	v.SetDefault("pricer.max_rounds", 32)
	v.SetDefault("pricer.split_first_hop", false)

	v.SetDefault("telemetry.enabled", false)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if _, err := c.Verifier.MinLiquidityRat(); err != nil {
		return err
	}
	if c.Verifier.Workers < 0 || c.Verifier.MaxIters < 0 || c.Verifier.RundownAfter < 0 {
		return fmt.Errorf("verifier: workers, max_iters and rundown_after cannot be negative")
	}
	if c.Graph.MaxHops < 0 {
		return fmt.Errorf("graph.max_hops cannot be negative")
	}
	if c.Pricer.MaxRounds < 0 {
		return fmt.Errorf("pricer.max_rounds cannot be negative")
	}
	if c.Pricer.FixturePath == "" {
		return fmt.Errorf("pricer.fixture_path is required")
	}
	if len(c.Pricer.Pairs) == 0 {
		return fmt.Errorf("pricer.pairs cannot be empty")
	}
	if _, err := c.Pricer.PairList(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses app.log_level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.App.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid app.log_level %q: %w", c.App.LogLevel, err)
	}
	return level, nil
}

// MinLiquidityRat returns the liquidity threshold as an exact rational.
func (c *VerifierConfig) MinLiquidityRat() (*big.Rat, error) {
	d, err := decimal.NewFromString(c.MinLiquidity)
	if err != nil {
		return nil, fmt.Errorf("invalid verifier.min_liquidity %q: %w", c.MinLiquidity, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("verifier.min_liquidity cannot be negative: %s", d)
	}
	return d.Rat(), nil
}

// PairList parses the configured pairs.
func (c *PricerConfig) PairList() ([]engine.Pair, error) {
	pairs := make([]engine.Pair, 0, len(c.Pairs))
	for _, raw := range c.Pairs {
		base, quote, ok := strings.Cut(strings.TrimSpace(raw), "-")
		if !ok || !common.IsHexAddress(base) || !common.IsHexAddress(quote) {
			return nil, fmt.Errorf("invalid pair %q: want 0xBase-0xQuote", raw)
		}
		pair := engine.NewPair(common.HexToAddress(base), common.HexToAddress(quote))
		if pair.Token0 == pair.Token1 {
			return nil, fmt.Errorf("invalid pair %q: tokens are equal", raw)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
