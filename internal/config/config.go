// Package config loads server configuration from a YAML file whose path the
// caller supplies, with environment-variable overrides, following the pattern
// in the pack's 0xtitan6-polymarket-mm/internal/config: viper plus a
// mapstructure-tagged struct and an explicit Validate step. The teacher
// hardcodes its listen address and port in cmd/server/server.go; this
// package is what that would grow into.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration (spec §6).
type Config struct {
	ListenAddress string        `mapstructure:"listen_address"`
	TickPeriod    time.Duration `mapstructure:"tick_period"`
	TotalSteps    int64         `mapstructure:"total_steps"`
	ExtraSteps    int64         `mapstructure:"extra_steps"`
	AgentUsername string        `mapstructure:"agent_username"`

	Biotech BiotechConfig `mapstructure:"biotech"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BiotechConfig configures the Biotech scenario's decision tree and order
// flow (spec §4.D/§4.E).
type BiotechConfig struct {
	Ticker              string  `mapstructure:"ticker"`
	DecimalPlaces       int32   `mapstructure:"decimal_places"`
	InitialPrice        float64 `mapstructure:"initial_price"`
	UpPrice             float64 `mapstructure:"up_price"`
	DownPrice           float64 `mapstructure:"down_price"`
	PreliminaryGoodProb float64 `mapstructure:"preliminary_good_prob"`
	FDAGoodGivenGood    float64 `mapstructure:"fda_good_given_good_prob"`
	FDAGoodGivenBad     float64 `mapstructure:"fda_good_given_bad_prob"`

	BaseSigma       float64 `mapstructure:"base_sigma"`
	Spread          float64 `mapstructure:"spread"`
	VolMin          uint64  `mapstructure:"vol_min"`
	VolMax          uint64  `mapstructure:"vol_max"`
	OrdersPerTick   int     `mapstructure:"orders_per_tick"`
	RemovalFraction float64 `mapstructure:"removal_fraction"`
	InitialOrders   int     `mapstructure:"initial_orders"`

	Seed int64 `mapstructure:"seed"`
}

// LoggingConfig controls zerolog's output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the spec-mandated defaults (spec §6: tick period 250ms,
// N=1000, extra steps=100) plus the Biotech defaults from spec §4.E/§8.
func Default() Config {
	return Config{
		ListenAddress: "0.0.0.0:9001",
		TickPeriod:    250 * time.Millisecond,
		TotalSteps:    1000,
		ExtraSteps:    100,
		AgentUsername: "AGENT",
		Biotech: BiotechConfig{
			Ticker:              "BIOX",
			DecimalPlaces:       2,
			InitialPrice:        100,
			UpPrice:             150,
			DownPrice:           50,
			PreliminaryGoodProb: 0.5,
			FDAGoodGivenGood:    0.75,
			FDAGoodGivenBad:     0.25,
			BaseSigma:           1.0,
			Spread:              0.5,
			VolMin:              1,
			VolMax:              100,
			OrdersPerTick:       5,
			RemovalFraction:     0.1,
			InitialOrders:       50,
			Seed:                42,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from a YAML file, overlaying it onto Default(), with
// MKTSIM_-prefixed environment variables taking precedence over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MKTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("listen_address", def.ListenAddress)
	v.SetDefault("tick_period", def.TickPeriod)
	v.SetDefault("total_steps", def.TotalSteps)
	v.SetDefault("extra_steps", def.ExtraSteps)
	v.SetDefault("agent_username", def.AgentUsername)
	v.SetDefault("biotech.ticker", def.Biotech.Ticker)
	v.SetDefault("biotech.decimal_places", def.Biotech.DecimalPlaces)
	v.SetDefault("biotech.initial_price", def.Biotech.InitialPrice)
	v.SetDefault("biotech.up_price", def.Biotech.UpPrice)
	v.SetDefault("biotech.down_price", def.Biotech.DownPrice)
	v.SetDefault("biotech.preliminary_good_prob", def.Biotech.PreliminaryGoodProb)
	v.SetDefault("biotech.fda_good_given_good_prob", def.Biotech.FDAGoodGivenGood)
	v.SetDefault("biotech.fda_good_given_bad_prob", def.Biotech.FDAGoodGivenBad)
	v.SetDefault("biotech.base_sigma", def.Biotech.BaseSigma)
	v.SetDefault("biotech.spread", def.Biotech.Spread)
	v.SetDefault("biotech.vol_min", def.Biotech.VolMin)
	v.SetDefault("biotech.vol_max", def.Biotech.VolMax)
	v.SetDefault("biotech.orders_per_tick", def.Biotech.OrdersPerTick)
	v.SetDefault("biotech.removal_fraction", def.Biotech.RemovalFraction)
	v.SetDefault("biotech.initial_orders", def.Biotech.InitialOrders)
	v.SetDefault("biotech.seed", def.Biotech.Seed)
	v.SetDefault("logging.level", def.Logging.Level)
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if c.TotalSteps <= 0 {
		return fmt.Errorf("total_steps must be > 0")
	}
	if c.ExtraSteps < 0 {
		return fmt.Errorf("extra_steps must be >= 0")
	}
	if c.AgentUsername == "" {
		return fmt.Errorf("agent_username is required")
	}
	if c.Biotech.VolMax <= c.Biotech.VolMin {
		return fmt.Errorf("biotech.vol_max must be > biotech.vol_min")
	}
	if c.Biotech.RemovalFraction < 0 || c.Biotech.RemovalFraction > 1 {
		return fmt.Errorf("biotech.removal_fraction must be in [0,1]")
	}
	return nil
}
