// Package config loads courier's runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// COURIER_* environment variables. The result is checked against an
// embedded CUE schema before use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/courier/internal/engine"
	"github.com/roach88/courier/internal/events"
	"github.com/roach88/courier/internal/ir"
	"github.com/roach88/courier/internal/weight"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COURIER_"

//go:embed schema.cue
var schemaSource string

// Config is the full runtime configuration.
type Config struct {
	Database string        `yaml:"database" json:"database" env:"DB"`
	Limits   LimitsConfig  `yaml:"limits" json:"limits" envPrefix:"LIMITS_"`
	Deposit  DepositConfig `yaml:"deposit" json:"deposit" envPrefix:"DEPOSIT_"`
	Weight   WeightConfig  `yaml:"weight" json:"weight" envPrefix:"WEIGHT_"`
	Events   EventsConfig  `yaml:"events" json:"events" envPrefix:"EVENTS_"`
	LogLevel string        `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
}

// LimitsConfig mirrors engine.Limits.
type LimitsConfig struct {
	MaxTimeoutsPerBlock int `yaml:"max_timeouts_per_block" json:"max_timeouts_per_block" env:"MAX_TIMEOUTS_PER_BLOCK"`
	MaxRemovals         int `yaml:"max_removals" json:"max_removals" env:"MAX_REMOVALS"`
	MaxResponseLen      int `yaml:"max_response_len" json:"max_response_len" env:"MAX_RESPONSE_LEN"`
}

// DepositConfig mirrors engine.DepositPolicy.
type DepositConfig struct {
	Base    ir.Balance `yaml:"base" json:"base" env:"BASE"`
	ByteFee ir.Balance `yaml:"byte_fee" json:"byte_fee" env:"BYTE_FEE"`
	// WeightFee prices one unit of callback weight.
	WeightFee ir.Balance `yaml:"weight_fee" json:"weight_fee" env:"WEIGHT_FEE"`
}

// WeightConfig sets the per-process weight budget and operation costs.
type WeightConfig struct {
	// Limit of 0 disables metering.
	Limit ir.Weight        `yaml:"limit" json:"limit" env:"LIMIT"`
	Costs weight.CostTable `yaml:"costs" json:"costs"`
}

// EventsConfig configures the redis event stream. An empty RedisAddr
// disables it.
type EventsConfig struct {
	RedisAddr string `yaml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR"`
	Stream    string `yaml:"stream" json:"stream" env:"STREAM"`
	MaxLen    int64  `yaml:"max_len" json:"max_len" env:"MAX_LEN"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	limits := engine.DefaultLimits()
	deposit := engine.DefaultDepositPolicy()
	return Config{
		Database: "courier.db",
		Limits: LimitsConfig{
			MaxTimeoutsPerBlock: limits.MaxTimeoutsPerBlock,
			MaxRemovals:         limits.MaxRemovals,
			MaxResponseLen:      limits.MaxResponseLen,
		},
		Deposit: DepositConfig{
			Base:      deposit.Base,
			ByteFee:   deposit.ByteFee,
			WeightFee: deposit.WeightFee,
		},
		Weight: WeightConfig{
			Costs: weight.DefaultCosts(),
		},
		Events: EventsConfig{
			Stream: events.DefaultStream,
		},
		LogLevel: "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: env.ToMap(environ),
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays r onto cfg. Unknown keys are rejected; an empty
// document leaves cfg unchanged.
func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// EngineOptions translates the configuration into engine options. A
// non-zero weight limit installs a fresh budget meter.
func (c Config) EngineOptions() []engine.EngineOption {
	opts := []engine.EngineOption{
		engine.WithLimits(engine.Limits{
			MaxTimeoutsPerBlock: c.Limits.MaxTimeoutsPerBlock,
			MaxRemovals:         c.Limits.MaxRemovals,
			MaxResponseLen:      c.Limits.MaxResponseLen,
		}),
		engine.WithDeposit(engine.DepositPolicy{
			Base:      c.Deposit.Base,
			ByteFee:   c.Deposit.ByteFee,
			WeightFee: c.Deposit.WeightFee,
		}),
	}
	if c.Weight.Limit > 0 {
		opts = append(opts, engine.WithMeter(weight.NewBudget(c.Weight.Limit), c.Weight.Costs))
	}
	return opts
}

// RedisOptions returns the sink options for the events section.
func (c Config) RedisOptions() []events.RedisOption {
	opts := []events.RedisOption{events.WithStream(c.Events.Stream)}
	if c.Events.MaxLen > 0 {
		opts = append(opts, events.WithMaxLen(c.Events.MaxLen))
	}
	return opts
}
