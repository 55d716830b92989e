package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"pressure-feeder/internal/breakout"
	"pressure-feeder/internal/depth"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Source selects the upstream adapter: "binance" or "redis".
	Source             string      `yaml:"source"`
	BinanceStreamURL   string      `yaml:"binance_stream_url"`
	DepthLevels        int         `yaml:"depth_levels"` // 0 subscribes the diff stream
	DepthSpeedMs       int         `yaml:"depth_speed_ms"`
	DisableDepthStream bool        `yaml:"disable_depth_stream"`
	Redis              RedisConfig `yaml:"redis"`

	BroadcastCapacity    int `yaml:"broadcast_capacity"` // per-subscriber queue
	HeartbeatSeconds     int `yaml:"heartbeat_seconds"`
	AlertCooldownSeconds int `yaml:"alert_cooldown_seconds"`

	Defaults SymbolConfig     `yaml:"defaults"`
	Symbols  []SymbolOverride `yaml:"symbols"`

	// Resolved is filled by Load: one entry per symbol, defaults applied.
	Resolved []SymbolConfig `yaml:"-"`
}

type RedisConfig struct {
	URL           string `yaml:"url"`
	Password      string `yaml:"password"`
	StreamKey     string `yaml:"stream_key"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
}

// SymbolConfig is the immutable per-symbol parameter set.
type SymbolConfig struct {
	Symbol string `yaml:"-" json:"symbol"`

	BigTradeQty float64 `yaml:"big_trade_qty" json:"big_trade_qty"`
	SpikePct    float64 `yaml:"spike_pct" json:"spike_pct"`

	MinDepthQty      float64 `yaml:"min_depth_qty" json:"min_depth_qty"`
	MinDepthNotional float64 `yaml:"min_depth_notional" json:"min_depth_notional"`
	MinPressurePct   float64 `yaml:"min_pressure_pct" json:"min_pressure_pct"`
	MaxMatches       int     `yaml:"max_matches" json:"max_matches"`

	WindowSize           int     `yaml:"window_size" json:"window_size"`
	PressureThresholdPct float64 `yaml:"pressure_threshold_pct" json:"pressure_threshold_pct"`
	MinTotalNotional     float64 `yaml:"min_total_notional" json:"min_total_notional"`
	MinConsecutive       int     `yaml:"min_consecutive" json:"min_consecutive"`
}

// gateMatches caps the levels inspected by the big-trade gate.
const gateMatches = 3

func (c SymbolConfig) Thresholds() depth.Thresholds {
	return depth.Thresholds{
		GateQty:        c.BigTradeQty,
		GateMatches:    gateMatches,
		MinQty:         c.MinDepthQty,
		MinNotional:    c.MinDepthNotional,
		MaxMatches:     c.MaxMatches,
		MinPressurePct: c.MinPressurePct,
	}
}

func (c SymbolConfig) Detector() breakout.Config {
	return breakout.Config{
		WindowSize:        c.WindowSize,
		PressureThreshold: c.PressureThresholdPct,
		MinTotalNotional:  c.MinTotalNotional,
		MinConsecutive:    c.MinConsecutive,
	}
}

func (c SymbolConfig) Validate() error {
	if c.MinPressurePct < 0 || c.MinPressurePct > 100 {
		return errors.New("min_pressure_pct must be in [0,100]")
	}
	if c.MaxMatches < 0 {
		return errors.New("max_matches must be >=0")
	}
	if err := c.Detector().Validate(); err != nil {
		return err
	}
	return nil
}

// SymbolOverride carries the per-symbol settings that differ from Defaults. The
// same struct is read from the environment, with no prefix for process-wide
// defaults and with a "BTCUSDT_" style prefix per symbol.
type SymbolOverride struct {
	Symbol string `yaml:"symbol"`

	BigTradeQty          *float64 `yaml:"big_trade_qty" env:"BIG_TRADE_QTY"`
	SpikePct             *float64 `yaml:"spike_pct" env:"SPIKE_PCT"`
	MinDepthQty          *float64 `yaml:"min_depth_qty" env:"BIG_DEPTH_MIN_QTY"`
	MinDepthNotional     *float64 `yaml:"min_depth_notional" env:"BIG_DEPTH_MIN_NOTIONAL"`
	MinPressurePct       *float64 `yaml:"min_pressure_pct" env:"BIG_DEPTH_MIN_PRESSURE_PCT"`
	MaxMatches           *int     `yaml:"max_matches" env:"BIG_DEPTH_MAX_MATCHES"`
	WindowSize           *int     `yaml:"window_size" env:"BIG_MOVE_WINDOW_SIZE"`
	PressureThresholdPct *float64 `yaml:"pressure_threshold_pct" env:"BIG_MOVE_PRESSURE_PCT"`
	MinTotalNotional     *float64 `yaml:"min_total_notional" env:"BIG_MOVE_MIN_NOTIONAL"`
	MinConsecutive       *int     `yaml:"min_consecutive" env:"BIG_MOVE_MIN_CONSECUTIVE"`
}

func (o SymbolOverride) apply(c SymbolConfig) SymbolConfig {
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setI := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&c.BigTradeQty, o.BigTradeQty)
	setF(&c.SpikePct, o.SpikePct)
	setF(&c.MinDepthQty, o.MinDepthQty)
	setF(&c.MinDepthNotional, o.MinDepthNotional)
	setF(&c.MinPressurePct, o.MinPressurePct)
	setI(&c.MaxMatches, o.MaxMatches)
	setI(&c.WindowSize, o.WindowSize)
	setF(&c.PressureThresholdPct, o.PressureThresholdPct)
	setF(&c.MinTotalNotional, o.MinTotalNotional)
	setI(&c.MinConsecutive, o.MinConsecutive)
	return c
}

// envOverrides is the environment surface read after the YAML file.
type envOverrides struct {
	Port               *int     `env:"PORT"`
	LogLevel           *string  `env:"LOG_LEVEL"`
	Source             *string  `env:"FEED_SOURCE"`
	Symbols            []string `env:"SYMBOLS" envSeparator:","`
	BroadcastCapacity  *int     `env:"BROADCAST_CAPACITY"`
	HeartbeatSeconds   *int     `env:"HEARTBEAT_SECONDS"`
	AlertCooldown      *int     `env:"ALERT_COOLDOWN_SECONDS"`
	DisableDepthStream *string  `env:"DISABLE_DEPTH_STREAM"`
	RedisURL           *string  `env:"REDIS_URL"`
	RedisPassword      *string  `env:"REDIS_PASSWORD"`

	Defaults SymbolOverride
}

func defaults() Config {
	return Config{
		Port:             9001,
		LogLevel:         "info",
		Source:           "binance",
		BinanceStreamURL: "wss://data-stream.binance.vision/stream",
		DepthLevels:      20,
		DepthSpeedMs:     100,
		Redis: RedisConfig{
			URL:           "redis://localhost:6379",
			StreamKey:     "feeder:binance",
			ConsumerGroup: "pressure-feeder",
			ConsumerName:  "feeder-1",
		},
		BroadcastCapacity: 256,
		HeartbeatSeconds:  15,
		Defaults: SymbolConfig{
			BigTradeQty:          20,
			SpikePct:             0.4,
			WindowSize:           5,
			PressureThresholdPct: 75,
			MinConsecutive:       3,
		},
		Symbols: []SymbolOverride{{Symbol: "BTCUSDT"}},
	}
}

// Load reads path (a missing file means defaults only), then applies
// environment overrides from the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, environ())
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, environment map[string]string) (Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(environment); err != nil {
		return cfg, err
	}
	if err := cfg.resolve(environment); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(environment map[string]string) error {
	var ov envOverrides
	if err := env.ParseWithOptions(&ov, env.Options{Environment: environment}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if ov.Port != nil {
		c.Port = *ov.Port
	}
	if ov.LogLevel != nil {
		c.LogLevel = *ov.LogLevel
	}
	if ov.Source != nil {
		c.Source = *ov.Source
	}
	if ov.BroadcastCapacity != nil {
		c.BroadcastCapacity = *ov.BroadcastCapacity
	}
	if ov.HeartbeatSeconds != nil {
		c.HeartbeatSeconds = *ov.HeartbeatSeconds
	}
	if ov.AlertCooldown != nil {
		c.AlertCooldownSeconds = *ov.AlertCooldown
	}
	if ov.DisableDepthStream != nil {
		c.DisableDepthStream = parseLooseBool(*ov.DisableDepthStream)
	}
	if ov.RedisURL != nil {
		c.Redis.URL = *ov.RedisURL
	}
	if ov.RedisPassword != nil {
		c.Redis.Password = *ov.RedisPassword
	}
	c.Defaults = ov.Defaults.apply(c.Defaults)

	if len(ov.Symbols) > 0 {
		byName := map[string]SymbolOverride{}
		for _, o := range c.Symbols {
			byName[canonSymbol(o.Symbol)] = o
		}
		symbols := make([]SymbolOverride, 0, len(ov.Symbols))
		for _, s := range ov.Symbols {
			name := canonSymbol(s)
			if name == "" {
				continue
			}
			o := byName[name]
			o.Symbol = name
			symbols = append(symbols, o)
		}
		c.Symbols = symbols
	}
	return nil
}

// resolve builds Resolved: defaults, then the YAML entry, then {SYMBOL}_ env keys.
func (c *Config) resolve(environment map[string]string) error {
	c.Resolved = c.Resolved[:0]
	seen := map[string]bool{}
	for _, o := range c.Symbols {
		name := canonSymbol(o.Symbol)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		sc := o.apply(c.Defaults)
		var envOv SymbolOverride
		if err := env.ParseWithOptions(&envOv, env.Options{Prefix: name + "_", Environment: environment}); err != nil {
			return fmt.Errorf("parse environment for %s: %w", name, err)
		}
		sc = envOv.apply(sc)
		sc.Symbol = name
		c.Resolved = append(c.Resolved, sc)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	switch c.Source {
	case "binance":
		if c.BinanceStreamURL == "" {
			return errors.New("binance_stream_url required")
		}
	case "redis":
		if c.Redis.URL == "" || c.Redis.StreamKey == "" || c.Redis.ConsumerGroup == "" {
			return errors.New("redis url, stream_key and consumer_group required")
		}
	default:
		return fmt.Errorf(`source must be "binance" or "redis", got %q`, c.Source)
	}
	if !slices.Contains([]int{0, 5, 10, 20}, c.DepthLevels) {
		return errors.New("depth_levels must be one of 0, 5, 10, 20")
	}
	if c.DepthSpeedMs != 100 && c.DepthSpeedMs != 1000 {
		return errors.New("depth_speed_ms must be 100 or 1000")
	}
	if c.BroadcastCapacity < 1 {
		return errors.New("broadcast_capacity must be >=1")
	}
	if c.HeartbeatSeconds < 1 {
		return errors.New("heartbeat_seconds must be >=1")
	}
	if c.AlertCooldownSeconds < 0 {
		return errors.New("alert_cooldown_seconds must be >=0")
	}
	if len(c.Resolved) == 0 {
		return errors.New("at least one symbol must be configured")
	}
	for _, sc := range c.Resolved {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("symbol %s: %w", sc.Symbol, err)
		}
	}
	return nil
}

// SymbolTable indexes Resolved by canonical symbol.
func (c Config) SymbolTable() map[string]SymbolConfig {
	out := make(map[string]SymbolConfig, len(c.Resolved))
	for _, sc := range c.Resolved {
		out[sc.Symbol] = sc
	}
	return out
}

// SymbolNames lists the configured symbols in configuration order.
func (c Config) SymbolNames() []string {
	out := make([]string, 0, len(c.Resolved))
	for _, sc := range c.Resolved {
		out = append(out, sc.Symbol)
	}
	return out
}

func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c Config) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownSeconds) * time.Second
}

func canonSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// parseLooseBool accepts 1/true/yes, tolerating whitespace and surrounding quotes
// that some .env parsers leave in place.
func parseLooseBool(v string) bool {
	v = strings.Trim(strings.TrimSpace(v), `"'`)
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func environ() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
