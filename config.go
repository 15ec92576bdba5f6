// FILE: config.go
// Package main – Runtime configuration.
//
// One immutable Config is assembled at startup in four layers, later layers
// winning: built-in defaults ← optional YAML file ← environment ← flags
// (flags are applied in main.go). validate() runs once after assembly and a
// failure aborts the run before the first cycle. Nothing reads the
// environment after loadConfig returns.

package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Run
	Mode      string   `yaml:"mode"`     // "live" | "backtest"
	Strategy  string   `yaml:"strategy"` // registry id, see strategy.go
	Symbols   []string `yaml:"symbols"`
	MaxPasses int      `yaml:"max_passes"` // live: 0 = run until interrupted

	// Cadence
	IntervalSeconds int `yaml:"interval_seconds"`

	// Backtest
	BacktestMaxSteps     int     `yaml:"backtest_max_steps"` // 0 = until exhaustion
	HistoricalDataDir    string  `yaml:"historical_data_dir"`
	BacktestStartingCash float64 `yaml:"backtest_starting_cash"`

	// Sizing
	SizingMode       string  `yaml:"sizing_mode"` // "notional" | "units"
	OrderNotionalUSD float64 `yaml:"order_notional_usd"`
	QtyPrecision     int     `yaml:"qty_precision"`
	MinTradeQty      float64 `yaml:"min_trade_qty"`
	OrderType        string  `yaml:"order_type"`

	// Risk
	AllowShort              bool    `yaml:"allow_short"`
	MaxAbsPositionPerSymbol float64 `yaml:"max_abs_position_per_symbol"`

	// Broker (live)
	BrokerBaseURL    string `yaml:"broker_base_url"`
	BrokerDataURL    string `yaml:"broker_data_url"`
	BrokerAPIKey     string `yaml:"-"`
	BrokerSecretKey  string `yaml:"-"`
	BrokerTimeoutSec int    `yaml:"broker_timeout_sec"`
	OrdersPerMinute  int    `yaml:"orders_per_minute"`
	BreakerThreshold int    `yaml:"breaker_threshold"` // consecutive failures before open
	BreakerCooldownS int    `yaml:"breaker_cooldown_sec"`
	LiveFeedLookback int    `yaml:"live_feed_lookback"` // bars kept per symbol

	// Reconciliation
	PollIntervalMS int `yaml:"poll_interval_ms"`
	PollTimeoutSec int `yaml:"poll_timeout_sec"`

	// State & observability
	StateDBPath string `yaml:"state_db_path"`
	EventsDir   string `yaml:"events_dir"`
	LogLevel    string `yaml:"log_level"`
	MetricsPort int    `yaml:"metrics_port"`

	// Strategy knobs
	SMAShortWindow    int     `yaml:"sma_short_window"`
	SMALongWindow     int     `yaml:"sma_long_window"`
	TargetQty         float64 `yaml:"target_qty"`
	MomentumLookback  int     `yaml:"momentum_lookback"`
	MomentumThreshold float64 `yaml:"momentum_threshold"`
	ScalpFastWindow   int     `yaml:"scalp_fast_window"`
	ScalpSlowWindow   int     `yaml:"scalp_slow_window"`
}

func defaultConfig() Config {
	return Config{
		Mode:                 "backtest",
		Strategy:             "sma_crossover",
		Symbols:              []string{"AAPL"},
		MaxPasses:            0,
		IntervalSeconds:      60,
		BacktestMaxSteps:     0,
		HistoricalDataDir:    "data",
		BacktestStartingCash: 100000,

		SizingMode:       "notional",
		OrderNotionalUSD: 100,
		QtyPrecision:     4,
		MinTradeQty:      0.001,
		OrderType:        "market",

		AllowShort:              false,
		MaxAbsPositionPerSymbol: 10,

		BrokerBaseURL:    "https://paper-api.alpaca.markets",
		BrokerDataURL:    "https://data.alpaca.markets",
		BrokerTimeoutSec: 10,
		OrdersPerMinute:  60,
		BreakerThreshold: 5,
		BreakerCooldownS: 30,
		LiveFeedLookback: 250,

		PollIntervalMS: 500,
		PollTimeoutSec: 30,

		StateDBPath: "state.db",
		EventsDir:   "events",
		LogLevel:    "info",
		MetricsPort: 8090,

		SMAShortWindow:    10,
		SMALongWindow:     30,
		TargetQty:         1,
		MomentumLookback:  20,
		MomentumThreshold: 0.0,
		ScalpFastWindow:   5,
		ScalpSlowWindow:   20,
	}
}

// applyConfigFile overlays values from a YAML file onto cfg. A missing file
// is only an error when the path was explicitly requested.
func applyConfigFile(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return configErrorf("read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return configErrorf("parse config file %s: %v", path, err)
	}
	cfg.Symbols = normalizeSymbols(cfg.Symbols)
	return nil
}

// applyEnvOverrides overlays environment values onto cfg. Every knob has an
// env name so deployments can run file-less.
func applyEnvOverrides(cfg *Config) {
	cfg.Mode = getEnv("MODE", cfg.Mode)
	cfg.Strategy = getEnv("STRATEGY", cfg.Strategy)
	cfg.Symbols = getEnvSymbols("SYMBOLS", cfg.Symbols)
	cfg.MaxPasses = getEnvInt("MAX_PASSES", cfg.MaxPasses)
	cfg.IntervalSeconds = getEnvInt("INTERVAL_SECONDS", cfg.IntervalSeconds)

	cfg.BacktestMaxSteps = getEnvInt("BACKTEST_MAX_STEPS", cfg.BacktestMaxSteps)
	cfg.HistoricalDataDir = getEnv("HISTORICAL_DATA_DIR", cfg.HistoricalDataDir)
	cfg.BacktestStartingCash = getEnvFloat("BACKTEST_STARTING_CASH", cfg.BacktestStartingCash)

	cfg.SizingMode = getEnv("SIZING_MODE", cfg.SizingMode)
	cfg.OrderNotionalUSD = getEnvFloat("ORDER_NOTIONAL_USD", cfg.OrderNotionalUSD)
	cfg.QtyPrecision = getEnvInt("QTY_PRECISION", cfg.QtyPrecision)
	cfg.MinTradeQty = getEnvFloat("MIN_TRADE_QTY", cfg.MinTradeQty)
	cfg.OrderType = getEnv("ORDER_TYPE", cfg.OrderType)

	cfg.AllowShort = getEnvBool("ALLOW_SHORT", cfg.AllowShort)
	cfg.MaxAbsPositionPerSymbol = getEnvFloat("MAX_ABS_POSITION_PER_SYMBOL", cfg.MaxAbsPositionPerSymbol)

	cfg.BrokerBaseURL = getEnv("BROKER_BASE_URL", cfg.BrokerBaseURL)
	cfg.BrokerDataURL = getEnv("BROKER_DATA_URL", cfg.BrokerDataURL)
	cfg.BrokerAPIKey = getEnv("BROKER_API_KEY", cfg.BrokerAPIKey)
	cfg.BrokerSecretKey = getEnv("BROKER_SECRET_KEY", cfg.BrokerSecretKey)
	cfg.BrokerTimeoutSec = getEnvInt("BROKER_TIMEOUT_SEC", cfg.BrokerTimeoutSec)
	cfg.OrdersPerMinute = getEnvInt("ORDERS_PER_MINUTE", cfg.OrdersPerMinute)
	cfg.BreakerThreshold = getEnvInt("BREAKER_THRESHOLD", cfg.BreakerThreshold)
	cfg.BreakerCooldownS = getEnvInt("BREAKER_COOLDOWN_SEC", cfg.BreakerCooldownS)
	cfg.LiveFeedLookback = getEnvInt("LIVE_FEED_LOOKBACK", cfg.LiveFeedLookback)

	cfg.PollIntervalMS = getEnvInt("POLL_INTERVAL_MS", cfg.PollIntervalMS)
	cfg.PollTimeoutSec = getEnvInt("POLL_TIMEOUT_SEC", cfg.PollTimeoutSec)

	cfg.StateDBPath = getEnv("STATE_DB_PATH", cfg.StateDBPath)
	cfg.EventsDir = getEnv("EVENTS_DIR", cfg.EventsDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsPort = getEnvInt("METRICS_PORT", cfg.MetricsPort)

	cfg.SMAShortWindow = getEnvInt("SMA_SHORT_WINDOW", cfg.SMAShortWindow)
	cfg.SMALongWindow = getEnvInt("SMA_LONG_WINDOW", cfg.SMALongWindow)
	cfg.TargetQty = getEnvFloat("TARGET_QTY", cfg.TargetQty)
	cfg.MomentumLookback = getEnvInt("MOMENTUM_LOOKBACK", cfg.MomentumLookback)
	cfg.MomentumThreshold = getEnvFloat("MOMENTUM_THRESHOLD", cfg.MomentumThreshold)
	cfg.ScalpFastWindow = getEnvInt("SCALP_FAST_WINDOW", cfg.ScalpFastWindow)
	cfg.ScalpSlowWindow = getEnvInt("SCALP_SLOW_WINDOW", cfg.ScalpSlowWindow)
}

// loadConfig builds the layered Config (defaults ← file ← env). Flag
// overrides happen in main.go before validate().
func loadConfig(configPath string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	if configPath != "" {
		if err := applyConfigFile(&cfg, configPath, explicit); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Mode {
	case "live", "backtest":
	default:
		return configErrorf("mode must be live or backtest, got %q", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return configErrorf("at least one symbol is required")
	}
	if _, ok := strategyFactories[c.Strategy]; !ok {
		return configErrorf("unknown strategy %q (available: %s)",
			c.Strategy, strings.Join(availableStrategyIDs(), ", "))
	}
	switch c.SizingMode {
	case "notional":
		if c.OrderNotionalUSD <= 0 {
			return configErrorf("order_notional_usd must be > 0 in notional mode")
		}
	case "units":
	default:
		return configErrorf("sizing_mode must be notional or units, got %q", c.SizingMode)
	}
	if c.QtyPrecision < 0 || c.QtyPrecision > 10 {
		return configErrorf("qty_precision must be in [0,10], got %d", c.QtyPrecision)
	}
	if c.MinTradeQty < 0 {
		return configErrorf("min_trade_qty must be >= 0")
	}
	if c.MaxAbsPositionPerSymbol <= 0 {
		return configErrorf("max_abs_position_per_symbol must be > 0")
	}
	if c.IntervalSeconds <= 0 {
		return configErrorf("interval_seconds must be > 0")
	}
	if c.PollIntervalMS <= 0 || c.PollTimeoutSec <= 0 {
		return configErrorf("poll interval and timeout must be > 0")
	}
	if c.Mode == "live" {
		if c.BrokerAPIKey == "" || c.BrokerSecretKey == "" {
			return configErrorf("live mode requires BROKER_API_KEY and BROKER_SECRET_KEY")
		}
		if c.BrokerBaseURL == "" {
			return configErrorf("live mode requires broker_base_url")
		}
	}
	if c.Mode == "backtest" {
		if c.HistoricalDataDir == "" {
			return configErrorf("backtest mode requires historical_data_dir")
		}
		if c.BacktestStartingCash <= 0 {
			return configErrorf("backtest_starting_cash must be > 0")
		}
	}
	return nil
}

// describe returns a one-line summary safe to log (no secrets).
func (c Config) describe() string {
	return fmt.Sprintf("mode=%s strategy=%s symbols=%s sizing=%s interval=%ds",
		c.Mode, c.Strategy, strings.Join(c.Symbols, ","), c.SizingMode, c.IntervalSeconds)
}
