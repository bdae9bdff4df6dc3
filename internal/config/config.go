// Package config loads and validates the process-wide configuration.
// Loading/validation itself is a thin collaborator concern; the bulk
// of engineering effort lives in the components that consume the
// resulting immutable Config value.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"market_maker/internal/core"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// GridParams tunes the grid-resize formula and its smoothing window.
type GridParams struct {
	GridMin          float64 `yaml:"grid_min"`
	GridMax          float64 `yaml:"grid_max"`
	SmoothingSamples int     `yaml:"smoothing_samples"`
}

// GridContinuousParams tunes the continuous grid-resize formula:
// new_grid = base_grid + k*(smoothed_vol - vol_center).
type GridContinuousParams struct {
	BaseGrid  float64 `yaml:"base_grid"`
	VolCenter float64 `yaml:"vol_center"`
	K         float64 `yaml:"k"`
}

// DynamicIntervalParams holds breakpoints for the volatility-dependent
// check-interval lookup. It is loaded from the environment but not read
// anywhere else: volatility.CheckInterval uses its own fixed table.
type DynamicIntervalParams struct {
	// Thresholds is the ascending volatility breakpoints, e.g.
	// [0.10, 0.20, 0.30].
	Thresholds []float64 `yaml:"thresholds"`
	// IntervalsSeconds has len(Thresholds)+1 entries: the interval for
	// each bucket below the first threshold, between thresholds, and
	// at/above the last threshold.
	IntervalsSeconds []int `yaml:"intervals_seconds"`
	FloorSeconds     int   `yaml:"floor_seconds"`
}

// InitialSymbolParams seeds a symbol's grid state on first run
// (INITIAL_PARAMS_JSON).
type InitialSymbolParams struct {
	InitialBasePrice decimal.Decimal `json:"initial_base_price"`
	InitialGrid      float64         `json:"initial_grid"`
}

// Config is the complete, validated, immutable configuration. Every
// constructor takes this value explicitly; no component other than
// the bootstrapper reads the environment directly.
type Config struct {
	Exchange    string `yaml:"exchange"`
	TestnetMode bool   `yaml:"testnet_mode"`

	APIKey     Secret `yaml:"api_key"`
	APISecret  Secret `yaml:"api_secret"`
	Passphrase Secret `yaml:"passphrase"`

	HTTPProxy string `yaml:"http_proxy"`

	// BaseURL overrides the venue's default REST host when non-empty.
	// Left unset in normal operation; a test constructs a Config with
	// this pointed at an httptest.Server.
	BaseURL string `yaml:"-"`

	Symbols []core.SymbolId `yaml:"symbols"`

	InitialParams map[string]InitialSymbolParams `yaml:"initial_params"`
	InitialGrid   float64                         `yaml:"initial_grid"`

	MinTradeAmount decimal.Decimal `yaml:"min_trade_amount"`

	MaxPositionRatio float64                          `yaml:"max_position_ratio"`
	MinPositionRatio float64                          `yaml:"min_position_ratio"`
	PositionLimits   map[string]core.PositionLimits   `yaml:"position_limits"`

	EnableSavingsFunction bool           `yaml:"enable_savings_function"`
	SavingsPrecisions     map[string]int `yaml:"savings_precisions"`

	GridParams           GridParams           `yaml:"grid_params"`
	GridContinuousParams GridContinuousParams `yaml:"grid_continuous_params"`
	DynamicInterval      DynamicIntervalParams `yaml:"dynamic_interval_params"`

	VolatilityWindow       int     `yaml:"volatility_window"`
	VolatilityEWMALambda   float64 `yaml:"volatility_ewma_lambda"`
	VolatilityHybridWeight float64 `yaml:"volatility_hybrid_weight"`
	EnableVolumeWeighting  bool    `yaml:"enable_volume_weighting"`

	SpotFundsTargetRatio float64 `yaml:"spot_funds_target_ratio"`

	// MinTradeIntervalSeconds is a floor on how often a symbol may
	// fire its main trade, independent of how often bands are touched.
	MinTradeIntervalSeconds int `yaml:"min_trade_interval_seconds"`

	StateDir    string `yaml:"state_dir"`
	MetricsPort int    `yaml:"metrics_port"`
	ObservePort int    `yaml:"observe_port"`

	LogLevel  string `yaml:"log_level"`
	DebugMode bool   `yaml:"debug_mode"`
}

// defaults returns the baseline configuration, applied before any
// environment override.
func defaults() Config {
	return Config{
		Exchange:              "binance",
		InitialGrid:           2.0,
		MinTradeAmount:        decimal.NewFromFloat(1e-4),
		MaxPositionRatio:      0.9,
		MinPositionRatio:      0.1,
		EnableSavingsFunction: true,
		SavingsPrecisions:     map[string]int{"default": 8},
		GridParams: GridParams{
			GridMin:          1.0,
			GridMax:          4.0,
			SmoothingSamples: 3,
		},
		GridContinuousParams: GridContinuousParams{
			BaseGrid:  2.5,
			VolCenter: 0.25,
			K:         10.0,
		},
		DynamicInterval: DynamicIntervalParams{
			Thresholds:       []float64{0.10, 0.20, 0.30},
			IntervalsSeconds: []int{3600, 1800, 900, 450},
			FloorSeconds:     300,
		},
		VolatilityWindow:        42,
		VolatilityEWMALambda:    0.94,
		VolatilityHybridWeight:  0.7,
		SpotFundsTargetRatio:    0.16,
		MinTradeIntervalSeconds: 30,
		StateDir:                ".",
		MetricsPort:             9090,
		ObservePort:             8090,
		LogLevel:                "INFO",
	}
}

// LoadFromEnv reads the process's environment-variable surface and
// returns a validated Config. This is the process's one
// configuration entry point.
func LoadFromEnv() (*Config, error) {
	// .env is a local-development convenience; a real deployment sets
	// the process environment directly, so a missing file is not an error.
	_ = godotenv.Load()

	cfg := defaults()

	if v := os.Getenv("EXCHANGE"); v != "" {
		cfg.Exchange = strings.ToLower(v)
	}
	cfg.TestnetMode = envBool("TESTNET_MODE", false)

	prefix := strings.ToUpper(cfg.Exchange)
	cfg.APIKey = Secret(os.Getenv(prefix + "_API_KEY"))
	cfg.APISecret = Secret(os.Getenv(prefix + "_API_SECRET"))
	cfg.Passphrase = Secret(os.Getenv(prefix + "_PASSPHRASE"))

	cfg.HTTPProxy = os.Getenv("HTTP_PROXY")

	symbolsRaw := os.Getenv("SYMBOLS")
	if symbolsRaw == "" {
		return nil, fmt.Errorf("SYMBOLS is required (comma-separated BASE/QUOTE list)")
	}
	for _, s := range strings.Split(symbolsRaw, ",") {
		sym, ok := core.ParseSymbolId(s)
		if !ok {
			return nil, fmt.Errorf("invalid symbol %q in SYMBOLS", s)
		}
		cfg.Symbols = append(cfg.Symbols, sym)
	}
	if err := requireSharedQuote(cfg.Symbols); err != nil {
		return nil, err
	}

	if v := os.Getenv("INITIAL_PARAMS_JSON"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.InitialParams); err != nil {
			return nil, fmt.Errorf("INITIAL_PARAMS_JSON: %w", err)
		}
	}
	if v := os.Getenv("INITIAL_GRID"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("INITIAL_GRID: %w", err)
		}
		cfg.InitialGrid = f
	}
	if v := os.Getenv("MIN_TRADE_AMOUNT"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("MIN_TRADE_AMOUNT: %w", err)
		}
		cfg.MinTradeAmount = d
	}

	if v := os.Getenv("MAX_POSITION_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MAX_POSITION_RATIO: %w", err)
		}
		cfg.MaxPositionRatio = f
	}
	if v := os.Getenv("MIN_POSITION_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MIN_POSITION_RATIO: %w", err)
		}
		cfg.MinPositionRatio = f
	}
	if v := os.Getenv("POSITION_LIMITS_JSON"); v != "" {
		raw := map[string]struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		}{}
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return nil, fmt.Errorf("POSITION_LIMITS_JSON: %w", err)
		}
		cfg.PositionLimits = make(map[string]core.PositionLimits, len(raw))
		for sym, lim := range raw {
			cfg.PositionLimits[sym] = core.PositionLimits{MinRatio: lim.Min, MaxRatio: lim.Max}
		}
	}

	cfg.EnableSavingsFunction = envBool("ENABLE_SAVINGS_FUNCTION", cfg.EnableSavingsFunction)
	if v := os.Getenv("SAVINGS_PRECISIONS"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.SavingsPrecisions); err != nil {
			return nil, fmt.Errorf("SAVINGS_PRECISIONS: %w", err)
		}
	}

	if v := os.Getenv("GRID_PARAMS_JSON"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.GridParams); err != nil {
			return nil, fmt.Errorf("GRID_PARAMS_JSON: %w", err)
		}
	}
	if v := os.Getenv("GRID_CONTINUOUS_PARAMS_JSON"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.GridContinuousParams); err != nil {
			return nil, fmt.Errorf("GRID_CONTINUOUS_PARAMS_JSON: %w", err)
		}
	}
	if v := os.Getenv("DYNAMIC_INTERVAL_PARAMS_JSON"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.DynamicInterval); err != nil {
			return nil, fmt.Errorf("DYNAMIC_INTERVAL_PARAMS_JSON: %w", err)
		}
	}

	if v := os.Getenv("VOLATILITY_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("VOLATILITY_WINDOW: %w", err)
		}
		cfg.VolatilityWindow = n
	}
	if v := os.Getenv("VOLATILITY_EWMA_LAMBDA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("VOLATILITY_EWMA_LAMBDA: %w", err)
		}
		cfg.VolatilityEWMALambda = f
	}
	if v := os.Getenv("VOLATILITY_HYBRID_WEIGHT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("VOLATILITY_HYBRID_WEIGHT: %w", err)
		}
		cfg.VolatilityHybridWeight = f
	}
	cfg.EnableVolumeWeighting = envBool("ENABLE_VOLUME_WEIGHTING", cfg.EnableVolumeWeighting)

	if v := os.Getenv("SPOT_FUNDS_TARGET_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("SPOT_FUNDS_TARGET_RATIO: %w", err)
		}
		cfg.SpotFundsTargetRatio = f
	}

	if v := os.Getenv("STATE_DIR"); v != "" {
		cfg.StateDir = v
	}

	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.DebugMode = envBool("DEBUG_MODE", cfg.DebugMode)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func requireSharedQuote(symbols []core.SymbolId) error {
	if len(symbols) == 0 {
		return fmt.Errorf("SYMBOLS must name at least one pair")
	}
	quote := symbols[0].Quote
	for _, s := range symbols[1:] {
		if s.Quote != quote {
			return fmt.Errorf("all SYMBOLS entries must share the same quote asset, got %q and %q", quote, s.Quote)
		}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.APIKey == "" || c.APISecret == "" {
		errs = append(errs, "api credentials are required")
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	if c.GridParams.GridMin <= 0 || c.GridParams.GridMax <= c.GridParams.GridMin {
		errs = append(errs, "grid_params.grid_min must be positive and less than grid_max")
	}
	if c.GridParams.SmoothingSamples <= 0 {
		errs = append(errs, "grid_params.smoothing_samples must be positive")
	}
	if c.SpotFundsTargetRatio <= 0 || c.SpotFundsTargetRatio >= 1 {
		errs = append(errs, "spot_funds_target_ratio must be in (0, 1)")
	}
	if c.MinPositionRatio < 0 || c.MaxPositionRatio > 1 || c.MinPositionRatio >= c.MaxPositionRatio {
		errs = append(errs, "min_position_ratio must be < max_position_ratio, both within [0, 1]")
	}
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, fmt.Sprintf("log_level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// PositionLimitsFor resolves the effective {min, max} ratio for a
// symbol: per-symbol override if configured, else the global bounds.
func (c *Config) PositionLimitsFor(symbol core.SymbolId) core.PositionLimits {
	if lim, ok := c.PositionLimits[symbol.String()]; ok {
		return lim
	}
	return core.PositionLimits{MinRatio: c.MinPositionRatio, MaxRatio: c.MaxPositionRatio}
}

// SavingsPrecisionFor resolves the transfer-amount rounding precision
// for an asset: an explicit per-asset entry wins; otherwise a quote
// asset gets 2, and any other asset (the base asset included) gets the
// "default" entry, or 8 when there is none. There is no separate
// default for base assets.
func (c *Config) SavingsPrecisionFor(asset string, isQuote bool) int32 {
	if p, ok := c.SavingsPrecisions[asset]; ok {
		return int32(p)
	}
	if isQuote {
		return 2
	}
	if p, ok := c.SavingsPrecisions["default"]; ok {
		return int32(p)
	}
	return 8
}

// String returns a YAML dump of the configuration with every Secret
// field redacted. Used for the one startup log line.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
