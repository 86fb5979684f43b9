package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"cryptoTradeEngine/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration. Instances are immutable once
// loaded; hot reload swaps the whole snapshot via Store.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbols            []string // Symbols the signal loop scans
	Timeframes         []string // Candle timeframes required per evaluation
	QuoteAsset         string   // Asset balances are denominated in (e.g., USDT)
	AutoTradingEnabled bool     // Master switch for new entries
	Quantity           float64  // Order quantity per entry
	Leverage           int      // Leverage requested at startup
	LeverageCap        int      // Per-symbol leverage ceiling enforced by the risk gate
	StopLossPct        float64  // Stop distance as a fraction of entry (e.g., 0.01)
	TakeProfitPct      float64  // Target distance as a fraction of entry

	// Signal filtering
	MinSignalConfidence float64       // Stage-2 filter threshold
	LongOnly            bool          // Reject SHORT signals
	ShortOnly           bool          // Reject LONG signals
	ConfirmationDelay   time.Duration // Minimum gap before reconfirmation (anti-whipsaw)
	WarmupCandles       int           // Closed candles required per timeframe

	// Strategy tuning
	ShortMAPeriod    int     // Trend short moving-average period
	LongMAPeriod     int     // Trend long moving-average period
	EMAPeriod        int     // Trend exponential moving-average period
	RSIPeriod        int     // Momentum RSI period
	RSIOverbought    float64 // Momentum overbought threshold
	RSIOversold      float64 // Momentum oversold threshold
	ATRPeriod        int     // Breakout ATR period
	BreakoutLookback int     // Breakout range window in closed candles
	ChopWindow       int     // Regime-detector lookback in closed candles
	ChopThreshold    float64 // Efficiency ratios below this flag a choppy regime

	// Risk limits
	CorrelationLimitPct   float64       // Max aggregate directional exposure, percent
	MaxPortfolioRiskPct   float64       // Max loss-if-stopped vs total equity, percent
	DailyLossLimitPct     float64       // Max daily realized loss vs starting equity, percent
	CooldownLossThreshold int           // Consecutive losses that trigger a cooldown
	CooldownDuration      time.Duration // How long entries stay blocked

	// Loop intervals
	SignalInterval    time.Duration // Candle scan cadence
	MonitorInterval   time.Duration // SL/TP scan cadence
	SnapshotInterval  time.Duration // Equity snapshot persistence cadence
	ReconcileInterval time.Duration // Exchange reconciliation cadence

	// Execution retry
	RetryBaseDelay   time.Duration // Backoff floor for transient exchange errors
	RetryMaxDelay    time.Duration // Backoff ceiling
	RetryMaxAttempts int           // Bounded attempt count before surfacing terminal

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "std", "json" or "text" (logrus)

	// Metrics
	MetricsAddr string // Listen address for /metrics, empty disables

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.Symbols = splitList(getEnv("SYMBOLS", "BTCUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must name at least one symbol")
	}
	cfg.Timeframes = splitList(getEnv("TIMEFRAMES", "5m,1h"))
	if len(cfg.Timeframes) == 0 {
		errs = append(errs, "TIMEFRAMES must name at least one timeframe")
	}
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	cfg.AutoTradingEnabled = getEnvAsBool("AUTO_TRADING_ENABLED", false)

	cfg.Quantity, err = getEnvAsFloatRequired("QUANTITY", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	} else if cfg.Quantity <= 0 {
		errs = append(errs, "QUANTITY must be positive")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.LeverageCap = getEnvAsInt("LEVERAGE_CAP", 10)
	if cfg.LeverageCap <= 0 {
		errs = append(errs, "LEVERAGE_CAP must be positive")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.TakeProfitPct <= 0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be positive")
	}

	// Signal filtering
	cfg.MinSignalConfidence = getEnvAsFloat("MIN_SIGNAL_CONFIDENCE", 0.6)
	if cfg.MinSignalConfidence < 0 || cfg.MinSignalConfidence > 1 {
		errs = append(errs, "MIN_SIGNAL_CONFIDENCE must be within [0, 1]")
	}
	cfg.LongOnly = getEnvAsBool("LONG_ONLY", false)
	cfg.ShortOnly = getEnvAsBool("SHORT_ONLY", false)
	if cfg.LongOnly && cfg.ShortOnly {
		// Mutually exclusive; rejected here so it can never reach runtime.
		errs = append(errs, "LONG_ONLY and SHORT_ONLY cannot both be enabled")
	}
	cfg.ConfirmationDelay = getEnvAsDuration("CONFIRMATION_DELAY", 60*time.Second)
	if cfg.ConfirmationDelay <= 0 {
		errs = append(errs, "CONFIRMATION_DELAY must be positive")
	}
	cfg.WarmupCandles = getEnvAsInt("WARMUP_CANDLES", 50)
	if cfg.WarmupCandles < 50 {
		errs = append(errs, "WARMUP_CANDLES must be at least 50")
	}

	// Strategy tuning
	cfg.ShortMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", 20)
	cfg.LongMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", 50)
	cfg.EMAPeriod = getEnvAsInt("STRATEGY_EMA_PERIOD", 20)
	if cfg.ShortMAPeriod <= 0 || cfg.LongMAPeriod <= 0 || cfg.EMAPeriod <= 0 {
		errs = append(errs, "strategy MA periods must be positive")
	} else if cfg.ShortMAPeriod >= cfg.LongMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	cfg.RSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	cfg.RSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.RSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)
	if cfg.RSIPeriod <= 0 {
		errs = append(errs, "STRATEGY_RSI_PERIOD must be positive")
	}
	if cfg.RSIOversold >= cfg.RSIOverbought {
		errs = append(errs, "STRATEGY_RSI_OVERSOLD must be below STRATEGY_RSI_OVERBOUGHT")
	}
	cfg.ATRPeriod = getEnvAsInt("STRATEGY_ATR_PERIOD", 14)
	cfg.BreakoutLookback = getEnvAsInt("STRATEGY_BREAKOUT_LOOKBACK", 20)
	if cfg.ATRPeriod <= 0 {
		errs = append(errs, "STRATEGY_ATR_PERIOD must be positive")
	}
	if cfg.BreakoutLookback < 2 {
		errs = append(errs, "STRATEGY_BREAKOUT_LOOKBACK must be at least 2")
	}
	cfg.ChopWindow = getEnvAsInt("CHOP_WINDOW", 20)
	cfg.ChopThreshold = getEnvAsFloat("CHOP_THRESHOLD", 0.3)
	if cfg.ChopWindow < 2 {
		errs = append(errs, "CHOP_WINDOW must be at least 2")
	}
	if cfg.ChopThreshold <= 0 || cfg.ChopThreshold >= 1 {
		errs = append(errs, "CHOP_THRESHOLD must be within (0, 1)")
	}

	// Risk limits
	cfg.CorrelationLimitPct = getEnvAsFloat("CORRELATION_LIMIT_PCT", 70.0)
	if cfg.CorrelationLimitPct <= 0 || cfg.CorrelationLimitPct > 100 {
		errs = append(errs, "CORRELATION_LIMIT_PCT must be within (0, 100]")
	}
	cfg.MaxPortfolioRiskPct = getEnvAsFloat("MAX_PORTFOLIO_RISK_PCT", 2.0)
	if cfg.MaxPortfolioRiskPct <= 0 {
		errs = append(errs, "MAX_PORTFOLIO_RISK_PCT must be positive")
	}
	cfg.DailyLossLimitPct = getEnvAsFloat("DAILY_LOSS_LIMIT_PCT", 5.0)
	if cfg.DailyLossLimitPct <= 0 {
		errs = append(errs, "DAILY_LOSS_LIMIT_PCT must be positive")
	}
	cfg.CooldownLossThreshold = getEnvAsInt("COOLDOWN_LOSS_THRESHOLD", 3)
	if cfg.CooldownLossThreshold <= 0 {
		errs = append(errs, "COOLDOWN_LOSS_THRESHOLD must be positive")
	}
	cfg.CooldownDuration = getEnvAsDuration("COOLDOWN_DURATION", 4*time.Hour)
	if cfg.CooldownDuration <= 0 {
		errs = append(errs, "COOLDOWN_DURATION must be positive")
	}

	// Loop intervals
	cfg.SignalInterval = getEnvAsDuration("SIGNAL_INTERVAL", 30*time.Second)
	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL", 5*time.Second)
	cfg.SnapshotInterval = getEnvAsDuration("SNAPSHOT_INTERVAL", 5*time.Minute)
	cfg.ReconcileInterval = getEnvAsDuration("RECONCILE_INTERVAL", time.Minute)
	if cfg.SignalInterval <= 0 || cfg.MonitorInterval <= 0 || cfg.SnapshotInterval <= 0 || cfg.ReconcileInterval <= 0 {
		errs = append(errs, "loop intervals must be positive")
	}

	// Execution retry
	cfg.RetryBaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", time.Second)
	cfg.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", 60*time.Second)
	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 5)
	if cfg.RetryBaseDelay <= 0 || cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		errs = append(errs, "RETRY_BASE_DELAY must be positive and not exceed RETRY_MAX_DELAY")
	}
	if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_engine.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "std"))
	switch cfg.LogFormat {
	case "std", "json", "text":
	default:
		errs = append(errs, "LOG_FORMAT must be one of std, json, text")
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Connection Settings
	cfg.ReconnectDelay = getEnvAsDuration("RECONNECT_DELAY", time.Second)
	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, "RECONNECT_DELAY must be positive")
	}
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// Store serves immutable config snapshots and supports hot reload. Readers
// always see a fully validated snapshot; a failed reload keeps the old one.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an already-loaded config.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current snapshot.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-reads the environment and swaps the snapshot if validation
// passes. Returns the error otherwise, leaving the previous snapshot live.
func (s *Store) Reload() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// --- Env Var Helpers ---

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
