package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet, "must default to testnet")
	assert.False(t, cfg.AutoTradingEnabled, "auto trading must default off")
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, []string{"5m", "1h"}, cfg.Timeframes)
	assert.Equal(t, "USDT", cfg.QuoteAsset)
	assert.Equal(t, 0.01, cfg.Quantity)
	assert.Equal(t, 3, cfg.Leverage)
	assert.Equal(t, 10, cfg.LeverageCap)
	assert.Equal(t, 0.01, cfg.StopLossPct)
	assert.Equal(t, 0.02, cfg.TakeProfitPct)
	assert.Equal(t, 0.6, cfg.MinSignalConfidence)
	assert.Equal(t, 60*time.Second, cfg.ConfirmationDelay)
	assert.Equal(t, 50, cfg.WarmupCandles)
	assert.Equal(t, 70.0, cfg.CorrelationLimitPct)
	assert.Equal(t, 2.0, cfg.MaxPortfolioRiskPct)
	assert.Equal(t, 5.0, cfg.DailyLossLimitPct)
	assert.Equal(t, 3, cfg.CooldownLossThreshold)
	assert.Equal(t, 4*time.Hour, cfg.CooldownDuration)
	assert.Equal(t, 30*time.Second, cfg.SignalInterval)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, "std", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
}

func TestLoadConfigCollectsAllErrors(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUANTITY", "-1")
	t.Setenv("LEVERAGE", "0")
	t.Setenv("STOP_LOSS_PCT", "1.5")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUANTITY must be positive")
	assert.Contains(t, err.Error(), "LEVERAGE must be positive")
	assert.Contains(t, err.Error(), "STOP_LOSS_PCT must be between")
}

func TestLoadConfigDirectionModesExclusive(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LONG_ONLY", "true")
	t.Setenv("SHORT_ONLY", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LONG_ONLY and SHORT_ONLY cannot both be enabled")
}

func TestLoadConfigWarmupFloor(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WARMUP_CANDLES", "30")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WARMUP_CANDLES must be at least 50")
}

func TestLoadConfigStrategyPeriodOrdering(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRATEGY_SHORT_MA_PERIOD", "50")
	t.Setenv("STRATEGY_LONG_MA_PERIOD", "20")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
}

func TestLoadConfigParsesLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYMBOLS", " BTCUSDT , ETHUSDT ,,SOLUSDT")
	t.Setenv("TIMEFRAMES", "1m,15m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, []string{"1m", "15m"}, cfg.Timeframes)
}

func TestLoadConfigRejectsUnknownLogFormat(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_FORMAT", "xml")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestStoreReloadKeepsSnapshotOnFailure(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	store := NewStore(cfg)

	t.Setenv("BINANCE_API_KEY", "")
	err = store.Reload()
	require.Error(t, err)
	assert.Same(t, cfg, store.Get(), "failed reload must keep the previous snapshot")

	t.Setenv("BINANCE_API_KEY", "rotated")
	require.NoError(t, store.Reload())
	assert.Equal(t, "rotated", store.Get().APIKey)
	assert.True(t, strings.HasPrefix(store.Get().SecretKey, "test-"))
}
