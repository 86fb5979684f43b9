package strategy

import (
	"context"
	"fmt"
	"math"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/strategy/indicators"
)

// MomentumConfig holds parameters for the RSI momentum strategy.
type MomentumConfig struct {
	RSIPeriod  int     // e.g., 14
	Overbought float64 // e.g., 70
	Oversold   float64 // e.g., 30
}

// Momentum signals mean reversion off RSI extremes: LONG out of oversold,
// SHORT out of overbought. Confidence grows the deeper the extreme.
type Momentum struct {
	cfg    MomentumConfig
	rsi    *indicators.RSI
	logger ports.Logger
}

// NewMomentum creates an RSI momentum strategy.
func NewMomentum(cfg MomentumConfig, logger ports.Logger) (*Momentum, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for momentum strategy")
	}
	if cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if cfg.Overbought <= cfg.Oversold || cfg.Overbought > 100 || cfg.Oversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds (overbought must be > oversold, within 0-100)")
	}
	return &Momentum{
		cfg: cfg,
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      cfg.Overbought,
			Oversold:        cfg.Oversold,
		}),
		logger: logger,
	}, nil
}

// Name identifies the strategy.
func (m *Momentum) Name() string { return "momentum" }

// RequiredDataPoints returns the warmup requirement. RSI looks one step
// further back than its period.
func (m *Momentum) RequiredDataPoints() int {
	return m.cfg.RSIPeriod + 1
}

// Evaluate returns a directional signal or nil when RSI is mid-range.
func (m *Momentum) Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal {
	if len(klines) < m.RequiredDataPoints() {
		return nil
	}

	value, err := m.rsi.Calculate(ctx, klines)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to calculate RSI")
		return nil
	}

	last := klines[len(klines)-1]
	var direction domain.PositionSide
	var confidence float64
	switch {
	case m.rsi.IsOversold(value):
		direction = domain.Long
		confidence = math.Min((m.cfg.Oversold-value)/m.cfg.Oversold+0.5, 1.0)
	case m.rsi.IsOverbought(value):
		direction = domain.Short
		confidence = math.Min((value-m.cfg.Overbought)/(100-m.cfg.Overbought)+0.5, 1.0)
	default:
		return nil
	}

	return &domain.Signal{
		Symbol:      last.Symbol,
		Direction:   direction,
		Confidence:  confidence,
		FirstSeenAt: last.CloseTime,
	}
}
