package strategy

import (
	"context"
	"fmt"
	"math"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/strategy/indicators"
)

// BreakoutConfig holds parameters for the range-breakout strategy.
type BreakoutConfig struct {
	Lookback  int // Range window in closed candles (e.g., 20)
	ATRPeriod int // ATR period used to size the breakout threshold (e.g., 14)
}

// Breakout signals when price escapes its recent range by more than half an
// ATR: LONG above the prior high, SHORT below the prior low. The ATR scaling
// keeps the threshold proportional to current volatility, so quiet markets
// need a smaller absolute move than violent ones.
type Breakout struct {
	cfg    BreakoutConfig
	atr    *indicators.ATR
	logger ports.Logger
}

// NewBreakout creates a range-breakout strategy.
func NewBreakout(cfg BreakoutConfig, logger ports.Logger) (*Breakout, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for breakout strategy")
	}
	if cfg.Lookback < 2 {
		return nil, fmt.Errorf("breakout lookback must be at least 2")
	}
	if cfg.ATRPeriod <= 0 {
		return nil, fmt.Errorf("ATR period must be positive")
	}
	return &Breakout{
		cfg: cfg,
		atr: indicators.NewATR(indicators.ATRConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod},
		}),
		logger: logger,
	}, nil
}

// Name identifies the strategy.
func (b *Breakout) Name() string { return "breakout" }

// RequiredDataPoints returns the warmup requirement. ATR needs one candle
// beyond its period; the range needs its lookback plus the breakout candle.
func (b *Breakout) RequiredDataPoints() int {
	max := b.cfg.Lookback + 1
	if b.cfg.ATRPeriod+1 > max {
		max = b.cfg.ATRPeriod + 1
	}
	return max
}

// Evaluate returns a directional signal or nil while price stays inside its
// recent range.
func (b *Breakout) Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal {
	if len(klines) < b.RequiredDataPoints() {
		return nil
	}

	atr, err := b.atr.Calculate(ctx, klines)
	if err != nil {
		b.logger.Error(ctx, err, "Failed to calculate ATR")
		return nil
	}
	if atr <= 0 {
		return nil
	}

	// Range over the lookback window, excluding the breakout candle itself.
	window := klines[len(klines)-1-b.cfg.Lookback : len(klines)-1]
	high, low := window[0].High, window[0].Low
	for _, k := range window[1:] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}

	last := klines[len(klines)-1]
	threshold := 0.5 * atr

	var direction domain.PositionSide
	var overshoot float64
	switch {
	case last.Close > high+threshold:
		direction = domain.Long
		overshoot = last.Close - high
	case last.Close < low-threshold:
		direction = domain.Short
		overshoot = low - last.Close
	default:
		return nil
	}

	// A full-ATR escape counts as complete conviction.
	confidence := math.Min(overshoot/atr, 1.0)

	return &domain.Signal{
		Symbol:      last.Symbol,
		Direction:   direction,
		Confidence:  confidence,
		FirstSeenAt: last.CloseTime,
	}
}
