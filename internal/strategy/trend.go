package strategy

import (
	"context"
	"fmt"
	"math"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/strategy/indicators"
)

// TrendConfig holds parameters for the trend-following strategy.
type TrendConfig struct {
	ShortMAPeriod int // e.g., 20
	LongMAPeriod  int // e.g., 50
	EMAPeriod     int // e.g., 20
}

// Trend signals in the direction of an established moving-average trend:
// LONG when the short MA leads the long MA and price holds above the EMA,
// SHORT on the mirror image. Confidence grows with the MA separation.
type Trend struct {
	cfg     TrendConfig
	shortMA *indicators.MovingAverage
	longMA  *indicators.MovingAverage
	ema     *indicators.MovingAverage
	logger  ports.Logger
}

// NewTrend creates a trend-following strategy.
func NewTrend(cfg TrendConfig, logger ports.Logger) (*Trend, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for trend strategy")
	}
	if cfg.ShortMAPeriod <= 0 || cfg.LongMAPeriod <= 0 || cfg.EMAPeriod <= 0 {
		return nil, fmt.Errorf("trend strategy periods must be positive")
	}
	if cfg.ShortMAPeriod >= cfg.LongMAPeriod {
		return nil, fmt.Errorf("short MA period must be less than long MA period")
	}
	return &Trend{
		cfg: cfg,
		shortMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ShortMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		longMA: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.LongMAPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		ema: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMAPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		logger: logger,
	}, nil
}

// Name identifies the strategy.
func (t *Trend) Name() string { return "trend" }

// RequiredDataPoints returns the warmup requirement.
func (t *Trend) RequiredDataPoints() int {
	max := t.cfg.LongMAPeriod
	if t.cfg.EMAPeriod > max {
		max = t.cfg.EMAPeriod
	}
	return max + 1
}

// Evaluate returns a directional signal or nil when no trend is present.
func (t *Trend) Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal {
	if len(klines) < t.RequiredDataPoints() {
		return nil
	}

	short, err := t.shortMA.Calculate(ctx, klines)
	if err != nil {
		t.logger.Error(ctx, err, "Failed to calculate short MA")
		return nil
	}
	long, err := t.longMA.Calculate(ctx, klines)
	if err != nil {
		t.logger.Error(ctx, err, "Failed to calculate long MA")
		return nil
	}
	ema, err := t.ema.Calculate(ctx, klines)
	if err != nil {
		t.logger.Error(ctx, err, "Failed to calculate EMA")
		return nil
	}

	last := klines[len(klines)-1]
	price := last.Close

	// Separation of the MAs, normalized to price, drives confidence. A 1%
	// spread or wider counts as full conviction.
	separation := math.Abs(short-long) / long
	confidence := math.Min(separation/0.01, 1.0)

	var direction domain.PositionSide
	switch {
	case short > long && price > ema:
		direction = domain.Long
	case short < long && price < ema:
		direction = domain.Short
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
