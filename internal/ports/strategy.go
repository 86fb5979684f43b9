package ports

import (
	"context"

	"cryptoTradeEngine/internal/domain"
)

// Strategy is one voice in the consensus. Implementations inspect closed
// candles and either return a directional signal with a confidence score or
// nil when they see nothing actionable.
type Strategy interface {
	// Name identifies the strategy in logs and rejection reasons.
	Name() string

	// RequiredDataPoints returns the minimum number of closed candles the
	// strategy needs before its output is meaningful.
	RequiredDataPoints() int

	// Evaluate inspects the candle window (oldest to newest, closed candles
	// only) and returns a signal or nil.
	Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal
}
