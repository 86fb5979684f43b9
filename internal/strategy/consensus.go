package strategy

import (
	"context"
	"fmt"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"
)

// Consensus combines a closed set of strategy variants into one evaluation.
// A direction wins when a strict majority of the voting strategies agree;
// the combined confidence is the mean confidence of the agreeing votes
// scaled by the share of the full set that voted for it.
type Consensus struct {
	strategies []ports.Strategy
	logger     ports.Logger
}

// NewConsensus creates a consensus aggregator over the given strategies.
func NewConsensus(strategies []ports.Strategy, logger ports.Logger) (*Consensus, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("consensus requires at least one strategy")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for consensus")
	}
	return &Consensus{strategies: strategies, logger: logger}, nil
}

// Name identifies the aggregator in logs.
func (c *Consensus) Name() string { return "consensus" }

// RequiredDataPoints returns the largest warmup requirement across the set.
func (c *Consensus) RequiredDataPoints() int {
	max := 0
	for _, s := range c.strategies {
		if s.RequiredDataPoints() > max {
			max = s.RequiredDataPoints()
		}
	}
	return max
}

// Evaluate runs every strategy over the closed-candle window and returns the
// majority signal, or nil when the set is silent or split.
func (c *Consensus) Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal {
	votes := make(map[domain.PositionSide][]*domain.Signal)
	for _, s := range c.strategies {
		sig := s.Evaluate(ctx, klines)
		if sig == nil {
			continue
		}
		votes[sig.Direction] = append(votes[sig.Direction], sig)
		c.logger.Debug(ctx, "Strategy vote", map[string]interface{}{
			"strategy":   s.Name(),
			"direction":  sig.Direction,
			"confidence": sig.Confidence,
		})
	}

	var winner domain.PositionSide
	var winning []*domain.Signal
	for dir, sigs := range votes {
		if len(sigs) > len(winning) {
			winner, winning = dir, sigs
		}
	}
	if len(winning) == 0 {
		return nil
	}
	// A split vote is no consensus.
	for dir, sigs := range votes {
		if dir != winner && len(sigs) == len(winning) {
			return nil
		}
	}

	var sum float64
	for _, sig := range winning {
		sum += sig.Confidence
	}
	mean := sum / float64(len(winning))
	share := float64(len(winning)) / float64(len(c.strategies))

	last := klines[len(klines)-1]
	return &domain.Signal{
		Symbol:      last.Symbol,
		Direction:   winner,
		Confidence:  mean * share,
		FirstSeenAt: last.CloseTime,
	}
}
