package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/execution"
	"cryptoTradeEngine/internal/metrics"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/prices"
	"cryptoTradeEngine/internal/risk"
)

// Filter stage names, logged with every rejection.
const (
	stageNeutral      = "neutral"
	stageConfidence   = "confidence_below_minimum"
	stageDirection    = "direction_mode"
	stageChoppy       = "choppy_regime"
	stageConfirmation = "awaiting_confirmation"
)

// Loop is the periodic signal task. Each pass it looks for newly closed
// candles per symbol and timeframe, runs strategy consensus, applies the
// five-stage filter and forwards confirmed signals to the risk gate and,
// on acceptance, the execution coordinator.
type Loop struct {
	cfgStore  *config.Store
	feed      ports.MarketDataFeed
	consensus ports.Strategy
	chop      *ChopDetector
	gate      *risk.Gate
	coord     *execution.Coordinator
	cache     *prices.Cache
	logger    ports.Logger

	mu         sync.Mutex
	lastClosed map[string]map[string]time.Time // symbol -> timeframe -> last seen closed-candle time
	pending    map[string]*domain.Signal       // symbol -> unconfirmed signal
}

// NewLoop creates a signal loop.
func NewLoop(
	cfgStore *config.Store,
	feed ports.MarketDataFeed,
	consensus ports.Strategy,
	chop *ChopDetector,
	gate *risk.Gate,
	coord *execution.Coordinator,
	cache *prices.Cache,
	logger ports.Logger,
) (*Loop, error) {
	if cfgStore == nil || feed == nil || consensus == nil || chop == nil || gate == nil || coord == nil || cache == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for signal loop")
	}
	return &Loop{
		cfgStore:   cfgStore,
		feed:       feed,
		consensus:  consensus,
		chop:       chop,
		gate:       gate,
		coord:      coord,
		cache:      cache,
		logger:     logger,
		lastClosed: make(map[string]map[string]time.Time),
		pending:    make(map[string]*domain.Signal),
	}, nil
}

// Run scans on the configured interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	interval := l.cfgStore.Get().SignalInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info(ctx, "Signal loop started", map[string]interface{}{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			l.logger.Info(ctx, "Signal loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs one scan over the configured symbol set.
func (l *Loop) Tick(ctx context.Context) {
	cfg := l.cfgStore.Get()
	for _, symbol := range cfg.Symbols {
		l.evaluateSymbol(ctx, cfg, symbol)
	}
}

func (l *Loop) evaluateSymbol(ctx context.Context, cfg *config.Config, symbol string) {
	// Warmup and closed-candle advance are checked per timeframe; a symbol
	// is evaluated only when every required timeframe is warmed up and the
	// primary timeframe produced a new closed candle.
	var primaryClosed []*domain.Kline
	advanced := false

	for i, timeframe := range cfg.Timeframes {
		candles, err := l.feed.RecentCandles(ctx, symbol, timeframe, cfg.WarmupCandles+2)
		if err != nil {
			l.logger.Error(ctx, err, "Failed to fetch candles", map[string]interface{}{"symbol": symbol, "timeframe": timeframe})
			return
		}
		if len(candles) < 2 {
			return
		}

		// The last element is always the still-forming candle; the
		// second-to-last is the most recently closed one.
		closed := candles[:len(candles)-1]
		l.cache.Set(symbol, candles[len(candles)-1].Close)

		// Below warmup the indicator windows are statistically
		// meaningless; the symbol is skipped regardless of price action.
		if len(closed) < cfg.WarmupCandles {
			l.logger.Debug(ctx, "Symbol below warmup, skipping", map[string]interface{}{
				"symbol":    symbol,
				"timeframe": timeframe,
				"closed":    len(closed),
				"required":  cfg.WarmupCandles,
			})
			return
		}

		latest := closed[len(closed)-1].CloseTime
		if l.recordClosedCandle(symbol, timeframe, latest) && i == 0 {
			advanced = true
		}
		if i == 0 {
			primaryClosed = closed
		}
	}

	if !advanced {
		return
	}
	if !cfg.AutoTradingEnabled {
		l.logger.Debug(ctx, "Auto trading disabled, candle recorded without evaluation", map[string]interface{}{"symbol": symbol})
		return
	}

	metrics.SignalsEvaluated.WithLabelValues(symbol).Inc()
	sig := l.consensus.Evaluate(ctx, primaryClosed)
	sig = l.filter(ctx, cfg, symbol, sig, primaryClosed)
	if sig == nil {
		return
	}
	l.forward(ctx, cfg, sig)
}

// recordClosedCandle updates per-symbol bookkeeping and reports whether the
// closed-candle timestamp advanced. The very first observation after startup
// is recorded as baseline and never fires.
func (l *Loop) recordClosedCandle(symbol, timeframe string, closeTime time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	byTimeframe, ok := l.lastClosed[symbol]
	if !ok {
		byTimeframe = make(map[string]time.Time)
		l.lastClosed[symbol] = byTimeframe
	}
	last, seen := byTimeframe[timeframe]
	if !seen {
		byTimeframe[timeframe] = closeTime
		return false // baseline, no signal on cold start
	}
	if closeTime.After(last) {
		byTimeframe[timeframe] = closeTime
		return true
	}
	return false
}

// filter applies the five hard-reject stages. Each rejection is logged with
// its stage; only a signal surviving all five (including the independent
// reconfirmation) comes back non-nil.
func (l *Loop) filter(ctx context.Context, cfg *config.Config, symbol string, sig *domain.Signal, closed []*domain.Kline) *domain.Signal {
	// (1) Neutral or no consensus.
	if sig == nil {
		l.rejectStage(ctx, symbol, stageNeutral, nil)
		l.clearPending(symbol)
		return nil
	}

	// (2) Confidence floor.
	if sig.Confidence < cfg.MinSignalConfidence {
		l.rejectStage(ctx, symbol, stageConfidence, sig)
		return nil
	}

	// (3) Direction mode. LongOnly and ShortOnly are mutually exclusive,
	// enforced at config load.
	if (cfg.LongOnly && sig.Direction == domain.Short) || (cfg.ShortOnly && sig.Direction == domain.Long) {
		l.rejectStage(ctx, symbol, stageDirection, sig)
		return nil
	}

	// (4) Choppy regime.
	if l.chop.IsChoppy(closed) {
		l.rejectStage(ctx, symbol, stageChoppy, sig)
		return nil
	}

	// (5) Anti-whipsaw reconfirmation: the same direction must reappear on
	// a second, independent closed-candle evaluation at least
	// ConfirmationDelay after the first.
	l.mu.Lock()
	defer l.mu.Unlock()
	prior, ok := l.pending[symbol]
	if !ok || prior.Direction != sig.Direction {
		l.pending[symbol] = sig
		l.logger.Debug(ctx, "Signal pending confirmation", map[string]interface{}{
			"symbol":    symbol,
			"direction": sig.Direction,
			"firstSeen": sig.FirstSeenAt,
		})
		return nil
	}
	if sig.FirstSeenAt.Sub(prior.FirstSeenAt) < cfg.ConfirmationDelay {
		l.rejectStage(ctx, symbol, stageConfirmation, sig)
		return nil
	}

	delete(l.pending, symbol)
	confirmed := *sig
	confirmed.FirstSeenAt = prior.FirstSeenAt
	confirmed.Confirmed = true
	return &confirmed
}

func (l *Loop) clearPending(symbol string) {
	l.mu.Lock()
	delete(l.pending, symbol)
	l.mu.Unlock()
}

// forward hands a confirmed signal to the risk gate and, on acceptance,
// submits the entry at the actual current market price.
func (l *Loop) forward(ctx context.Context, cfg *config.Config, sig *domain.Signal) {
	price, _, ok := l.cache.Get(sig.Symbol)
	if !ok {
		live, err := l.feed.LatestPrice(ctx, sig.Symbol)
		if err != nil {
			l.logger.Error(ctx, err, "No market price available for confirmed signal", map[string]interface{}{"symbol": sig.Symbol})
			return
		}
		price = live
	}

	if err := l.gate.Evaluate(ctx, sig, price); err != nil {
		var rej *risk.Rejection
		if !errors.As(err, &rej) {
			l.logger.Error(ctx, err, "Risk gate infrastructure failure", map[string]interface{}{"symbol": sig.Symbol})
		}
		return
	}

	if _, err := l.coord.SubmitEntry(ctx, sig.Symbol, sig.Direction, cfg.Quantity, price); err != nil {
		if errors.Is(err, ports.ErrPositionExists) {
			l.logger.Debug(ctx, "Entry skipped, position already open", map[string]interface{}{"symbol": sig.Symbol})
			return
		}
		l.logger.Error(ctx, err, "Entry submission failed", map[string]interface{}{"symbol": sig.Symbol})
	}
}

func (l *Loop) rejectStage(ctx context.Context, symbol, stage string, sig *domain.Signal) {
	fields := map[string]interface{}{"symbol": symbol, "stage": stage}
	if sig != nil {
		fields["direction"] = sig.Direction
		fields["confidence"] = sig.Confidence
	}
	l.logger.Debug(ctx, "Signal rejected by filter", fields)
}
