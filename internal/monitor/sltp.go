package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/execution"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/positions"
	"cryptoTradeEngine/internal/prices"
)

// SLTPMonitor scans open positions against live prices on a short interval
// and triggers protective closes. It only ever reads the position store and
// only ever closes through the coordinator's single close path: a second
// close implementation is how double-close races and loss-accounting gaps
// are born.
type SLTPMonitor struct {
	cfgStore *config.Store
	store    *positions.Store
	cache    *prices.Cache
	feed     ports.MarketDataFeed
	coord    *execution.Coordinator
	logger   ports.Logger
}

// NewSLTPMonitor creates a stop-loss/take-profit monitor.
func NewSLTPMonitor(
	cfgStore *config.Store,
	store *positions.Store,
	cache *prices.Cache,
	feed ports.MarketDataFeed,
	coord *execution.Coordinator,
	logger ports.Logger,
) (*SLTPMonitor, error) {
	if cfgStore == nil || store == nil || cache == nil || feed == nil || coord == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for SL/TP monitor")
	}
	return &SLTPMonitor{
		cfgStore: cfgStore,
		store:    store,
		cache:    cache,
		feed:     feed,
		coord:    coord,
		logger:   logger,
	}, nil
}

// Run scans on the configured interval until ctx is cancelled.
func (m *SLTPMonitor) Run(ctx context.Context) {
	interval := m.cfgStore.Get().MonitorInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info(ctx, "SL/TP monitor started", map[string]interface{}{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "SL/TP monitor stopped")
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan checks every open position once.
func (m *SLTPMonitor) Scan(ctx context.Context) {
	for _, pos := range m.store.AllOpen() {
		if pos.Status != domain.StatusOpen {
			continue // a close is already in flight
		}
		price, ok := m.livePrice(ctx, pos.Symbol)
		if !ok {
			continue
		}

		var reason domain.CloseReason
		switch {
		case pos.StopTriggered(price):
			reason = domain.CloseReasonStopLoss
		case pos.TakeProfitTriggered(price):
			reason = domain.CloseReasonTakeProfit
		default:
			continue
		}

		m.logger.Info(ctx, "Protective close triggered", map[string]interface{}{
			"symbol":     pos.Symbol,
			"positionID": pos.ID,
			"price":      price,
			"stopLoss":   pos.StopLoss,
			"takeProfit": pos.TakeProfit,
			"reason":     reason,
		})

		pnl, err := m.coord.ClosePosition(ctx, pos.Symbol, reason)
		if err != nil {
			// Losing a race against another close trigger is expected.
			if errors.Is(err, ports.ErrAlreadyClosing) || errors.Is(err, ports.ErrPositionNotFound) {
				m.logger.Debug(ctx, "Close already handled elsewhere", map[string]interface{}{"symbol": pos.Symbol})
				continue
			}
			m.logger.Error(ctx, err, "Protective close failed, will retry next scan", map[string]interface{}{"symbol": pos.Symbol})
			continue
		}
		// Realized PnL from the exchange fill, not the pre-close estimate:
		// slippage and fees can flip a marginal win into a realized loss.
		// The coordinator has already recorded it for loss accounting.
		m.logger.Info(ctx, "Protective close complete", map[string]interface{}{
			"symbol": pos.Symbol,
			"pnl":    pnl,
			"reason": reason,
		})
	}
}

// livePrice prefers the cache fed by the gateway listener and falls back to
// a REST lookup when the cache is empty or stale.
func (m *SLTPMonitor) livePrice(ctx context.Context, symbol string) (float64, bool) {
	cfg := m.cfgStore.Get()
	if price, age, ok := m.cache.Get(symbol); ok && age <= 2*cfg.SignalInterval {
		return price, true
	}
	price, err := m.feed.LatestPrice(ctx, symbol)
	if err != nil {
		m.logger.Warn(ctx, "No live price available for position scan", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return 0, false
	}
	m.cache.Set(symbol, price)
	return price, true
}
