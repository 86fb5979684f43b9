package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/cooldown"
	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/events"
	"cryptoTradeEngine/internal/execution"
	"cryptoTradeEngine/internal/metrics"
	"cryptoTradeEngine/internal/monitor"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/positions"
	"cryptoTradeEngine/internal/prices"
	"cryptoTradeEngine/internal/risk"
	"cryptoTradeEngine/internal/signals"
)

// Engine wires the periodic tasks together and owns their lifecycle:
// reconciliation (at startup, on a cadence, and after stream reconnects),
// the signal loop, the SL/TP monitor, the periodic equity snapshot, and the
// gateway user-data listener.
type Engine struct {
	cfgStore *config.Store
	logger   ports.Logger
	gateway  ports.ExchangeGateway
	feed     ports.MarketDataFeed
	store    *positions.Store
	cache    *prices.Cache
	posRepo  ports.PositionRepository
	snapRepo ports.SnapshotRepository
	tracker  *cooldown.Tracker
	gate     *risk.Gate
	coord    *execution.Coordinator
	loop     *signals.Loop
	monitor  *monitor.SLTPMonitor
	bus      *events.Bus

	reconcileCh chan struct{} // coalesced out-of-band reconcile triggers
}

// Deps collects the engine's constructor dependencies.
type Deps struct {
	CfgStore *config.Store
	Logger   ports.Logger
	Gateway  ports.ExchangeGateway
	Feed     ports.MarketDataFeed
	Store    *positions.Store
	Cache    *prices.Cache
	PosRepo  ports.PositionRepository
	SnapRepo ports.SnapshotRepository
	Tracker  *cooldown.Tracker
	Gate     *risk.Gate
	Coord    *execution.Coordinator
	Loop     *signals.Loop
	Monitor  *monitor.SLTPMonitor
	Bus      *events.Bus
}

// New creates the engine.
func New(d Deps) (*Engine, error) {
	if d.CfgStore == nil || d.Logger == nil || d.Gateway == nil || d.Feed == nil ||
		d.Store == nil || d.Cache == nil || d.PosRepo == nil || d.SnapRepo == nil ||
		d.Tracker == nil || d.Gate == nil || d.Coord == nil || d.Loop == nil ||
		d.Monitor == nil || d.Bus == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	return &Engine{
		cfgStore: d.CfgStore,
		logger:   d.Logger,
		gateway:  d.Gateway,
		feed:     d.Feed,
		store:    d.Store,
		cache:    d.Cache,
		posRepo:  d.PosRepo,
		snapRepo: d.SnapRepo,
		tracker:  d.Tracker,
		gate:     d.Gate,
		coord:    d.Coord,
		loop:     d.Loop,
		monitor:  d.Monitor,
		bus:      d.Bus,

		reconcileCh: make(chan struct{}, 1),
	}, nil
}

// Start runs the engine until the context is cancelled or a shutdown signal
// arrives. Open orders, positions and balances are reconciled against the
// gateway before any loop starts.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		e.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	cfg := e.cfgStore.Get()

	if err := e.gateway.SetServerTime(ctx); err != nil {
		return fmt.Errorf("failed to synchronize server time: %w", err)
	}
	e.logger.Info(ctx, "Server time synchronized")

	for _, symbol := range cfg.Symbols {
		if err := e.gateway.SetLeverage(ctx, symbol, cfg.Leverage); err != nil {
			// Continue with whatever leverage the exchange has; the risk
			// gate still enforces the cap.
			e.logger.Warn(ctx, "Failed to set leverage, continuing", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
	}

	if err := e.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	wsDone, err := e.gateway.StreamUserData(ctx, ports.UserDataHandler{
		OnExecutionReport: func(report ports.ExecutionReport) { e.handleExecutionReport(ctx, report) },
		OnBalanceUpdate:   func(update ports.BalanceUpdate) { e.handleBalanceUpdate(ctx, update) },
		OnReconnect: func() {
			select {
			case e.reconcileCh <- struct{}{}:
			default:
			}
		},
	}, func(err error) {
		e.logger.Warn(ctx, "User-data stream error reported", map[string]interface{}{"error": err.Error()})
	})
	if err != nil {
		return fmt.Errorf("failed to start user-data stream: %w", err)
	}
	e.logger.Info(ctx, "User-data stream started")

	var wg sync.WaitGroup
	wg.Add(6)
	go func() { defer wg.Done(); e.loop.Run(ctx) }()
	go func() { defer wg.Done(); e.monitor.Run(ctx) }()
	go func() { defer wg.Done(); e.snapshotLoop(ctx) }()
	go func() { defer wg.Done(); e.reconcileLoop(ctx) }()
	go func() { defer wg.Done(); e.reloadLoop(ctx, hupCh) }()
	go func() { defer wg.Done(); e.consumeEvents() }()

	e.bus.Publish(events.Event{Type: events.EngineStarted})
	e.logger.Info(ctx, "Engine started", map[string]interface{}{"symbols": cfg.Symbols})

	select {
	case <-ctx.Done():
		e.logger.Info(ctx, "Engine context cancelled, shutting down")
	case <-wsDone:
		// The gateway exhausted its reconnect attempts; running blind on
		// stale data is worse than stopping.
		e.logger.Error(ctx, fmt.Errorf("user-data stream closed"), "User-data stream stopped, shutting down")
		cancel()
	}

	e.bus.Publish(events.Event{Type: events.EngineStopped})
	e.bus.Close()
	wg.Wait()
	e.logger.Info(context.Background(), "Engine stopped")
	return nil
}

// Reconcile replays durable open positions into the store and squares them
// with the exchange's view, self-healing anything that filled or closed
// while the engine was down.
func (e *Engine) Reconcile(ctx context.Context) error {
	stored, err := e.posRepo.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	for _, pos := range stored {
		riskInfo, err := e.gateway.GetPositionRisk(ctx, pos.Symbol)
		if err != nil {
			return fmt.Errorf("failed to query exchange position for %s: %w", pos.Symbol, err)
		}
		if riskInfo == nil || riskInfo.PositionAmt == 0 {
			// The exchange flattened it while we were away (stop order
			// fill, liquidation, manual close). Book it with the last
			// mark-to-market estimate we have.
			e.logger.Warn(ctx, "Stored position no longer on exchange, closing record", map[string]interface{}{
				"symbol":     pos.Symbol,
				"positionID": pos.ID,
			})
			pos.Status = domain.StatusClosed
			pos.RealizedPnL = pos.UnrealizedPnL
			pos.ClosedAt = time.Now().UTC()
			pos.CloseReason = domain.CloseReasonReconcile
			if err := e.posRepo.Update(ctx, pos); err != nil {
				e.logger.Error(ctx, err, "Failed to persist reconciled close", map[string]interface{}{"positionID": pos.ID})
			}
			continue
		}

		pos.UnrealizedPnL = riskInfo.UnRealizedProfit
		e.cache.Set(pos.Symbol, riskInfo.MarkPrice)
		e.store.Upsert(pos)
		e.logger.Info(ctx, "Reconciled open position", map[string]interface{}{
			"symbol":     pos.Symbol,
			"positionID": pos.ID,
			"entryPrice": pos.EntryPrice,
			"markPrice":  riskInfo.MarkPrice,
		})
	}
	metrics.PositionsOpen.Set(float64(len(e.store.AllOpen())))
	e.logger.Info(ctx, "Reconciliation complete", map[string]interface{}{"openPositions": len(e.store.AllOpen())})
	return nil
}

// handleExecutionReport applies async fill information to the store. The
// synchronous submission path already handles the common case; this covers
// fills that land while a submission is in flight or during an outage.
func (e *Engine) handleExecutionReport(ctx context.Context, report ports.ExecutionReport) {
	e.logger.Debug(ctx, "Execution report", map[string]interface{}{
		"symbol":  report.Symbol,
		"orderID": report.OrderID,
		"status":  report.Status,
	})
	if report.AvgPrice > 0 {
		e.cache.Set(report.Symbol, report.AvgPrice)
	}

	pos, ok := e.store.Get(report.Symbol)
	if !ok || report.Status != "FILLED" {
		return
	}
	if pos.Status == domain.StatusOpen && report.AvgPrice > 0 {
		pos.UnrealizedPnL = pos.MarkToMarket(report.AvgPrice)
		e.store.Upsert(&pos)
	}
}

func (e *Engine) handleBalanceUpdate(ctx context.Context, update ports.BalanceUpdate) {
	e.logger.Debug(ctx, "Balance update", map[string]interface{}{"asset": update.Asset, "balance": update.Balance})
}

// snapshotLoop persists a portfolio snapshot on the configured interval and
// keeps the equity and cooldown gauges current.
func (e *Engine) snapshotLoop(ctx context.Context) {
	interval := e.cfgStore.Get().SnapshotInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx := context.WithoutCancel(ctx)
			snap, err := e.gate.Snapshot(opCtx)
			if err != nil {
				e.logger.Warn(ctx, "Failed to compute portfolio snapshot", map[string]interface{}{"error": err.Error()})
				continue
			}
			metrics.EquityUSD.Set(snap.TotalEquity())
			if active, _ := e.tracker.InCooldown(); active {
				metrics.CooldownActive.Set(1)
			} else {
				metrics.CooldownActive.Set(0)
			}
			if err := e.snapRepo.SaveSnapshot(opCtx, snap); err != nil {
				e.logger.Warn(ctx, "Failed to persist portfolio snapshot", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// reconcileLoop re-squares engine state with the exchange on a fixed cadence
// and immediately after the user-data stream reconnects, healing anything
// that filled or closed while events were not flowing.
func (e *Engine) reconcileLoop(ctx context.Context) {
	interval := e.cfgStore.Get().ReconcileInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.reconcileCh:
			e.logger.Info(ctx, "Stream reconnected, reconciling with exchange")
		}
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Warn(ctx, "Reconciliation failed, will retry on next cycle", map[string]interface{}{"error": err.Error()})
		}
	}
}

// reloadLoop swaps in a freshly validated config snapshot on SIGHUP. A
// failed load keeps the previous snapshot live.
func (e *Engine) reloadLoop(ctx context.Context, hup <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := e.cfgStore.Reload(); err != nil {
				e.logger.Error(ctx, err, "Config reload failed, keeping previous snapshot")
				continue
			}
			e.logger.Info(ctx, "Configuration reloaded")
		}
	}
}

// consumeEvents keeps the Prometheus view in sync with lifecycle events.
// It exits when the bus closes.
func (e *Engine) consumeEvents() {
	for evt := range e.bus.Subscribe() {
		switch evt.Type {
		case events.OrderPlaced:
			side, _ := evt.Fields["side"].(string)
			metrics.OrdersPlaced.WithLabelValues(evt.Symbol, side).Inc()
		case events.OrderFailed:
			metrics.OrdersFailed.WithLabelValues(evt.Symbol).Inc()
		case events.PositionOpened:
			metrics.PositionsOpen.Inc()
		case events.PositionClosed:
			metrics.PositionsOpen.Dec()
			result := "win"
			if pnl, ok := evt.Fields["pnl"].(float64); ok && pnl < 0 {
				result = "loss"
			}
			metrics.ClosedTrades.WithLabelValues(evt.Symbol, result).Inc()
		case events.SignalRejected:
			reason, _ := evt.Fields["reason"].(string)
			metrics.SignalsRejected.WithLabelValues(evt.Symbol, reason).Inc()
		case events.CooldownActivated:
			metrics.CooldownActive.Set(1)
		}
	}
}
