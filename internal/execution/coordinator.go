package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/cooldown"
	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/events"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/positions"
)

// Coordinator owns order submission. A single execution mutex serializes
// every call into the exchange gateway, so at most one order submission is
// outstanding across the whole engine at any time. That mutex is the only
// thing preventing duplicate entries when the signal loop and an external
// trigger race, and it is separate from the data locks: readers of the
// position store are never blocked by an in-flight submission.
type Coordinator struct {
	cfgStore  *config.Store
	gateway   ports.ExchangeGateway
	store     *positions.Store
	posRepo   ports.PositionRepository
	tradeRepo ports.TradeRepository
	tracker   *cooldown.Tracker
	bus       *events.Bus
	logger    ports.Logger
	now       func() time.Time

	execMu sync.Mutex // serializes SubmitEntry and ClosePosition
}

// orderStatusFilled is the only ack status treated as a confirmed fill.
// Anything else (NEW, PARTIALLY_FILLED, EXPIRED) must not book a position
// transition.
const orderStatusFilled = "FILLED"

// NewCoordinator creates an execution coordinator.
func NewCoordinator(
	cfgStore *config.Store,
	gateway ports.ExchangeGateway,
	store *positions.Store,
	posRepo ports.PositionRepository,
	tradeRepo ports.TradeRepository,
	tracker *cooldown.Tracker,
	bus *events.Bus,
	logger ports.Logger,
) (*Coordinator, error) {
	if cfgStore == nil || gateway == nil || store == nil || posRepo == nil || tradeRepo == nil || tracker == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for execution coordinator")
	}
	return &Coordinator{
		cfgStore:  cfgStore,
		gateway:   gateway,
		store:     store,
		posRepo:   posRepo,
		tradeRepo: tradeRepo,
		tracker:   tracker,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SubmitEntry places an entry order for symbol at the given live price and,
// on success, registers the resulting position. price is the actual market
// price the risk estimate was based on, passed through so stops stay
// consistent with the accepted risk.
func (c *Coordinator) SubmitEntry(ctx context.Context, symbol string, side domain.PositionSide, quantity, price float64) (*domain.Position, error) {
	op := "SubmitEntry"
	c.execMu.Lock()
	defer c.execMu.Unlock()

	if existing, ok := c.store.Get(symbol); ok && existing.IsOpen() {
		return nil, fmt.Errorf("%s: %w: %s", op, ports.ErrPositionExists, symbol)
	}

	cfg := c.cfgStore.Get()
	clientOrderID := uuid.NewString()
	pos := &domain.Position{
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Leverage: cfg.Leverage,
		Status:   domain.StatusPending,
	}

	c.logger.Info(ctx, op+": Placing entry market order", map[string]interface{}{
		"symbol":        symbol,
		"side":          side,
		"quantity":      quantity,
		"clientOrderID": clientOrderID,
	})

	ack, err := c.placeWithRetry(ctx, symbol, side.EntryOrderSide(), formatQuantity(quantity), clientOrderID)
	if err != nil {
		// Terminal for this attempt: Pending -> Failed, no retry beyond the
		// bounded backoff already applied.
		pos.Status = domain.StatusFailed
		c.bus.Publish(events.Event{
			Type:   events.OrderFailed,
			Symbol: symbol,
			Fields: map[string]interface{}{"side": string(side), "error": err.Error()},
		})
		c.logger.Error(ctx, err, op+": Entry order failed", map[string]interface{}{"symbol": symbol})
		return nil, fmt.Errorf("entry order failed for %s: %w", symbol, err)
	}

	// The order is on the exchange's books; the remaining bookkeeping must
	// finish even if shutdown begins mid-call.
	ctx = context.WithoutCancel(ctx)

	if ack.Status != orderStatusFilled {
		// The exchange acked but did not fill. Booking an Open position here
		// would invent exposure, so cancel best-effort and fail the entry.
		pos.Status = domain.StatusFailed
		c.logger.Warn(ctx, op+": Entry ack is not a fill, cancelling order", map[string]interface{}{"orderID": ack.OrderID, "status": ack.Status})
		if _, cancelErr := c.gateway.CancelOrder(ctx, symbol, ack.OrderID); cancelErr != nil {
			c.logger.Error(ctx, cancelErr, op+": Failed to cancel unfilled entry order", map[string]interface{}{"orderID": ack.OrderID})
		}
		c.bus.Publish(events.Event{
			Type:   events.OrderFailed,
			Symbol: symbol,
			Fields: map[string]interface{}{"side": string(side), "error": "entry order not filled: " + ack.Status},
		})
		return nil, fmt.Errorf("entry order for %s not filled (status %s): %w", symbol, ack.Status, ports.ErrOrderPlacementFailed)
	}

	actualEntryPrice := ack.AvgPrice
	if actualEntryPrice == 0 {
		c.logger.Warn(ctx, op+": Entry ack has no average price, falling back to signal price", map[string]interface{}{"orderID": ack.OrderID, "fallbackPrice": price})
		actualEntryPrice = price
	}

	// Fill ack: Pending -> Open. Stops are derived from the actual fill
	// price, not the pre-submission estimate.
	if !pos.Status.CanTransition(domain.StatusOpen) {
		return nil, fmt.Errorf("%s: %w: %s -> open", op, ports.ErrInvalidStateFor, pos.Status)
	}
	pos.Status = domain.StatusOpen
	pos.EntryPrice = actualEntryPrice
	pos.StopLoss = stopLossPrice(actualEntryPrice, side, cfg.StopLossPct)
	pos.TakeProfit = takeProfitPrice(actualEntryPrice, side, cfg.TakeProfitPct)
	pos.OpenedAt = c.now().UTC()
	pos.EntryOrderID = strconv.FormatInt(ack.OrderID, 10)

	posID, err := c.posRepo.Create(ctx, pos)
	if err != nil {
		// We have exchange exposure without a durable record. Flatten it
		// rather than run an untracked position.
		c.logger.Error(ctx, err, op+": Failed to persist new position, attempting emergency close", map[string]interface{}{"symbol": symbol})
		if closeErr := c.emergencyClose(ctx, symbol, side, quantity); closeErr != nil {
			c.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED, manual intervention required", map[string]interface{}{"symbol": symbol})
		}
		return nil, fmt.Errorf("failed to persist position after entry fill: %w", err)
	}
	pos.ID = posID
	c.store.Upsert(pos)

	c.bus.Publish(events.Event{
		Type:   events.OrderPlaced,
		Symbol: symbol,
		Fields: map[string]interface{}{
			"orderID":  ack.OrderID,
			"side":     string(side),
			"quantity": quantity,
			"order":    orderRecord(ack, clientOrderID, symbol, quantity, true, pos.OpenedAt),
		},
	})
	c.bus.Publish(events.Event{
		Type:   events.PositionOpened,
		Symbol: symbol,
		Fields: map[string]interface{}{"positionID": posID, "entryPrice": actualEntryPrice, "side": string(side)},
	})
	c.logger.Info(ctx, op+": Position opened", map[string]interface{}{
		"positionID": posID,
		"symbol":     symbol,
		"entryPrice": actualEntryPrice,
		"stopLoss":   pos.StopLoss,
		"takeProfit": pos.TakeProfit,
	})
	return pos, nil
}

// ClosePosition is the single close path used by every caller, internal
// monitor and external command alike. It returns the realized PnL from the
// exchange fill, which is what loss accounting must use: slippage and fees
// can flip a marginal unrealized win into a realized loss. The realized
// outcome is recorded with the cooldown tracker here, exactly once.
func (c *Coordinator) ClosePosition(ctx context.Context, symbol string, reason domain.CloseReason) (float64, error) {
	op := "ClosePosition"
	c.execMu.Lock()
	defer c.execMu.Unlock()

	pos, ok := c.store.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("%s: %w: %s", op, ports.ErrPositionNotFound, symbol)
	}
	if pos.Status != domain.StatusOpen {
		// A concurrent close won the race; treat as a no-op rejection.
		return 0, fmt.Errorf("%s: %w: %s is %s", op, ports.ErrAlreadyClosing, symbol, pos.Status)
	}

	clientOrderID := uuid.NewString()
	closeSide := pos.Side.EntryOrderSide().Opposite()
	c.logger.Info(ctx, op+": Placing closing market order", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     symbol,
		"side":       closeSide,
		"reason":     reason,
	})

	ack, err := c.placeWithRetry(ctx, symbol, closeSide, formatQuantity(pos.Quantity), clientOrderID)
	if err != nil {
		// The close never reached the exchange; the position stays Open and
		// the monitor will retrigger on its next scan.
		c.logger.Error(ctx, err, op+": Close order failed, position remains open", map[string]interface{}{"positionID": pos.ID, "symbol": symbol})
		return 0, fmt.Errorf("close order failed for %s: %w", symbol, err)
	}

	// The order is on the exchange's books; the remaining bookkeeping must
	// finish even if shutdown begins mid-call.
	ctx = context.WithoutCancel(ctx)

	if ack.Status != orderStatusFilled {
		// Booking a close on an unconfirmed fill would record a bogus
		// realized PnL and corrupt the loss streak. Cancel best-effort and
		// leave the position Open; the monitor retriggers on its next scan.
		c.logger.Warn(ctx, op+": Close ack is not a fill, cancelling order", map[string]interface{}{"positionID": pos.ID, "orderID": ack.OrderID, "status": ack.Status})
		if _, cancelErr := c.gateway.CancelOrder(ctx, symbol, ack.OrderID); cancelErr != nil {
			c.logger.Error(ctx, cancelErr, op+": Failed to cancel unfilled close order", map[string]interface{}{"orderID": ack.OrderID})
		}
		return 0, fmt.Errorf("close order for %s not filled (status %s): %w", symbol, ack.Status, ports.ErrOrderPlacementFailed)
	}

	// Close submitted and acked: Open -> Closing -> Closed.
	if !pos.Status.CanTransition(domain.StatusClosing) {
		return 0, fmt.Errorf("%s: %w: %s -> closing", op, ports.ErrInvalidStateFor, pos.Status)
	}
	pos.Status = domain.StatusClosing
	pos.CloseOrderID = strconv.FormatInt(ack.OrderID, 10)
	c.store.Upsert(&pos)

	c.bus.Publish(events.Event{
		Type:   events.OrderPlaced,
		Symbol: symbol,
		Fields: map[string]interface{}{
			"orderID":  ack.OrderID,
			"side":     string(closeSide),
			"quantity": pos.Quantity,
			"order":    orderRecord(ack, clientOrderID, symbol, pos.Quantity, false, c.now().UTC()),
		},
	})

	exitPrice := ack.AvgPrice
	if exitPrice == 0 {
		c.logger.Warn(ctx, op+": Close ack has no average price, using last entry price", map[string]interface{}{"orderID": ack.OrderID})
		exitPrice = pos.EntryPrice
	}
	realized := pos.MarkToMarket(exitPrice)

	pos.Status = domain.StatusClosed
	pos.ExitPrice = exitPrice
	pos.RealizedPnL = realized
	pos.ClosedAt = c.now().UTC()
	pos.CloseReason = reason

	if err := c.posRepo.Update(ctx, &pos); err != nil {
		c.logger.Error(ctx, err, op+": Failed to persist closed position", map[string]interface{}{"positionID": pos.ID})
		// The exchange fill is authoritative; carry on with in-memory state.
	}
	if _, err := c.tradeRepo.AppendTradeHistory(ctx, &domain.Trade{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		Leverage:    pos.Leverage,
		PNL:         realized,
		EntryTime:   pos.OpenedAt,
		ExitTime:    pos.ClosedAt,
		CloseReason: reason,
	}); err != nil {
		c.logger.Error(ctx, err, op+": Failed to append trade history", map[string]interface{}{"positionID": pos.ID})
	}

	// Removed only after the exchange confirmed the closing fill.
	c.store.Remove(symbol)

	if activated, until := c.tracker.RecordOutcome(realized); activated {
		c.bus.Publish(events.Event{
			Type:   events.CooldownActivated,
			Symbol: symbol,
			Fields: map[string]interface{}{"until": until.UTC()},
		})
		c.logger.Warn(ctx, op+": Cooldown activated after consecutive losses", map[string]interface{}{"until": until.UTC()})
	}

	c.bus.Publish(events.Event{
		Type:   events.PositionClosed,
		Symbol: symbol,
		Fields: map[string]interface{}{"positionID": pos.ID, "pnl": realized, "reason": string(reason)},
	})
	c.logger.Info(ctx, op+": Position closed", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     symbol,
		"exitPrice":  exitPrice,
		"pnl":        realized,
		"reason":     reason,
	})
	return realized, nil
}

// placeWithRetry submits a market order, retrying transient failures
// (timeouts, rate limits, connection drops) with exponential backoff.
// Exchange rejections are terminal and returned immediately.
func (c *Coordinator) placeWithRetry(ctx context.Context, symbol string, side domain.OrderSide, quantity, clientOrderID string) (*ports.OrderAck, error) {
	cfg := c.cfgStore.Get()
	b := &backoff.Backoff{
		Min:    cfg.RetryBaseDelay,
		Max:    cfg.RetryMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	// An in-flight submission must run to completion: tearing down the HTTP
	// request on shutdown leaves the exchange-side result unknown. Only the
	// backoff waits between attempts honor cancellation.
	submitCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryMaxAttempts; attempt++ {
		ack, err := c.gateway.PlaceMarketOrder(submitCtx, symbol, side, quantity, clientOrderID)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if !ports.IsTransient(err) {
			return nil, err
		}
		if attempt == cfg.RetryMaxAttempts {
			break
		}
		delay := b.Duration()
		c.logger.Warn(ctx, "Transient order error, retrying", map[string]interface{}{
			"symbol":  symbol,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
		}
	}
	return nil, fmt.Errorf("order submission exhausted %d attempts: %w", cfg.RetryMaxAttempts, lastErr)
}

// emergencyClose flattens exchange exposure when bookkeeping fails after a
// fill. It deliberately bypasses position state: there may be no durable
// record to update.
func (c *Coordinator) emergencyClose(ctx context.Context, symbol string, entrySide domain.PositionSide, quantity float64) error {
	closeSide := entrySide.EntryOrderSide().Opposite()
	c.logger.Warn(ctx, "Placing emergency closing order", map[string]interface{}{"symbol": symbol, "side": closeSide, "quantity": quantity})
	_, err := c.gateway.PlaceMarketOrder(ctx, symbol, closeSide, formatQuantity(quantity), uuid.NewString())
	if err != nil {
		return fmt.Errorf("emergency close order placement failed: %w", err)
	}
	return nil
}

// orderRecord builds the engine-side order view carried on OrderPlaced
// events for external notifiers and UI consumers.
func orderRecord(ack *ports.OrderAck, clientOrderID, symbol string, quantity float64, isEntry bool, at time.Time) domain.Order {
	side := domain.OrderSide(ack.Side)
	orderType := ack.Type
	if orderType == "" {
		orderType = "MARKET"
	}
	return domain.Order{
		ID:              clientOrderID,
		ExchangeOrderID: ack.OrderID,
		Symbol:          symbol,
		Side:            side,
		Type:            orderType,
		Quantity:        quantity,
		FilledQuantity:  ack.ExecutedQty,
		Price:           ack.AvgPrice,
		Status:          ack.Status,
		IsEntry:         isEntry,
		SubmittedAt:     at,
	}
}

func stopLossPrice(entry float64, side domain.PositionSide, pct float64) float64 {
	if side == domain.Short {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

func takeProfitPrice(entry float64, side domain.PositionSide, pct float64) float64 {
	if side == domain.Short {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}

// formatQuantity formats a quantity for the exchange API.
func formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', 3, 64)
}
