package domain

import "time"

// Position represents a trading position held by the engine.
// At most one position per symbol may be Open or Closing at a time.
type Position struct {
	ID            int64          // Unique identifier (from DB)
	Symbol        string         // Trading symbol (e.g., "BTCUSDT")
	Side          PositionSide   // LONG or SHORT
	EntryPrice    float64        // Average fill price of the entry order
	ExitPrice     float64        // Average fill price of the close order (0 while open)
	Quantity      float64        // Size of the position
	Leverage      int            // Leverage used for the position
	StopLoss      float64        // Price level that triggers a protective close
	TakeProfit    float64        // Price level that triggers a profit-taking close
	Status        PositionStatus // Lifecycle state, see PositionStatus.CanTransition
	UnrealizedPnL float64        // Mark-to-market estimate while open
	RealizedPnL   float64        // Booked PnL, set only when Status is Closed
	OpenedAt      time.Time      // Timestamp of the entry fill
	ClosedAt      time.Time      // Timestamp of the close fill (zero while open)
	CloseReason   CloseReason    // Why the position was closed

	EntryOrderID string // Exchange order ID of the entry order
	CloseOrderID string // Exchange order ID of the close order
}

// IsOpen reports whether the position is live on the exchange (entry filled,
// close not yet confirmed).
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen || p.Status == StatusClosing
}

// MarkToMarket returns the unrealized PnL estimate at the given price.
func (p *Position) MarkToMarket(price float64) float64 {
	if p.Side == Short {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// StopTriggered reports whether the live price has crossed the stop level.
func (p *Position) StopTriggered(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == Short {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// TakeProfitTriggered reports whether the live price has crossed the target.
func (p *Position) TakeProfitTriggered(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == Short {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}
