package domain

import "time"

// Trade represents a completed round trip appended to trade history.
type Trade struct {
	ID          int64        // Unique identifier (from DB)
	PositionID  int64        // Position this trade closed
	Symbol      string       // Trading symbol
	Side        PositionSide // Direction of the closed position
	EntryPrice  float64      // Price at which the position was entered
	ExitPrice   float64      // Price at which the position was exited
	Quantity    float64      // Size of the position traded
	Leverage    int          // Leverage used
	PNL         float64      // Realized profit and loss, net of slippage
	EntryTime   time.Time    // When the position was entered
	ExitTime    time.Time    // When the position was exited
	CloseReason CloseReason  // Why the position was closed
}
