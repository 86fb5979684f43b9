package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide is the directional exposure of a position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// EntryOrderSide returns the order side used to open a position on this side.
func (s PositionSide) EntryOrderSide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// PositionStatus represents the lifecycle state of a trading position.
type PositionStatus string

const (
	StatusPending PositionStatus = "pending" // entry submitted, awaiting exchange ack
	StatusOpen    PositionStatus = "open"    // entry fill confirmed
	StatusClosing PositionStatus = "closing" // close order submitted
	StatusClosed  PositionStatus = "closed"  // terminal, realized PnL recorded
	StatusFailed  PositionStatus = "failed"  // terminal, rejected before any fill
)

// CanTransition reports whether moving from the current status to next is a
// legal lifecycle step. Open never jumps straight to Closed; every close
// passes through Closing.
func (s PositionStatus) CanTransition(next PositionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusOpen || next == StatusFailed
	case StatusOpen:
		return next == StatusClosing
	case StatusClosing:
		return next == StatusClosed
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonReconcile  CloseReason = "RECONCILE"
	CloseReasonShutdown   CloseReason = "SHUTDOWN"
	CloseReasonUnknown    CloseReason = "Unknown"
)
