package domain

import "time"

// Order is the engine-side record of an exchange order. Owned by the
// execution coordinator; positions reference orders by exchange ID only.
type Order struct {
	ID              string    // Client order ID generated by the engine
	ExchangeOrderID int64     // ID assigned by the exchange
	Symbol          string    // Trading symbol
	Side            OrderSide // BUY or SELL
	Type            string    // Exchange order type (MARKET, ...)
	Quantity        float64   // Requested quantity
	FilledQuantity  float64   // Quantity filled so far
	Price           float64   // Average fill price
	Status          string    // Exchange-reported status (NEW, FILLED, ...)
	IsEntry         bool      // True for entry orders, false for closes
	SubmittedAt     time.Time // When the engine submitted the order
}
