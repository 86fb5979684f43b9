package ports

import (
	"context"
	"time"

	"cryptoTradeEngine/internal/domain"
)

// OrderAck represents the essential details returned after placing an order.
type OrderAck struct {
	OrderID       int64     // Exchange's order ID
	ClientOrderID string    // Engine-generated client order ID
	Symbol        string    // Symbol for the order
	AvgPrice      float64   // Average filled price (0 until filled)
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type          string    // Order type (e.g., MARKET)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// Balances is the account balance breakdown used for equity computation.
type Balances struct {
	Free   float64 // Available for new margin
	Locked float64 // Held as margin for open positions
}

// PositionRisk is the exchange's view of an open position, used for
// reconciliation after restarts and outages.
type PositionRisk struct {
	Symbol           string  // Symbol of the position
	PositionAmt      float64 // Positive for long, negative for short
	EntryPrice       float64 // Average entry price
	MarkPrice        float64 // Current mark price
	UnRealizedProfit float64 // Unrealized profit/loss
	Leverage         int     // Current leverage for the symbol
}

// ExecutionReport is an async order-lifecycle event from the user-data stream.
type ExecutionReport struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Status        string  // NEW, PARTIALLY_FILLED, FILLED, CANCELED, REJECTED, EXPIRED
	Side          string  // BUY, SELL
	FilledQty     float64 // Cumulative filled quantity
	AvgPrice      float64 // Average fill price
	RealizedPnL   float64 // Realized PnL delta reported with the fill
}

// BalanceUpdate is an async account-balance event from the user-data stream.
type BalanceUpdate struct {
	Asset   string
	Balance float64
}

// UserDataHandler receives async events from the exchange user-data stream.
type UserDataHandler struct {
	OnExecutionReport func(report ExecutionReport)
	OnBalanceUpdate   func(update BalanceUpdate)

	// OnReconnect fires after the stream re-establishes a dropped
	// connection. Events may have been missed while disconnected.
	OnReconnect func()
}

// ExchangeGateway defines order placement, account queries and the async
// user-data stream. The stream owns its listen-key keepalive and reconnect
// lifecycle; callers only consume events.
type ExchangeGateway interface {
	// SetServerTime synchronizes the client's clock with the exchange.
	SetServerTime(ctx context.Context) error

	// SetLeverage sets the leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder places a market order. clientOrderID makes the
	// submission idempotent on the exchange side.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, clientOrderID string) (*OrderAck, error)

	// CancelOrder cancels an existing open order by its exchange ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderAck, error)

	// GetBalances retrieves free and locked balances for the quote asset.
	GetBalances(ctx context.Context, asset string) (Balances, error)

	// GetPositionRisk retrieves the exchange's view of the position for a
	// symbol. Returns nil if no position exists.
	GetPositionRisk(ctx context.Context, symbol string) (*PositionRisk, error)

	// StreamUserData starts the user-data event stream. The gateway creates
	// the listen key, refreshes it periodically and reconnects with backoff
	// until ctx is cancelled. doneCh closes when the stream has fully shut
	// down (gracefully or after exhausting reconnect attempts).
	StreamUserData(ctx context.Context, handler UserDataHandler, errHandler func(err error)) (doneCh chan struct{}, err error)

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
}

// MarketDataFeed provides live prices and ordered candle sequences. Candle
// sequences run oldest to newest; the last element is always the still-open
// candle for the current bucket.
type MarketDataFeed interface {
	// LatestPrice retrieves the last traded price for a symbol.
	LatestPrice(ctx context.Context, symbol string) (float64, error)

	// RecentCandles retrieves up to limit candles for symbol/timeframe.
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error)
}
