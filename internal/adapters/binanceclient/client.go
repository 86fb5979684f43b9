package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance expires idle listen keys after 60 minutes.
	listenKeyKeepaliveInterval = 30 * time.Minute
)

// Client implements ports.ExchangeGateway and ports.MarketDataFeed using the
// go-binance futures library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance gateway adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration // Initial reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max consecutive attempts before giving up
}

// New creates a new Binance gateway adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1001: // Internal error; unable to process your request
			mappedErr = ports.ErrExchangeUnavailable
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1007: // Timeout waiting for response from backend server
			mappedErr = ports.ErrTimeout
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Position is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015: // Leverage is not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// PlaceMarketOrder places a market order. The caller-supplied clientOrderID
// makes the submission idempotent: resubmitting after an ambiguous failure
// cannot double-fill.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, clientOrderID string) (*ports.OrderAck, error) {
	op := "PlaceMarketOrder"

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(clientOrderID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	ack := translateOrderAck(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        symbol,
		"side":          side,
		"quantity":      quantity,
		"orderID":       ack.OrderID,
		"clientOrderID": ack.ClientOrderID,
		"avgPrice":      ack.AvgPrice,
		"status":        ack.Status,
	})
	return ack, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderAck, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	origQty, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	ack := &ports.OrderAck{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(res.Status),
		Type:          string(res.Type),
		Side:          string(res.Side),
		Timestamp:     time.Now().UTC(),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": ack.Status})
	return ack, nil
}

// GetBalances retrieves the free and locked balance for a specific asset
// (e.g., "USDT"). Locked is the wallet balance held as margin.
func (c *Client) GetBalances(ctx context.Context, asset string) (ports.Balances, error) {
	op := "GetBalances"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return ports.Balances{}, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset != asset {
			continue
		}
		wallet, err := strconv.ParseFloat(bal.WalletBalance, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse wallet balance '%s' for asset %s: %w", bal.WalletBalance, asset, err)
			return ports.Balances{}, c.handleError(ctx, parseErr, op)
		}
		free, err := strconv.ParseFloat(bal.AvailableBalance, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse available balance '%s' for asset %s: %w", bal.AvailableBalance, asset, err)
			return ports.Balances{}, c.handleError(ctx, parseErr, op)
		}
		locked := wallet - free
		if locked < 0 {
			locked = 0
		}
		return ports.Balances{Free: free, Locked: locked}, nil
	}

	err = fmt.Errorf("asset %s not found in account balance", asset)
	return ports.Balances{}, c.handleError(ctx, err, op)
}

// GetPositionRisk retrieves the risk information for a specific position
// symbol. Returns nil when the exchange reports no open position.
func (c *Client) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	op := "GetPositionRisk"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		c.logger.Debug(ctx, op+": No position found for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	// One-way position mode: a single entry per symbol.
	binancePos := positions[0]
	qty, _ := strconv.ParseFloat(binancePos.PositionAmt, 64)
	if qty == 0 {
		c.logger.Debug(ctx, op+": Position amount is zero for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	entryPrice, _ := strconv.ParseFloat(binancePos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(binancePos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(binancePos.UnRealizedProfit, 64)
	leverage, _ := strconv.Atoi(binancePos.Leverage)

	return &ports.PositionRisk{
		Symbol:           binancePos.Symbol,
		PositionAmt:      qty,
		EntryPrice:       entryPrice,
		MarkPrice:        markPrice,
		UnRealizedProfit: unProfit,
		Leverage:         leverage,
	}, nil
}

// LatestPrice retrieves the last traded price for a given symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	op := "LatestPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// RecentCandles retrieves up to limit candles for a symbol and timeframe,
// oldest first. The final element is the still-open bucket.
func (c *Client) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	op := "RecentCandles"
	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	now := time.Now()
	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, timeframe)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		dk.IsFinal = dk.CloseTime.Before(now)
		domainKlines = append(domainKlines, dk)
	}

	return domainKlines, nil
}

// StreamUserData starts the user-data stream and keeps it alive: it creates
// the listen key, refreshes it on an interval and reconnects with exponential
// backoff. The returned channel closes once the stream has fully shut down.
func (c *Client) StreamUserData(ctx context.Context, handler ports.UserDataHandler, errHandler func(err error)) (chan struct{}, error) {
	op := "StreamUserData"

	listenKey, err := c.futuresClient.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op+" listen key")
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	doneCh := make(chan struct{})

	// Keepalive loop. A lost listen key silently kills the stream, so a
	// keepalive failure is treated as a stream error.
	go func() {
		ticker := time.NewTicker(listenKeyKeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				err := c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(streamCtx)
				if err != nil {
					errHandler(c.handleError(streamCtx, err, op+" keepalive"))
				}
			}
		}
	}()

	binanceHandler := func(event *futures.WsUserDataEvent) {
		c.dispatchUserDataEvent(streamCtx, event, handler)
	}
	binanceErrHandler := func(err error) {
		errHandler(c.handleError(streamCtx, err, op+" WebSocket"))
	}

	// Reconnection loop.
	go func() {
		defer close(doneCh)
		defer cancelStream()
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.futuresClient.NewCloseUserStreamService().ListenKey(listenKey).Do(closeCtx); err != nil {
				c.logger.Warn(closeCtx, op+": Failed to close listen key", map[string]interface{}{"error": err.Error()})
			}
		}()

		b := &backoff.Backoff{
			Min:    c.reconnectDelay,
			Max:    60 * time.Second,
			Factor: 2,
			Jitter: true,
		}
		attempt := 0
		wasConnected := false
		for {
			select {
			case <-streamCtx.Done():
				c.logger.Info(streamCtx, op+": Context cancelled, stopping stream.")
				return
			default:
			}

			c.logger.Info(streamCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"attempt": attempt + 1})
			innerDoneCh, innerStopCh, connectErr := futures.WsUserDataServe(listenKey, binanceHandler, binanceErrHandler)
			if connectErr != nil {
				c.handleError(streamCtx, connectErr, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(streamCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := b.Duration()
				c.logger.Info(streamCtx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-streamCtx.Done():
					return
				}
			}

			c.logger.Info(streamCtx, op+": WebSocket connection established.")
			attempt = 0
			b.Reset()
			if wasConnected && handler.OnReconnect != nil {
				// Fills and cancels may have landed while disconnected.
				handler.OnReconnect()
			}
			wasConnected = true

			select {
			case <-innerDoneCh:
				c.logger.Warn(streamCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...")
			case <-streamCtx.Done():
				c.logger.Info(streamCtx, op+": Context cancelled, stopping WebSocket.")
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	return doneCh, nil
}

// dispatchUserDataEvent translates raw user-data events into port types.
func (c *Client) dispatchUserDataEvent(ctx context.Context, event *futures.WsUserDataEvent, handler ports.UserDataHandler) {
	if event == nil {
		return
	}
	switch event.Event {
	case futures.UserDataEventTypeOrderTradeUpdate:
		if handler.OnExecutionReport == nil {
			return
		}
		u := event.OrderTradeUpdate
		filledQty, _ := strconv.ParseFloat(u.AccumulatedFilledQty, 64)
		avgPrice, _ := strconv.ParseFloat(u.AveragePrice, 64)
		realized, _ := strconv.ParseFloat(u.RealizedPnL, 64)
		handler.OnExecutionReport(ports.ExecutionReport{
			Symbol:        u.Symbol,
			OrderID:       u.ID,
			ClientOrderID: u.ClientOrderID,
			Status:        string(u.Status),
			Side:          string(u.Side),
			FilledQty:     filledQty,
			AvgPrice:      avgPrice,
			RealizedPnL:   realized,
		})
	case futures.UserDataEventTypeAccountUpdate:
		if handler.OnBalanceUpdate == nil {
			return
		}
		for _, bal := range event.AccountUpdate.Balances {
			balance, err := strconv.ParseFloat(bal.Balance, 64)
			if err != nil {
				c.logger.Warn(ctx, "Failed to parse balance update", map[string]interface{}{"asset": bal.Asset, "value": bal.Balance})
				continue
			}
			handler.OnBalanceUpdate(ports.BalanceUpdate{Asset: bal.Asset, Balance: balance})
		}
	case futures.UserDataEventTypeListenKeyExpired:
		c.logger.Warn(ctx, "Listen key expired, stream will reconnect")
	}
}

// translateBinanceKline converts a REST kline into the domain type.
func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

// translateOrderAck converts a create-order response into the port type.
func translateOrderAck(order *futures.CreateOrderResponse) *ports.OrderAck {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderAck{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}
