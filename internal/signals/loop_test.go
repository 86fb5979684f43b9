package signals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/cooldown"
	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/events"
	"cryptoTradeEngine/internal/execution"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/positions"
	"cryptoTradeEngine/internal/prices"
	"cryptoTradeEngine/internal/risk"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockFeed struct {
	mu      sync.Mutex
	candles []*domain.Kline
}

func (m *mockFeed) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candles[len(m.candles)-1].Close, nil
}

func (m *mockFeed) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Kline, len(m.candles))
	copy(out, m.candles)
	return out, nil
}

// advance appends one more closed candle, continuing the trend.
func (m *mockFeed) advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := m.candles[len(m.candles)-1]
	step := last.CloseTime.Sub(last.OpenTime)
	m.candles = append(m.candles, &domain.Kline{
		Symbol:    last.Symbol,
		Interval:  last.Interval,
		OpenTime:  last.CloseTime,
		CloseTime: last.CloseTime.Add(step),
		Open:      last.Close,
		High:      last.Close + 1,
		Low:       last.Close,
		Close:     last.Close + 1,
		Volume:    10,
	})
}

// advanceFlat appends one more closed candle that keeps the tail churning
// between two prices instead of trending.
func (m *mockFeed) advanceFlat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := m.candles[len(m.candles)-1]
	step := last.CloseTime.Sub(last.OpenTime)
	next := 100.0
	if last.Close == 100 {
		next = 101
	}
	m.candles = append(m.candles, &domain.Kline{
		Symbol:    last.Symbol,
		Interval:  last.Interval,
		OpenTime:  last.CloseTime,
		CloseTime: last.CloseTime.Add(step),
		Open:      last.Close,
		High:      101,
		Low:       100,
		Close:     next,
		Volume:    10,
	})
}

type mockConsensus struct {
	mu        sync.Mutex
	calls     int
	direction domain.PositionSide
	conf      float64
	neutral   bool
}

func (m *mockConsensus) Name() string            { return "mock" }
func (m *mockConsensus) RequiredDataPoints() int { return 10 }

func (m *mockConsensus) Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.neutral {
		return nil
	}
	last := klines[len(klines)-1]
	return &domain.Signal{
		Symbol:      last.Symbol,
		Direction:   m.direction,
		Confidence:  m.conf,
		FirstSeenAt: last.CloseTime,
	}
}

func (m *mockConsensus) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockGateway struct {
	mu         sync.Mutex
	placeCalls int
}

func (m *mockGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, clientOrderID string) (*ports.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeCalls++
	return &ports.OrderAck{OrderID: int64(m.placeCalls), AvgPrice: 100, Status: "FILLED"}, nil
}

func (m *mockGateway) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls
}

func (m *mockGateway) SetServerTime(ctx context.Context) error                       { return nil }
func (m *mockGateway) SetLeverage(ctx context.Context, symbol string, lev int) error { return nil }
func (m *mockGateway) Ping(ctx context.Context) error                                { return nil }
func (m *mockGateway) GetBalances(ctx context.Context, asset string) (ports.Balances, error) {
	return ports.Balances{Free: 10000}, nil
}
func (m *mockGateway) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	return nil, nil
}
func (m *mockGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderAck, error) {
	return &ports.OrderAck{}, nil
}
func (m *mockGateway) StreamUserData(ctx context.Context, handler ports.UserDataHandler, errHandler func(error)) (chan struct{}, error) {
	return make(chan struct{}), nil
}

type mockPositionRepo struct{ nextID int64 }

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	m.nextID++
	return m.nextID, nil
}
func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error { return nil }
func (m *mockPositionRepo) LoadOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}

type mockTradeRepo struct{}

func (m *mockTradeRepo) AppendTradeHistory(ctx context.Context, trade *domain.Trade) (int64, error) {
	return 1, nil
}
func (m *mockTradeRepo) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Symbols:               []string{"BTCUSDT"},
		Timeframes:            []string{"1m"},
		QuoteAsset:            "USDT",
		AutoTradingEnabled:    true,
		Quantity:              0.1,
		Leverage:              2,
		LeverageCap:           10,
		StopLossPct:           0.01,
		TakeProfitPct:         0.02,
		MinSignalConfidence:   0.6,
		ConfirmationDelay:     90 * time.Second,
		WarmupCandles:         50,
		CorrelationLimitPct:   70.0,
		MaxPortfolioRiskPct:   2.0,
		DailyLossLimitPct:     5.0,
		CooldownLossThreshold: 3,
		CooldownDuration:      time.Hour,
		RetryBaseDelay:        time.Millisecond,
		RetryMaxDelay:         5 * time.Millisecond,
		RetryMaxAttempts:      2,
	}
}

// trendingKlines builds a monotonic price series, which the efficiency-ratio
// regime detector reads as a clean trend.
func trendingKlines(n int, start time.Time) []*domain.Kline {
	out := make([]*domain.Kline, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * time.Minute)
		out = append(out, &domain.Kline{
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			OpenTime:  open,
			CloseTime: open.Add(time.Minute),
			Open:      price,
			High:      price + 1,
			Low:       price,
			Close:     price + 1,
			Volume:    10,
		})
		price++
	}
	return out
}

type loopHarness struct {
	loop      *Loop
	feed      *mockFeed
	consensus *mockConsensus
	gw        *mockGateway
	store     *positions.Store
}

func newLoopHarness(t *testing.T, cfg *config.Config, candleCount int) *loopHarness {
	t.Helper()
	logger := &mockLogger{}
	cfgStore := config.NewStore(cfg)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	feed := &mockFeed{candles: trendingKlines(candleCount, start)}
	consensus := &mockConsensus{direction: domain.Long, conf: 0.9}
	gw := &mockGateway{}
	store := positions.NewStore()
	cache := prices.NewCache()
	tracker := cooldown.NewTracker(cfg.CooldownLossThreshold, cfg.CooldownDuration)
	bus := events.NewBus(logger)

	gate, err := risk.NewGate(cfgStore, tracker, store, cache, gw, &mockTradeRepo{}, bus, logger)
	require.NoError(t, err)
	coord, err := execution.NewCoordinator(cfgStore, gw, store, &mockPositionRepo{}, &mockTradeRepo{}, tracker, bus, logger)
	require.NoError(t, err)

	chop := NewChopDetector(10, 0.3)
	loop, err := NewLoop(cfgStore, feed, consensus, chop, gate, coord, cache, logger)
	require.NoError(t, err)
	return &loopHarness{loop: loop, feed: feed, consensus: consensus, gw: gw, store: store}
}

func TestTickSkipsBelowWarmup(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 40) // 39 closed candles, below 50

	h.loop.Tick(context.Background())
	h.feed.advance()
	h.loop.Tick(context.Background())

	assert.Equal(t, 0, h.consensus.callCount(), "no evaluation below warmup")
	assert.Equal(t, 0, h.gw.calls())
}

func TestFirstObservationIsBaseline(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 60)

	h.loop.Tick(context.Background())
	assert.Equal(t, 0, h.consensus.callCount(), "the cold-start observation must never fire")

	// The same closed candle on a second pass is not an advance either.
	h.loop.Tick(context.Background())
	assert.Equal(t, 0, h.consensus.callCount())
}

func TestConfirmationRequiresIndependentDelayedAgreement(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 60)
	ctx := context.Background()

	h.loop.Tick(ctx) // baseline

	h.feed.advance()
	h.loop.Tick(ctx) // first sighting, held pending
	assert.Equal(t, 1, h.consensus.callCount())
	assert.Equal(t, 0, h.gw.calls(), "an unconfirmed signal must not trade")

	h.feed.advance()
	h.loop.Tick(ctx) // +60s, inside the 90s confirmation window
	assert.Equal(t, 2, h.consensus.callCount())
	assert.Equal(t, 0, h.gw.calls(), "reconfirmation inside the delay must not trade")

	h.feed.advance()
	h.loop.Tick(ctx) // +120s, past the window, same direction
	assert.Equal(t, 3, h.consensus.callCount())
	assert.Equal(t, 1, h.gw.calls(), "confirmed signal should submit exactly one entry")

	pos, ok := h.store.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StatusOpen, pos.Status)
}

func TestDirectionFlipRestartsConfirmation(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 60)
	ctx := context.Background()

	h.loop.Tick(ctx) // baseline
	h.feed.advance()
	h.loop.Tick(ctx) // Long pending

	h.consensus.mu.Lock()
	h.consensus.direction = domain.Short
	h.consensus.mu.Unlock()

	h.feed.advance()
	h.loop.Tick(ctx) // flip: Short replaces the pending Long
	h.feed.advance()
	h.loop.Tick(ctx) // +60s after the flip, still inside the window
	assert.Equal(t, 0, h.gw.calls(), "a direction flip must restart the confirmation clock")
}

func TestLowConfidenceNeverReachesGate(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 60)
	h.consensus.conf = 0.3
	ctx := context.Background()

	h.loop.Tick(ctx)
	h.feed.advance()
	h.loop.Tick(ctx)

	assert.Equal(t, 1, h.consensus.callCount())
	assert.Equal(t, 0, h.gw.calls())
	h.loop.mu.Lock()
	assert.Empty(t, h.loop.pending, "a low-confidence signal must not be held pending")
	h.loop.mu.Unlock()
}

func TestNeutralClearsPending(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 60)
	ctx := context.Background()

	h.loop.Tick(ctx)
	h.feed.advance()
	h.loop.Tick(ctx) // Long pending

	h.consensus.mu.Lock()
	h.consensus.neutral = true
	h.consensus.mu.Unlock()

	h.feed.advance()
	h.loop.Tick(ctx)

	h.loop.mu.Lock()
	assert.Empty(t, h.loop.pending, "a neutral evaluation must clear the pending signal")
	h.loop.mu.Unlock()
}

func TestLongOnlyRejectsShortSignals(t *testing.T) {
	cfg := testConfig()
	cfg.LongOnly = true
	h := newLoopHarness(t, cfg, 60)
	h.consensus.direction = domain.Short
	ctx := context.Background()

	h.loop.Tick(ctx)
	for i := 0; i < 4; i++ {
		h.feed.advance()
		h.loop.Tick(ctx)
	}

	assert.Equal(t, 0, h.gw.calls(), "short signals must never trade in long-only mode")
}

func TestAutoTradingDisabledStillRecordsCandles(t *testing.T) {
	cfg := testConfig()
	cfg.AutoTradingEnabled = false
	h := newLoopHarness(t, cfg, 60)
	ctx := context.Background()

	h.loop.Tick(ctx)
	h.feed.advance()
	h.loop.Tick(ctx)

	assert.Equal(t, 0, h.consensus.callCount(), "no evaluation while auto trading is off")

	h.loop.mu.Lock()
	_, seen := h.loop.lastClosed["BTCUSDT"]
	h.loop.mu.Unlock()
	assert.True(t, seen, "candle bookkeeping must continue while trading is off")
}

func TestChoppyRegimeBlocksEntries(t *testing.T) {
	h := newLoopHarness(t, testConfig(), 60)
	ctx := context.Background()

	h.loop.Tick(ctx) // baseline

	// Flatten the tail: alternate closes so net movement collapses while
	// travel stays high, driving the efficiency ratio to near zero.
	h.feed.mu.Lock()
	for i := len(h.feed.candles) - 15; i < len(h.feed.candles); i++ {
		if i%2 == 0 {
			h.feed.candles[i].Close = 100
		} else {
			h.feed.candles[i].Close = 101
		}
	}
	h.feed.mu.Unlock()

	for i := 0; i < 4; i++ {
		h.feed.advanceFlat()
		h.loop.Tick(ctx)
	}

	assert.Positive(t, h.consensus.callCount(), "evaluation still runs in a choppy regime")
	assert.Equal(t, 0, h.gw.calls(), "choppy regime must block entries")
}
