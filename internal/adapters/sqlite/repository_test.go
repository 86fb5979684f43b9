package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func openPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:       symbol,
		Side:         domain.Long,
		EntryPrice:   2000.0,
		Quantity:     1.0,
		Leverage:     4,
		StopLoss:     1980.0,
		TakeProfit:   2040.0,
		Status:       domain.StatusOpen,
		OpenedAt:     time.Now().UTC().Truncate(time.Second),
		EntryOrderID: "entry-1",
	}
}

func TestRepository_CreateAndLoadRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := openPosition("ETHUSDT")
	id, err := repo.Create(ctx, pos)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, pos.ID)

	loaded, err := repo.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, pos.ID, got.ID)
	assert.Equal(t, "ETHUSDT", got.Symbol)
	assert.Equal(t, domain.Long, got.Side)
	assert.Equal(t, pos.EntryPrice, got.EntryPrice)
	assert.Equal(t, pos.StopLoss, got.StopLoss)
	assert.Equal(t, pos.TakeProfit, got.TakeProfit)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.Equal(t, "entry-1", got.EntryOrderID)
	assert.True(t, got.ClosedAt.IsZero())
}

func TestRepository_UpdateClosesPosition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := openPosition("ETHUSDT")
	_, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	pos.Status = domain.StatusClosed
	pos.ExitPrice = 2040.0
	pos.RealizedPnL = 40.0
	pos.ClosedAt = time.Now().UTC().Truncate(time.Second)
	pos.CloseReason = domain.CloseReasonTakeProfit
	pos.CloseOrderID = "close-1"
	require.NoError(t, repo.Update(ctx, pos))

	// A closed position no longer counts as live.
	loaded, err := repo.LoadOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRepository_UpdateUnknownIDIsNotFound(t *testing.T) {
	repo := setupTestDB(t)

	pos := openPosition("ETHUSDT")
	pos.ID = 9999
	err := repo.Update(context.Background(), pos)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestRepository_LoadOpenPositionsIncludesClosing(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	open := openPosition("ETHUSDT")
	_, err := repo.Create(ctx, open)
	require.NoError(t, err)

	closing := openPosition("BTCUSDT")
	closing.Status = domain.StatusClosing
	_, err = repo.Create(ctx, closing)
	require.NoError(t, err)

	failed := openPosition("SOLUSDT")
	failed.Status = domain.StatusFailed
	_, err = repo.Create(ctx, failed)
	require.NoError(t, err)

	loaded, err := repo.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	symbols := map[string]domain.PositionStatus{}
	for _, p := range loaded {
		symbols[p.Symbol] = p.Status
	}
	assert.Equal(t, domain.StatusOpen, symbols["ETHUSDT"])
	assert.Equal(t, domain.StatusClosing, symbols["BTCUSDT"])
	assert.NotContains(t, symbols, "SOLUSDT")
}

func TestRepository_TradeHistoryAndRealizedPnL(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	trades := []*domain.Trade{
		{Symbol: "ETHUSDT", Side: domain.Long, EntryPrice: 2000, ExitPrice: 2040, Quantity: 1, Leverage: 4, PNL: 40, EntryTime: now.Add(-3 * time.Hour), ExitTime: now.Add(-2 * time.Hour), CloseReason: domain.CloseReasonTakeProfit},
		{Symbol: "ETHUSDT", Side: domain.Long, EntryPrice: 2040, ExitPrice: 2020, Quantity: 1, Leverage: 4, PNL: -20, EntryTime: now.Add(-2 * time.Hour), ExitTime: now.Add(-time.Hour), CloseReason: domain.CloseReasonStopLoss},
		{Symbol: "BTCUSDT", Side: domain.Short, EntryPrice: 30000, ExitPrice: 30100, Quantity: 0.1, Leverage: 4, PNL: -10, EntryTime: now.Add(-48 * time.Hour), ExitTime: now.Add(-30 * time.Hour), CloseReason: domain.CloseReasonManual},
	}
	for _, tr := range trades {
		id, err := repo.AppendTradeHistory(ctx, tr)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	// Only the two trades booked within the window count.
	total, err := repo.RealizedPnLSince(ctx, now.Add(-4*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 20.0, total, 1e-9)

	// An empty window sums to zero rather than erroring.
	total, err = repo.RealizedPnLSince(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRepository_SaveSnapshot(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	err := repo.SaveSnapshot(ctx, domain.PortfolioSnapshot{
		FreeBalance:        1000,
		LockedBalance:      250,
		UnrealizedPnLTotal: -12.5,
		TakenAt:            time.Now().UTC(),
	})
	require.NoError(t, err)

	// Zero TakenAt is stamped on write rather than persisted as zero.
	err = repo.SaveSnapshot(ctx, domain.PortfolioSnapshot{FreeBalance: 1000})
	require.NoError(t, err)

	var count int
	var earliest time.Time
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(taken_at) FROM equity_snapshots`).Scan(&count, &earliest))
	assert.Equal(t, 2, count)
	assert.False(t, earliest.IsZero())
}
