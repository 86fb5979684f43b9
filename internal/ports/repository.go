package ports

import (
	"context"
	"time"

	"cryptoTradeEngine/internal/domain"
)

// PositionRepository is the durable storage collaborator for positions.
// Schema and indexing are the adapter's concern.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// LoadOpenPositions retrieves every position that is still live on the
	// exchange (Open or Closing), for startup reconciliation.
	LoadOpenPositions(ctx context.Context) ([]*domain.Position, error)
}

// TradeRepository appends and queries completed round trips.
type TradeRepository interface {
	// AppendTradeHistory saves a completed trade record.
	AppendTradeHistory(ctx context.Context, trade *domain.Trade) (int64, error)
	// RealizedPnLSince sums realized PnL booked at or after the given time,
	// used for the daily-loss risk check.
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// SnapshotRepository persists periodic equity snapshots for later review.
type SnapshotRepository interface {
	// SaveSnapshot appends a portfolio snapshot.
	SaveSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error
}
