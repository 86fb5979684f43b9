package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository, ports.TradeRepository and
// ports.SnapshotRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_engine.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		status TEXT NOT NULL,
		realized_pnl REAL DEFAULT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		entry_order_id TEXT DEFAULT NULL,
		close_order_id TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS equity_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		free_balance REAL NOT NULL,
		locked_balance REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		taken_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trade_history_exit_time ON trade_history (exit_time);
	CREATE INDEX IF NOT EXISTS idx_equity_snapshots_taken_at ON equity_snapshots (taken_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, entry_price, quantity, leverage, stop_loss,
	                       take_profit, status, opened_at, entry_order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.EntryPrice, pos.Quantity, pos.Leverage, pos.StopLoss,
		pos.TakeProfit, pos.Status, pos.OpenedAt, pos.EntryOrderID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET entry_price = ?, exit_price = ?, quantity = ?, leverage = ?, stop_loss = ?,
	    take_profit = ?, status = ?, realized_pnl = ?, closed_at = ?, close_reason = ?,
	    entry_order_id = ?, close_order_id = ?
	WHERE id = ?`

	var closedAt sql.NullTime
	if !pos.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: pos.ClosedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.EntryPrice, pos.ExitPrice, pos.Quantity, pos.Leverage, pos.StopLoss,
		pos.TakeProfit, pos.Status, pos.RealizedPnL, closedAt, pos.CloseReason,
		pos.EntryOrderID, pos.CloseOrderID,
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "status": pos.Status})
	return nil
}

// LoadOpenPositions retrieves every position that is still live on the
// exchange, for startup reconciliation.
func (r *Repository) LoadOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, symbol, side, entry_price, COALESCE(exit_price, 0), quantity, leverage,
	       stop_loss, take_profit, status, COALESCE(realized_pnl, 0), opened_at, closed_at,
	       close_reason, COALESCE(entry_order_id, ''), COALESCE(close_order_id, '')
	FROM positions
	WHERE status IN (?, ?)
	ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen, domain.StatusClosing)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during LoadOpenPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- TradeRepository Implementation ---

// AppendTradeHistory saves a completed trade record and returns its ID.
func (r *Repository) AppendTradeHistory(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (position_id, symbol, side, entry_price, exit_price,
	                           quantity, leverage, pnl, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var positionID sql.NullInt64
	if trade.PositionID != 0 {
		positionID = sql.NullInt64{Int64: trade.PositionID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		positionID, trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.Leverage, trade.PNL, trade.EntryTime, trade.ExitTime, trade.CloseReason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// RealizedPnLSince sums realized PnL booked at or after the given time.
func (r *Repository) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_history WHERE exit_time >= ?`
	var total float64
	err := r.db.QueryRowContext(ctx, query, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized PnL since %s: %w", since.Format(time.RFC3339), err)
	}
	return total, nil
}

// --- SnapshotRepository Implementation ---

// SaveSnapshot appends a portfolio snapshot.
func (r *Repository) SaveSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	const query = `
	INSERT INTO equity_snapshots (free_balance, locked_balance, unrealized_pnl, taken_at)
	VALUES (?, ?, ?, ?)`

	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		snap.FreeBalance, snap.LockedBalance, snap.UnrealizedPnLTotal, takenAt)
	if err != nil {
		return fmt.Errorf("failed to insert equity snapshot: %w", err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var closedAt sql.NullTime
	var status, side string
	var closeReason sql.NullString
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.ExitPrice, &p.Quantity, &p.Leverage,
		&p.StopLoss, &p.TakeProfit, &status, &p.RealizedPnL, &p.OpenedAt, &closedAt,
		&closeReason, &p.EntryOrderID, &p.CloseOrderID)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}
