package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mint TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			status TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			invested TEXT NOT NULL,
			reserved TEXT NOT NULL,
			proceeds TEXT NOT NULL,
			multiplier REAL NOT NULL,
			reason TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_position_history_mint ON position_history(mint);`,
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id TEXT PRIMARY KEY,
			mint TEXT NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT,
			detail TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_mint ON lifecycle_events(mint);`,
		`CREATE TABLE IF NOT EXISTS ledger_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			total TEXT NOT NULL,
			locked TEXT NOT NULL,
			peak TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	query := `INSERT INTO position_history (mint, strategy_id, status, entry_price, exit_price, invested, reserved, proceeds, multiplier, reason, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		h.Mint, h.StrategyID, string(h.Status), h.EntryPrice, h.ExitPrice,
		h.Invested.String(), h.Reserved.String(), h.Proceeds.String(),
		h.Multiplier, h.Reason, h.OpenedAt, h.ClosedAt)
	return err
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, mint, strategy_id, status, entry_price, exit_price, invested, reserved, proceeds, multiplier, reason, opened_at, closed_at
			  FROM position_history ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PositionHistory
	for rows.Next() {
		var (
			h                            domain.PositionHistory
			status                       string
			invested, reserved, proceeds string
		)
		if err := rows.Scan(&h.ID, &h.Mint, &h.StrategyID, &status, &h.EntryPrice, &h.ExitPrice,
			&invested, &reserved, &proceeds, &h.Multiplier, &h.Reason, &h.OpenedAt, &h.ClosedAt); err != nil {
			return nil, err
		}
		h.Status = domain.PositionStatus(status)
		if h.Invested, err = decimal.NewFromString(invested); err != nil {
			return nil, fmt.Errorf("bad invested amount %q: %w", invested, err)
		}
		if h.Reserved, err = decimal.NewFromString(reserved); err != nil {
			return nil, fmt.Errorf("bad reserved amount %q: %w", reserved, err)
		}
		if h.Proceeds, err = decimal.NewFromString(proceeds); err != nil {
			return nil, fmt.Errorf("bad proceeds amount %q: %w", proceeds, err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, e *domain.LifecycleEvent) error {
	query := `INSERT INTO lifecycle_events (id, mint, kind, reason, detail, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Mint, e.Kind, e.Reason, e.Detail, e.CreatedAt)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]*domain.LifecycleEvent, error) {
	query := `SELECT id, mint, kind, reason, detail, created_at FROM lifecycle_events ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LifecycleEvent
	for rows.Next() {
		var e domain.LifecycleEvent
		if err := rows.Scan(&e.ID, &e.Mint, &e.Kind, &e.Reason, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveLedgerSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error {
	query := `INSERT INTO ledger_snapshots (total, locked, peak, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		snap.Total.String(), snap.Locked.String(), snap.Peak.String(), snap.At)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
