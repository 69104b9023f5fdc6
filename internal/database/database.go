// Package database journals simulated fills to SQLite.
package database

import (
	"context"
	"crypto-market-depth/internal/domain"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	defaultRecentFills = 50
	maxRecentFills     = 1000
)

// Fill is one journaled slice of a simulated trade.
type Fill struct {
	ID        string          `db:"id" json:"id"`
	Exchange  string          `db:"exchange" json:"exchange"`
	Pair      string          `db:"pair" json:"pair"`
	Direction string          `db:"direction" json:"direction"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type Service interface {
	// RecordFills stores fills in one transaction.
	RecordFills(ctx context.Context, exchange, pair string, direction domain.TradeType, fills []domain.Offer) error
	// RecentFills returns the newest fills first.
	RecentFills(ctx context.Context, limit int) ([]Fill, error)
	// Health reports connection status and pool statistics.
	Health() map[string]string
	Close() error
}

type service struct {
	db  *sqlx.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id         TEXT PRIMARY KEY,
	exchange   TEXT NOT NULL,
	pair       TEXT NOT NULL,
	direction  TEXT NOT NULL,
	price      TEXT NOT NULL,
	amount     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_created_at ON fills (created_at);
`

// New opens the journal at path and creates its schema.
func New(path string) (Service, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &service{db: db, now: time.Now}, nil
}

func (s *service) RecordFills(ctx context.Context, exchange, pair string, direction domain.TradeType, fills []domain.Offer) error {
	if len(fills) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := s.now().UTC()
	for _, fill := range fills {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fills (id, exchange, pair, direction, price, amount, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), exchange, pair, direction.String(), fill.Price, fill.AmountBase, createdAt)
		if err != nil {
			return fmt.Errorf("insert fill: %w", err)
		}
	}
	return tx.Commit()
}

func (s *service) RecentFills(ctx context.Context, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = defaultRecentFills
	}
	limit = min(limit, maxRecentFills)

	fills := []Fill{}
	err := s.db.SelectContext(ctx, &fills,
		`SELECT id, exchange, pair, direction, price, amount, created_at
		 FROM fills ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	return fills, err
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	return stats
}

func (s *service) Close() error {
	return s.db.Close()
}
