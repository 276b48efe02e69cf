// Package tradeexits stores realized-trade closing prices and serves the
// windowed reads the correlation engine runs on.
package tradeexits

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/voltra/internal/domain"
	_ "modernc.org/sqlite"
)

// maxHistoryRows caps a windowed read per symbol to bound computation cost.
const maxHistoryRows = 1000

// Store is the SQLite-backed trade-exit history.
// Multiple readers may acquire sessions concurrently; each session is bound
// to its own connection so a blocked caller cannot starve the others.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the trade-exit history at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open trade-exit store")
	}
	db.SetMaxOpenConns(4)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=15000;`,
		`
CREATE TABLE IF NOT EXISTS trade_exits (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  timestamp INTEGER NOT NULL,
  close_price REAL NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_exits_symbol_ts ON trade_exits(symbol, timestamp DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate trade-exit store")
		}
	}
	return nil
}

// RecordExit appends one realized-trade close observation.
// Written by the trading side; the correlation engine only reads.
func (s *Store) RecordExit(ctx context.Context, symbol string, timestamp int64, closePrice float64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trade_exits (symbol, timestamp, close_price) VALUES (?,?,?)
`, symbol, timestamp, closePrice)
	if err != nil {
		return errors.Wrapf(err, "record exit for %s", symbol)
	}
	return nil
}

// Acquire binds a session to a single connection. The call blocks until a
// connection is free or ctx expires, so callers get a bounded wait instead
// of an indefinite hang on a locked store.
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire trade-exit connection")
	}
	return &Session{conn: conn}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session is one acquired connection to the trade-exit history.
type Session struct {
	conn *sql.Conn
}

// PricePoints returns close observations for a symbol within the lookback
// window, most recent first, capped at maxHistoryRows.
func (s *Session) PricePoints(ctx context.Context, symbol string, lookback time.Duration) ([]domain.PricePoint, error) {
	since := time.Now().Add(-lookback).Unix()

	rows, err := s.conn.QueryContext(ctx, `
SELECT timestamp, close_price
FROM trade_exits
WHERE symbol=? AND timestamp >= ?
ORDER BY timestamp DESC
LIMIT ?
`, symbol, since, maxHistoryRows)
	if err != nil {
		return nil, errors.Wrapf(err, "query trade exits for %s", symbol)
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Timestamp, &p.Close); err != nil {
			return nil, errors.Wrap(err, "scan trade exit")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}
