// Package decisions persists entry-admission decisions append-only.
package decisions

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/voltra/internal/domain"
	_ "modernc.org/sqlite"
)

// Store is an append-only SQLite log of volume decisions.
// Rows are never updated or deleted; the log is an audit trail.
type Store struct {
	db *sql.DB
	// mu serializes writes. Reads run on their own pooled connections so
	// an in-flight insert never blocks them.
	mu sync.Mutex
}

// NewStore opens (creating if needed) the decision log at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open decision store")
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
CREATE TABLE IF NOT EXISTS volume_decisions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp INTEGER NOT NULL,
  symbol TEXT NOT NULL,
  price REAL NOT NULL,
  volume REAL NOT NULL,
  volume_sma REAL NOT NULL,
  volume_ema REAL NOT NULL,
  vwap REAL NOT NULL,
  volume_ratio REAL NOT NULL,
  z_score REAL NOT NULL,
  trend TEXT NOT NULL,
  anomaly INTEGER NOT NULL,
  anomaly_type TEXT NOT NULL,
  decision TEXT NOT NULL,
  reason TEXT NOT NULL,
  confidence REAL NOT NULL,
  created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);`,
		`CREATE INDEX IF NOT EXISTS idx_volume_decisions_symbol ON volume_decisions(symbol);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate decision store")
		}
	}
	return nil
}

// Save appends one decision row. Failures are surfaced to the caller, who
// decides whether a failed audit write should block a trading decision.
func (s *Store) Save(ctx context.Context, d domain.VolumeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	anomaly := 0
	if d.Metrics.Anomaly {
		anomaly = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO volume_decisions
  (timestamp, symbol, price, volume, volume_sma, volume_ema, vwap,
   volume_ratio, z_score, trend, anomaly, anomaly_type, decision, reason,
   confidence, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`,
		d.Timestamp, d.Symbol, d.Price, d.Volume,
		d.Metrics.VolumeSMA, d.Metrics.VolumeEMA, d.Metrics.VWAP,
		d.Metrics.VolumeRatio, d.Metrics.ZScore, string(d.Metrics.Trend),
		anomaly, string(d.Metrics.AnomalyType), string(d.Verdict), d.Reason,
		d.Confidence, d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "insert decision")
	}
	return nil
}

// BySymbol returns the most recent decisions for a symbol, newest first.
func (s *Store) BySymbol(ctx context.Context, symbol string, limit int) ([]domain.VolumeDecision, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, symbol, price, volume, volume_sma, volume_ema, vwap,
       volume_ratio, z_score, trend, anomaly, anomaly_type, decision, reason,
       confidence, created_at
FROM volume_decisions
WHERE symbol=?
ORDER BY id DESC
LIMIT ?
`, symbol, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query decisions")
	}
	defer rows.Close()

	var out []domain.VolumeDecision
	for rows.Next() {
		var (
			d         domain.VolumeDecision
			trend     string
			anomaly   int
			anomType  string
			verdict   string
			createdAt string
		)
		if err := rows.Scan(&d.Timestamp, &d.Symbol, &d.Price, &d.Volume,
			&d.Metrics.VolumeSMA, &d.Metrics.VolumeEMA, &d.Metrics.VWAP,
			&d.Metrics.VolumeRatio, &d.Metrics.ZScore, &trend, &anomaly,
			&anomType, &verdict, &d.Reason, &d.Confidence, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan decision")
		}
		d.Metrics.Timestamp = d.Timestamp
		d.Metrics.Volume = d.Volume
		d.Metrics.Trend = domain.VolumeTrend(trend)
		d.Metrics.Anomaly = anomaly != 0
		d.Metrics.AnomalyType = domain.AnomalyType(anomType)
		d.Verdict = domain.Verdict(verdict)
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
