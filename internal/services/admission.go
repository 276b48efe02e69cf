// Package services wires candle collection, volume analytics and decision
// persistence into the entry-admission loop.
package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/voltra/internal/domain"
	"github.com/vadiminshakov/voltra/internal/services/collector"
	"github.com/vadiminshakov/voltra/internal/services/volume"
	"go.uber.org/zap"
)

const (
	analyzerStateKey = "volume_state"

	walSegmentThreshold = 1000
	walMaxSegments      = 100

	// defaultBatchLimit is how many candles are requested per poll; deep
	// enough to warm the rolling windows after a cold start.
	defaultBatchLimit = 100
)

// DecisionStore persists admission decisions append-only.
type DecisionStore interface {
	Save(ctx context.Context, decision domain.VolumeDecision) error
}

// PositionSizer recommends a volatility-adjusted size for admitted entries.
type PositionSizer interface {
	Volatility(ctx context.Context, pair domain.Pair, interval string, limit int) (float64, error)
	Recommend(balance decimal.Decimal, riskFraction, atrPct float64) domain.SizeRecommendation
}

// AdmissionService polls candles for one trading pair, runs them through the
// volume analyzer and filter, and persists every decision. Analyzer state is
// journaled to a WAL so rolling statistics survive restarts.
type AdmissionService struct {
	pair         domain.Pair
	interval     string
	pollInterval time.Duration
	batchLimit   int

	provider collector.KlineProvider
	analyzer *volume.Analyzer
	filter   *volume.Filter
	store    DecisionStore
	wal      *gowal.Wal
	logger   *zap.Logger

	// sizing is optional; when attached, every admitted entry also gets a
	// logged size recommendation.
	sizer        PositionSizer
	balance      decimal.Decimal
	riskFraction float64
}

// NewAdmissionService creates the admission loop for one pair and recovers
// analyzer state from the WAL directory when present.
func NewAdmissionService(logger *zap.Logger, pair domain.Pair, interval string, pollInterval time.Duration,
	provider collector.KlineProvider, analyzer *volume.Analyzer, filter *volume.Filter,
	store DecisionStore, walDir string) (*AdmissionService, error) {

	walCfg := gowal.Config{
		Dir:              walDir,
		Prefix:           "volume_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(walCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create analyzer state WAL")
	}

	stateKey := analyzerStateKey + "_" + pair.Symbol()
	for msg := range wal.Iterator() {
		if msg.Key != stateKey {
			continue
		}
		var state volume.AnalyzerState
		if err := json.Unmarshal(msg.Value, &state); err != nil {
			logger.Error("failed to unmarshal analyzer state", zap.Error(err))
			continue
		}
		analyzer.RestoreState(state)
	}

	return &AdmissionService{
		pair:         pair,
		interval:     interval,
		pollInterval: pollInterval,
		batchLimit:   defaultBatchLimit,
		provider:     provider,
		analyzer:     analyzer,
		filter:       filter,
		store:        store,
		wal:          wal,
		logger:       logger,
	}, nil
}

// AttachSizer enables size recommendations for admitted entries against a
// notional quote balance.
func (s *AdmissionService) AttachSizer(sizer PositionSizer, balance decimal.Decimal, riskFraction float64) {
	s.sizer = sizer
	s.balance = balance
	s.riskFraction = riskFraction
}

// Run polls the kline provider until the context is cancelled.
func (s *AdmissionService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ProcessOnce(ctx); err != nil {
				s.logger.Error("admission cycle failed",
					zap.String("pair", s.pair.String()), zap.Error(err))
			}
		}
	}
}

// ProcessOnce fetches the latest candles and processes every closed candle
// the analyzer has not seen yet.
func (s *AdmissionService) ProcessOnce(ctx context.Context) error {
	candles, err := s.provider.GetKlines(ctx, s.pair, s.interval, s.batchLimit)
	if err != nil {
		return errors.Wrapf(err, "fetch klines for %s", s.pair.String())
	}
	if len(candles) < 2 {
		return nil
	}

	// the newest candle is still forming, only closed candles are analyzed
	for _, candle := range candles[:len(candles)-1] {
		if _, err := s.ProcessCandle(ctx, candle); err != nil {
			if errors.Is(err, volume.ErrOutOfOrderCandle) {
				// already ingested on a previous poll
				continue
			}
			return err
		}
	}

	return s.journalState()
}

// ProcessCandle runs one candle through the analyzer and filter, persists
// the decision and returns it. A failed audit write is surfaced, not
// suppressed: the caller decides whether it blocks the trading decision.
func (s *AdmissionService) ProcessCandle(ctx context.Context, candle domain.Candle) (domain.VolumeDecision, error) {
	metrics, err := s.analyzer.Ingest(candle)
	if err != nil {
		return domain.VolumeDecision{}, err
	}

	decision := s.filter.MakeDecision(candle, metrics, s.pair.Symbol())

	if decision.Allowed() {
		s.logger.Info("entry admitted",
			zap.String("pair", s.pair.String()),
			zap.Float64("price", decision.Price),
			zap.Float64("volume_ratio", metrics.VolumeRatio),
			zap.Float64("confidence", decision.Confidence))
		s.recommendSize(ctx)
	} else {
		s.logger.Debug("entry rejected",
			zap.String("pair", s.pair.String()),
			zap.String("reason", decision.Reason),
			zap.Float64("confidence", decision.Confidence))
	}

	if metrics.Anomaly {
		s.logger.Warn("volume anomaly detected",
			zap.String("pair", s.pair.String()),
			zap.String("type", string(metrics.AnomalyType)),
			zap.Float64("z_score", metrics.ZScore))
	}

	if err := s.store.Save(ctx, decision); err != nil {
		return decision, errors.Wrap(err, "persist decision")
	}

	return decision, nil
}

// recommendSize logs a volatility-adjusted size for the pair. Sizing is
// advisory; its failure never blocks the admission decision.
func (s *AdmissionService) recommendSize(ctx context.Context) {
	if s.sizer == nil {
		return
	}

	atrPct, err := s.sizer.Volatility(ctx, s.pair, s.interval, s.batchLimit)
	if err != nil {
		s.logger.Warn("volatility computation failed",
			zap.String("pair", s.pair.String()), zap.Error(err))
		return
	}

	rec := s.sizer.Recommend(s.balance, s.riskFraction, atrPct)
	s.logger.Info("size recommendation",
		zap.String("pair", s.pair.String()),
		zap.String("recommended_size", rec.RecommendedSize.String()),
		zap.Float64("volatility_factor", rec.VolatilityFactor),
		zap.Float64("atr_pct", rec.VolatilityMetric))
}

// journalState writes the analyzer snapshot to the WAL.
func (s *AdmissionService) journalState() error {
	state := s.analyzer.Snapshot()
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal analyzer state")
	}

	key := analyzerStateKey + "_" + s.pair.Symbol()
	if err := s.wal.Write(s.wal.CurrentIndex()+1, key, data); err != nil {
		return errors.Wrap(err, "journal analyzer state")
	}
	return nil
}

// Close releases the WAL.
func (s *AdmissionService) Close() error {
	return s.wal.Close()
}
