// Package config loads and validates the risk core configuration.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vadiminshakov/voltra/internal/domain"
	"github.com/vadiminshakov/voltra/internal/services/volume"
	"gopkg.in/yaml.v3"
)

const (
	defaultInterval     = "1h"
	defaultPollInterval = 5 * time.Minute

	defaultDecisionDB  = "data/decisions.db"
	defaultTradeExitDB = "data/trades.db"
	defaultWALDir      = "./wal/volume"

	defaultCorrelationThreshold = 0.8
	defaultLookbackDays         = 30
	defaultRiskFraction         = 0.02
	defaultQuoteBalance         = 10000
)

var supportedIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "12h": {},
	"1d": {}, "1w": {},
}

// PairConfig configures analytics for a single trading pair.
type PairConfig struct {
	// Platform is the exchange the candles come from ("binance" or "bybit").
	Platform string
	Pair     domain.Pair
	// Interval is the candle timeframe, e.g. "1h".
	Interval string
	// PollInterval is how often new candles are fetched.
	PollInterval time.Duration
	// Analyzer tunes the rolling volume windows.
	Analyzer volume.AnalyzerConfig
	// Filter is the admission policy for this pair.
	Filter volume.FilterPolicy
}

// Config is the full application configuration.
type Config struct {
	// DecisionDB is the SQLite path of the append-only decision log.
	DecisionDB string
	// TradeExitDB is the SQLite path of the trade-exit history.
	TradeExitDB string
	// WALDir is where analyzer state journals live.
	WALDir string
	// CorrelationThreshold triggers high-correlation alerts.
	CorrelationThreshold float64
	// LookbackDays is the correlation history window.
	LookbackDays int
	// RiskFraction is the fraction of balance risked per position.
	RiskFraction float64
	// QuoteBalance is the notional quote-currency balance sizing
	// recommendations are computed against.
	QuoteBalance float64
	Pairs        []PairConfig
}

type pairConfigTmp struct {
	Platform     string                `yaml:"platform"`
	Pair         string                `yaml:"pair"`
	Interval     string                `yaml:"interval"`
	PollInterval time.Duration         `yaml:"poll_interval"`
	Analyzer     volume.AnalyzerConfig `yaml:"analyzer"`
	Filter       volume.FilterPolicy   `yaml:"filter"`
}

type configTmp struct {
	DecisionDB           string          `yaml:"decision_db"`
	TradeExitDB          string          `yaml:"trade_exit_db"`
	WALDir               string          `yaml:"wal_dir"`
	CorrelationThreshold float64         `yaml:"correlation_threshold"`
	LookbackDays         int             `yaml:"lookback_days"`
	RiskFraction         float64         `yaml:"risk_fraction"`
	QuoteBalance         float64         `yaml:"quote_balance"`
	Pairs                []pairConfigTmp `yaml:"pairs"`
}

// Get loads configuration from the YAML file named by the -config flag,
// falling back to CLI flags for a single pair.
func Get() (*Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	pairFlag := flag.String("pair", "BTC_USDT", "trade pair, example: BTC_USDT")
	platformFlag := flag.String("platform", "binance", "exchange platform: binance or bybit")
	intervalFlag := flag.String("interval", defaultInterval, "candle interval, example: 1h")
	pollFlag := flag.Duration("pollinterval", defaultPollInterval, "poll candles interval")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	pair, err := getPairFromString(*pairFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid --pair provided, --pair=%s", *pairFlag)
	}

	cfg := &Config{
		Pairs: []PairConfig{{
			Platform:     *platformFlag,
			Pair:         pair,
			Interval:     *intervalFlag,
			PollInterval: *pollFlag,
		}},
	}
	cfg.applyDefaults()

	return cfg, cfg.validate()
}

func getYaml(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp configTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}

	cfg := &Config{
		DecisionDB:           tmp.DecisionDB,
		TradeExitDB:          tmp.TradeExitDB,
		WALDir:               tmp.WALDir,
		CorrelationThreshold: tmp.CorrelationThreshold,
		LookbackDays:         tmp.LookbackDays,
		RiskFraction:         tmp.RiskFraction,
		QuoteBalance:         tmp.QuoteBalance,
	}

	for _, p := range tmp.Pairs {
		pair, err := getPairFromString(p.Pair)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'pair' param in yaml config: %s, error: %w", p.Pair, err)
		}

		cfg.Pairs = append(cfg.Pairs, PairConfig{
			Platform:     p.Platform,
			Pair:         pair,
			Interval:     p.Interval,
			PollInterval: p.PollInterval,
			Analyzer:     p.Analyzer,
			Filter:       p.Filter,
		})
	}

	cfg.applyDefaults()

	return cfg, cfg.validate()
}

func (c *Config) applyDefaults() {
	if c.DecisionDB == "" {
		c.DecisionDB = defaultDecisionDB
	}
	if c.TradeExitDB == "" {
		c.TradeExitDB = defaultTradeExitDB
	}
	if c.WALDir == "" {
		c.WALDir = defaultWALDir
	}
	if c.CorrelationThreshold <= 0 {
		c.CorrelationThreshold = defaultCorrelationThreshold
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = defaultLookbackDays
	}
	if c.RiskFraction <= 0 {
		c.RiskFraction = defaultRiskFraction
	}
	if c.QuoteBalance <= 0 {
		c.QuoteBalance = defaultQuoteBalance
	}

	for i := range c.Pairs {
		if c.Pairs[i].Platform == "" {
			c.Pairs[i].Platform = "binance"
		}
		if c.Pairs[i].Interval == "" {
			c.Pairs[i].Interval = defaultInterval
		}
		if c.Pairs[i].PollInterval <= 0 {
			c.Pairs[i].PollInterval = defaultPollInterval
		}
	}
}

func (c *Config) validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one pair must be configured")
	}

	for _, p := range c.Pairs {
		switch p.Platform {
		case "binance", "bybit":
		default:
			return fmt.Errorf("unsupported platform %q for pair %s", p.Platform, p.Pair.String())
		}

		if _, ok := supportedIntervals[p.Interval]; !ok {
			return fmt.Errorf("invalid interval %q for pair %s", p.Interval, p.Pair.String())
		}

		if err := p.Filter.Validate(); err != nil {
			return fmt.Errorf("invalid filter policy for pair %s: %w", p.Pair.String(), err)
		}
	}

	return nil
}

func getPairFromString(pairStr string) (domain.Pair, error) {
	pairElements := strings.Split(pairStr, "_")
	if len(pairElements) != 2 {
		return domain.Pair{}, fmt.Errorf("invalid pair format: %s", pairStr)
	}

	return domain.Pair{From: pairElements[0], To: pairElements[1]}, nil
}
