// Package config provides the pipeline's ConfigProvider: typed
// read-only accessors over an optional override file layered on top of
// the in-code defaults named by each component. It deliberately does
// not parse any one format itself — viper supplies that — so no
// exchange credentials or secret material ever reach the component
// constructors except through these accessors.
package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Provider is the interface every component consumes for tunables.
// Components never read environment variables or files directly.
type Provider interface {
	GetString(key string, def string) string
	GetInt(key string, def int) int
	GetDuration(key string, def time.Duration) time.Duration
	GetDecimal(key string, def decimal.Decimal) decimal.Decimal
	GetBool(key string, def bool) bool
}

// FileProvider backs Provider with viper, optionally layering an
// override file (TOML/JSON/YAML, whichever extension is given) over
// the caller-supplied defaults.
type FileProvider struct {
	v      *viper.Viper
	logger *zap.Logger
}

// NewFileProvider builds a FileProvider. path may be empty, in which
// case only in-code defaults (passed at each Get call site) apply.
func NewFileProvider(logger *zap.Logger, path string) (*FileProvider, error) {
	v := viper.New()
	fp := &FileProvider{v: v, logger: logger.Named("config")}
	if path == "" {
		return fp, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	fp.logger.Info("loaded config override", zap.String("path", path))
	return fp, nil
}

func (p *FileProvider) GetString(key, def string) string {
	if p.v.IsSet(key) {
		return p.v.GetString(key)
	}
	return def
}

func (p *FileProvider) GetInt(key string, def int) int {
	if p.v.IsSet(key) {
		return p.v.GetInt(key)
	}
	return def
}

func (p *FileProvider) GetDuration(key string, def time.Duration) time.Duration {
	if p.v.IsSet(key) {
		return p.v.GetDuration(key)
	}
	return def
}

func (p *FileProvider) GetBool(key string, def bool) bool {
	if p.v.IsSet(key) {
		return p.v.GetBool(key)
	}
	return def
}

// GetDecimal reads a string-encoded decimal, falling back to def on
// absence or parse failure (logged, never fatal — a bad override value
// should not crash startup).
func (p *FileProvider) GetDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if !p.v.IsSet(key) {
		return def
	}
	raw := p.v.GetString(key)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.logger.Warn("invalid decimal override, using default",
			zap.String("key", key), zap.String("raw", raw), zap.Error(err))
		return def
	}
	return d
}

// Defaults holds every tunable named across §4 of the component
// design, resolved once at startup from a Provider. Components take a
// *Defaults rather than a raw Provider so call sites read as named
// fields instead of repeated Get calls with magic key strings.
type Defaults struct {
	// C2 Data Validator
	MaxStaleness      time.Duration
	OutlierMADWindow  int
	OutlierMADFactor  decimal.Decimal

	// C3 Feature Normaliser
	NormalizerWindow int

	// C4 Strategy Registry
	StrategyFaultThreshold int
	StrategyFaultCooldown  time.Duration

	// C5 Liquidation Detector
	CascadeThreshold    decimal.Decimal
	CascadeAction       string
	LiquidationWindow   time.Duration
	ClusteringWindow    time.Duration
	WeightVolumeSpike   decimal.Decimal
	WeightTimeCluster   decimal.Decimal
	WeightDirectional   decimal.Decimal
	WeightPriceImpact   decimal.Decimal

	// C6 Adaptive Allocator
	RebalanceInterval time.Duration
	AllocatorAlpha    decimal.Decimal
	MinWeight         decimal.Decimal
	PerformanceWindow int

	// C7 Correlation Manager
	CorrelationLookback  time.Duration
	CorrelationThreshold decimal.Decimal
	CorrelationFloor     decimal.Decimal

	// C8 Ensemble Voter
	ConfidenceThreshold   decimal.Decimal
	MinAgreeingStrategies int
	VotingMethod          string

	// C9 Risk Manager
	KellyFraction        decimal.Decimal
	PayoffRatio          decimal.Decimal
	MinProbability       decimal.Decimal
	MinPositionFraction  decimal.Decimal
	MaxPositionFraction  decimal.Decimal
	DrawdownYellow1      decimal.Decimal
	DrawdownYellow2      decimal.Decimal
	DrawdownRed          decimal.Decimal
	CircuitBreakerCooldown time.Duration

	// C10 Order Optimiser
	AggressiveThreshold decimal.Decimal
	PatientThreshold    decimal.Decimal
	SizeAwareSmall      decimal.Decimal
	SizeAwareLarge      decimal.Decimal
	TWAPMinChildren     int
	TWAPChunkSize       decimal.Decimal
	MinOrderSize        decimal.Decimal
	VolScale            decimal.Decimal
	LimitOffset         decimal.Decimal
	TickSize            decimal.Decimal
	StepSize            decimal.Decimal

	// C11 Execution Engine
	MaxExecutionTime time.Duration

	// C12 State Store
	Backend            string
	DSN                string
	CheckpointInterval time.Duration
	BackupInterval     time.Duration
	RetentionDays      int

	// C13 Pipeline Orchestrator
	TradingInterval        time.Duration
	TickBudgetFraction     decimal.Decimal
	MarketFetchTimeout     time.Duration
	SignalGenTimeout       time.Duration
	OrderSubmitTimeout     time.Duration
}

// LoadDefaults resolves every tunable from p, falling back to the
// spec's in-code default for anything the override file omits.
func LoadDefaults(p Provider) *Defaults {
	return &Defaults{
		MaxStaleness:     p.GetDuration("validator.max_staleness", 2*time.Minute),
		OutlierMADWindow: p.GetInt("validator.mad_window", 60),
		OutlierMADFactor: p.GetDecimal("validator.mad_k", decimal.NewFromInt(5)),

		NormalizerWindow: p.GetInt("normalizer.window", 252),

		StrategyFaultThreshold: p.GetInt("strategy.fault_threshold", 10),
		StrategyFaultCooldown:  p.GetDuration("strategy.fault_cooldown", 15*time.Minute),

		CascadeThreshold:  p.GetDecimal("liquidation.cascade_threshold", decimal.NewFromFloat(0.6)),
		CascadeAction:     p.GetString("liquidation.cascade_action", "REDUCE_50"),
		LiquidationWindow: p.GetDuration("liquidation.window", 5*time.Minute),
		ClusteringWindow:  p.GetDuration("liquidation.clustering_window", 60*time.Second),
		WeightVolumeSpike: p.GetDecimal("liquidation.weight_volume_spike", decimal.NewFromFloat(0.35)),
		WeightTimeCluster: p.GetDecimal("liquidation.weight_time_cluster", decimal.NewFromFloat(0.25)),
		WeightDirectional: p.GetDecimal("liquidation.weight_directional", decimal.NewFromFloat(0.20)),
		WeightPriceImpact: p.GetDecimal("liquidation.weight_price_impact", decimal.NewFromFloat(0.20)),

		RebalanceInterval: p.GetDuration("allocator.rebalance_interval", time.Hour),
		AllocatorAlpha:    p.GetDecimal("allocator.alpha", decimal.NewFromFloat(0.7)),
		MinWeight:         p.GetDecimal("allocator.min_weight", decimal.NewFromFloat(0.02)),
		PerformanceWindow: p.GetInt("allocator.performance_window", 20),

		CorrelationLookback:  p.GetDuration("correlation.lookback", 60*time.Minute),
		CorrelationThreshold: p.GetDecimal("correlation.threshold", decimal.NewFromFloat(0.7)),
		CorrelationFloor:     p.GetDecimal("correlation.penalty_floor", decimal.NewFromFloat(0.5)),

		ConfidenceThreshold:   p.GetDecimal("ensemble.confidence_threshold", decimal.NewFromFloat(0.5)),
		MinAgreeingStrategies: p.GetInt("ensemble.min_agreeing_strategies", 3),
		VotingMethod:          p.GetString("ensemble.voting_method", "weighted_average"),

		KellyFraction:          p.GetDecimal("risk.kelly_fraction", decimal.NewFromFloat(0.25)),
		PayoffRatio:            p.GetDecimal("risk.payoff_ratio", decimal.NewFromInt(1)),
		MinProbability:         p.GetDecimal("risk.min_probability", decimal.Zero),
		MinPositionFraction:    p.GetDecimal("risk.min_position_fraction", decimal.NewFromFloat(0.0)),
		MaxPositionFraction:    p.GetDecimal("risk.max_position_fraction", decimal.NewFromFloat(0.2)),
		DrawdownYellow1:        p.GetDecimal("risk.drawdown_yellow1", decimal.NewFromFloat(0.05)),
		DrawdownYellow2:        p.GetDecimal("risk.drawdown_yellow2", decimal.NewFromFloat(0.10)),
		DrawdownRed:            p.GetDecimal("risk.drawdown_red", decimal.NewFromFloat(0.15)),
		CircuitBreakerCooldown: p.GetDuration("risk.cb_cooldown", 30*time.Minute),

		AggressiveThreshold: p.GetDecimal("orderopt.aggressive_threshold", decimal.NewFromFloat(0.65)),
		PatientThreshold:    p.GetDecimal("orderopt.patient_threshold", decimal.NewFromFloat(0.35)),
		SizeAwareSmall:      p.GetDecimal("orderopt.size_aware_small", decimal.NewFromInt(1000)),
		SizeAwareLarge:      p.GetDecimal("orderopt.size_aware_large", decimal.NewFromInt(5000)),
		TWAPMinChildren:     p.GetInt("orderopt.twap_min_children", 5),
		TWAPChunkSize:       p.GetDecimal("orderopt.twap_chunk_size", decimal.NewFromInt(2000)),
		MinOrderSize:        p.GetDecimal("orderopt.min_order_size", decimal.NewFromFloat(10)),
		VolScale:            p.GetDecimal("orderopt.vol_scale", decimal.NewFromFloat(0.05)),
		LimitOffset:         p.GetDecimal("orderopt.limit_offset", decimal.NewFromFloat(0.001)),
		TickSize:            p.GetDecimal("orderopt.tick_size", decimal.NewFromFloat(0.01)),
		StepSize:            p.GetDecimal("orderopt.step_size", decimal.NewFromFloat(0.0001)),

		MaxExecutionTime: p.GetDuration("execution.max_time", 300*time.Second),

		Backend:            p.GetString("statestore.backend", "file"),
		DSN:                p.GetString("statestore.dsn", ""),
		CheckpointInterval: p.GetDuration("statestore.checkpoint_interval", 300*time.Second),
		BackupInterval:     p.GetDuration("statestore.backup_interval", time.Hour),
		RetentionDays:      p.GetInt("statestore.retention_days", 30),

		TradingInterval:    p.GetDuration("orchestrator.trading_interval", time.Minute),
		TickBudgetFraction: p.GetDecimal("orchestrator.tick_budget_fraction", decimal.NewFromFloat(0.8)),
		MarketFetchTimeout: p.GetDuration("orchestrator.market_fetch_timeout", 10*time.Second),
		SignalGenTimeout:   p.GetDuration("orchestrator.signal_gen_timeout", time.Second),
		OrderSubmitTimeout: p.GetDuration("orchestrator.order_submit_timeout", 30*time.Second),
	}
}

// TickBudget returns the wall-clock budget for one tick: §5's
// 0.8 x trading_interval.
func (d *Defaults) TickBudget() time.Duration {
	f, _ := d.TickBudgetFraction.Float64()
	return time.Duration(float64(d.TradingInterval) * f)
}
