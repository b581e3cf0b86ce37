package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasquant/tradecore/internal/allocator"
	"github.com/atlasquant/tradecore/internal/config"
	"github.com/atlasquant/tradecore/internal/correlation"
	"github.com/atlasquant/tradecore/internal/ensemble"
	"github.com/atlasquant/tradecore/internal/events"
	"github.com/atlasquant/tradecore/internal/execution"
	"github.com/atlasquant/tradecore/internal/httpapi"
	"github.com/atlasquant/tradecore/internal/liquidation"
	"github.com/atlasquant/tradecore/internal/marketfeed"
	"github.com/atlasquant/tradecore/internal/normalizer"
	"github.com/atlasquant/tradecore/internal/orchestrator"
	"github.com/atlasquant/tradecore/internal/orderopt"
	"github.com/atlasquant/tradecore/internal/risk"
	"github.com/atlasquant/tradecore/internal/statestore"
	"github.com/atlasquant/tradecore/internal/strategy"
	"github.com/atlasquant/tradecore/internal/validator"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		dataDir    string
		paper      bool
		symbols    []string
		venueWSURL string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading pipeline",
		RunE: func(c *cobra.Command, args []string) error {
			logger, err := setupLogger(logLevel)
			if err != nil {
				return fatalInit(err)
			}
			defer logger.Sync()

			return runPipeline(c.Context(), logger, runOptions{
				configPath: configPath,
				host:       host,
				port:       port,
				dataDir:    dataDir,
				paper:      paper,
				symbols:    symbols,
				venueWSURL: venueWSURL,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to an override config file")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "status server bind host")
	cmd.Flags().IntVar(&port, "port", 8080, "status server bind port")
	cmd.Flags().StringVar(&dataDir, "data", "./data", "embedded state store directory")
	cmd.Flags().BoolVar(&paper, "paper", true, "run against the simulated venue and a synthetic market feed instead of a live exchange")
	cmd.Flags().StringSliceVar(&symbols, "symbols", []string{"BTC/USDT", "ETH/USDT"}, "symbols to trade")
	cmd.Flags().StringVar(&venueWSURL, "venue-ws-url", "", "live venue websocket URL for market data (ignored in --paper mode)")
	return cmd
}

type runOptions struct {
	configPath string
	host       string
	port       int
	dataDir    string
	paper      bool
	symbols    []string
	venueWSURL string
}

func runPipeline(ctx context.Context, logger *zap.Logger, opts runOptions) error {
	provider, err := config.NewFileProvider(logger, opts.configPath)
	if err != nil {
		return fatalInit(fmt.Errorf("load config: %w", err))
	}
	defaults := config.LoadDefaults(provider)

	if !opts.paper && os.Getenv("TRADING_MODE") == "live" {
		logger.Warn("live trading mode requested but no live OrderVenue is wired; falling back to the simulated venue")
	}

	store, err := openStore(logger, defaults.Backend, opts.dataDir, defaults.DSN)
	if err != nil {
		return fatalInit(fmt.Errorf("open state store: %w", err))
	}
	defer store.Close()

	recovery, err := statestore.Recover(store, func() types.PortfolioCheckpoint {
		return types.PortfolioCheckpoint{Timestamp: time.Now(), Cash: decimal.NewFromInt(100000), Positions: map[string]*types.Position{}}
	})
	if err != nil {
		return fatalInit(fmt.Errorf("recover state: %w", err))
	}
	if recovery.Degraded {
		return degradedState(fmt.Errorf("state store degraded during recovery: %s", recovery.DegradedReason))
	}
	logger.Info("recovered portfolio state",
		zap.Time("replayed_from", recovery.ReplayedFrom), zap.Int("trades_replayed", recovery.TradesReplayed))

	registry := strategy.New(logger, defaults.StrategyFaultThreshold, defaults.StrategyFaultCooldown)
	for _, factory := range strategy.Builtins() {
		registry.Register(factory(logger))
	}

	normalizerComp := normalizer.New(defaults.NormalizerWindow)
	validatorComp := validator.New(logger, defaults.MaxStaleness, defaults.OutlierMADWindow, defaults.OutlierMADFactor)
	liquidationComp := liquidation.New(logger, defaults.LiquidationWindow, defaults.ClusteringWindow, defaults.CascadeThreshold, types.CascadeAction(defaults.CascadeAction), liquidation.Weights{
		VolumeSpike: defaults.WeightVolumeSpike, TimeCluster: defaults.WeightTimeCluster,
		Directional: defaults.WeightDirectional, PriceImpact: defaults.WeightPriceImpact,
	})
	allocatorComp := allocator.New(logger, defaults.RebalanceInterval, defaults.AllocatorAlpha, defaults.MinWeight)
	correlationComp := correlation.New(logger, defaults.CorrelationLookback, defaults.CorrelationThreshold, defaults.CorrelationFloor)
	voterComp := ensemble.New(logger, defaults.ConfidenceThreshold, defaults.MinAgreeingStrategies, defaults.VotingMethod)
	riskComp := risk.New(logger, risk.Thresholds{
		Yellow1: defaults.DrawdownYellow1, Yellow2: defaults.DrawdownYellow2, Red: defaults.DrawdownRed,
		Cooldown: defaults.CircuitBreakerCooldown,
	}, defaults.KellyFraction, defaults.MinPositionFraction, defaults.MaxPositionFraction,
		defaults.PayoffRatio, defaults.MinProbability)
	orderOptComp := orderopt.New(logger, orderopt.Thresholds{
		Aggressive: defaults.AggressiveThreshold, Patient: defaults.PatientThreshold,
		SizeSmall: defaults.SizeAwareSmall, SizeLarge: defaults.SizeAwareLarge,
		TWAPMinChildren: defaults.TWAPMinChildren, TWAPChunkSize: defaults.TWAPChunkSize,
		MinOrderSize: defaults.MinOrderSize, VolScale: defaults.VolScale, LimitOffset: defaults.LimitOffset,
		TickSize: defaults.TickSize, StepSize: defaults.StepSize,
	})

	lastFrames := map[string]types.MarketFrame{}
	venue := execution.NewSimulatedVenue(func(symbol string) (types.MarketFrame, bool) {
		f, ok := lastFrames[symbol]
		return f, ok
	})
	engine := execution.New(logger, venue, recovery.Portfolio.Cash)
	engine.Restore(recovery.Portfolio)

	sources, err := buildSources(logger, opts, recovery.Portfolio)
	if err != nil {
		return fatalInit(fmt.Errorf("build market sources: %w", err))
	}
	feed := marketfeed.New(logger, sources, defaults.MarketFetchTimeout)

	bus := events.New()

	runner := orchestrator.New(orchestrator.Deps{
		Logger: logger, Config: defaults, Clock: orchestrator.SystemClock{},
		Feed: feed, Validator: validatorComp, Normalizer: normalizerComp,
		Registry: registry, Liquidation: liquidationComp, Allocator: allocatorComp,
		Correlation: correlationComp, Voter: voterComp, Risk: riskComp,
		OrderOpt: orderOptComp, Engine: engine, Store: store, Bus: bus,
		Symbols: opts.symbols,
	})

	httpServer := httpapi.New(logger, runner, fmt.Sprintf("%s:%d", opts.host, opts.port))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		runner.Command(orchestrator.CommandStop)
	}()

	if err := runner.Run(runCtx); err != nil && err != context.Canceled {
		return fmt.Errorf("pipeline run: %w", err)
	}
	return nil
}

// buildSources builds C1's MarketDataSource set. --paper mode (the
// default) never dials a real venue: it uses a seeded synthetic
// random-walk source per run so the pipeline is runnable end-to-end
// without exchange credentials. Live mode dials the configured venue
// websocket and decodes its generic tick schema; with neither a
// websocket URL nor --paper, that's a startup error rather than a
// silently empty feed.
func buildSources(logger *zap.Logger, opts runOptions, portfolio *types.Portfolio) ([]marketfeed.Source, error) {
	if opts.paper {
		starting := make(map[string]decimal.Decimal, len(opts.symbols))
		for _, sym := range opts.symbols {
			starting[sym] = decimal.NewFromInt(100)
			if pos, ok := portfolio.Positions[sym]; ok && pos.AvgEntryPrice.Sign() > 0 {
				starting[sym] = pos.AvgEntryPrice
			}
		}
		return []marketfeed.Source{
			marketfeed.NewSimulatedSource(1, starting, decimal.NewFromFloat(0.001)),
		}, nil
	}

	if opts.venueWSURL == "" {
		return nil, fmt.Errorf("no market data source configured: pass --paper or --venue-ws-url")
	}
	src, err := marketfeed.NewWSSource(logger, "venue", opts.venueWSURL, marketfeed.DecodeGenericTick)
	if err != nil {
		return nil, fmt.Errorf("connect venue market feed: %w", err)
	}
	return []marketfeed.Source{src}, nil
}
