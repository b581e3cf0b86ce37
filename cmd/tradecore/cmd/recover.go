package cmd

import (
	"fmt"
	"time"

	"github.com/atlasquant/tradecore/internal/config"
	"github.com/atlasquant/tradecore/internal/statestore"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRecoverCmd() *cobra.Command {
	var (
		configPath string
		dataDir    string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay the checkpoint and trade log to reconstruct portfolio state",
		RunE: func(c *cobra.Command, args []string) error {
			logger, err := setupLogger(logLevel)
			if err != nil {
				return fatalInit(err)
			}
			defer logger.Sync()

			provider, err := config.NewFileProvider(logger, configPath)
			if err != nil {
				return fatalInit(fmt.Errorf("load config: %w", err))
			}
			defaults := config.LoadDefaults(provider)

			store, err := openStore(logger, defaults.Backend, dataDir, defaults.DSN)
			if err != nil {
				return fatalInit(fmt.Errorf("open state store: %w", err))
			}
			defer store.Close()

			result, err := statestore.Recover(store, func() types.PortfolioCheckpoint {
				return types.PortfolioCheckpoint{Timestamp: time.Now(), Cash: decimal.NewFromInt(100000), Positions: map[string]*types.Position{}}
			})
			if err != nil {
				return fatalInit(fmt.Errorf("recover state: %w", err))
			}

			fmt.Printf("replayed_from=%s trades_replayed=%d degraded=%v\n",
				result.ReplayedFrom.Format(time.RFC3339), result.TradesReplayed, result.Degraded)
			fmt.Printf("cash=%s equity=%s positions=%d\n",
				result.Portfolio.Cash.String(), result.Portfolio.Equity.String(), len(result.Portfolio.Positions))
			for symbol, pos := range result.Portfolio.Positions {
				fmt.Printf("  %s: size=%s avg_entry=%s\n", symbol, pos.Size.String(), pos.AvgEntryPrice.String())
			}

			if result.Degraded {
				return degradedState(fmt.Errorf("recovery degraded: %s", result.DegradedReason))
			}
			if dryRun {
				return nil
			}

			cp := types.PortfolioCheckpoint{
				Timestamp: time.Now(),
				Cash:      result.Portfolio.Cash,
				Equity:    result.Portfolio.Equity,
				Positions: result.Portfolio.Positions,
			}
			if err := store.SaveCheckpoint(cp); err != nil {
				return fmt.Errorf("persist recovered checkpoint: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to an override config file")
	cmd.Flags().StringVar(&dataDir, "data", "./data", "embedded state store directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "reconstruct and print state without writing a fresh checkpoint")
	return cmd
}
