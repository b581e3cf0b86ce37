package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// tradeRow, checkpointRow and metricsRow are the gorm models backing
// the `trades`, `portfolio_checkpoints` and `metrics` tables named in
// the persisted-state layout. Decimal and map fields are stored as
// strings/JSON text since gorm's MySQL dialect has no native decimal
// binding for shopspring/decimal.
type tradeRow struct {
	ID                   string `gorm:"primaryKey"`
	Timestamp            time.Time `gorm:"index"`
	Symbol               string
	Action               string
	StrategyID           string
	SignalPrice          string
	ExecutionPrice       string
	Size                 string
	Commission           string
	SlippageBps          string
	PnL                  *string
	PortfolioEquityAfter string
}

func (tradeRow) TableName() string { return "trades" }

type checkpointRow struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index"`
	Cash      string
	Equity    string
	Positions string // JSON-encoded map[string]*types.Position
}

func (checkpointRow) TableName() string { return "portfolio_checkpoints" }

type metricsRow struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"index"`
	TotalReturn string
	Sharpe      string
	MaxDrawdown string
	WinRate     string
	TotalTrades int
	Extra       string
}

func (metricsRow) TableName() string { return "metrics" }

// SQLStore is the MySQL-backed Store.
type SQLStore struct {
	logger    *zap.Logger
	db        *gorm.DB
	backupDir string
}

// NewSQLStore opens dsn and migrates the trades/portfolio_checkpoints/
// metrics tables. backupDir is where the slower-cadence disk-backup
// mirror is written, since the primary backend here is not disk-resident.
func NewSQLStore(logger *zap.Logger, dsn, backupDir string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("statestore: open mysql: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}, &checkpointRow{}, &metricsRow{}); err != nil {
		return nil, fmt.Errorf("statestore: migrate: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("statestore: create backup dir: %w", err)
	}
	return &SQLStore{logger: logger.Named("statestore"), db: db, backupDir: backupDir}, nil
}

func (s *SQLStore) AppendTrade(trade types.TradeRecord) error {
	var pnl *string
	if trade.PnL != nil {
		v := trade.PnL.String()
		pnl = &v
	}
	row := tradeRow{
		ID:                   trade.ID,
		Timestamp:            trade.Timestamp,
		Symbol:               trade.Symbol,
		Action:               string(trade.Action),
		StrategyID:           trade.StrategyID,
		SignalPrice:          trade.SignalPrice.String(),
		ExecutionPrice:       trade.ExecutionPrice.String(),
		Size:                 trade.Size.String(),
		Commission:           trade.Commission.String(),
		SlippageBps:          trade.SlippageBps.String(),
		PnL:                  pnl,
		PortfolioEquityAfter: trade.PortfolioEquityAfter.String(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("statestore: insert trade: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveCheckpoint(cp types.PortfolioCheckpoint) error {
	posJSON, err := json.Marshal(cp.Positions)
	if err != nil {
		return fmt.Errorf("statestore: marshal positions: %w", err)
	}
	row := checkpointRow{
		Timestamp: cp.Timestamp,
		Cash:      cp.Cash.String(),
		Equity:    cp.Equity.String(),
		Positions: string(posJSON),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("statestore: insert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveMetrics(m types.MetricsSnapshot) error {
	extraJSON, err := json.Marshal(m.Extra)
	if err != nil {
		return fmt.Errorf("statestore: marshal metrics extra: %w", err)
	}
	row := metricsRow{
		Timestamp:   m.Timestamp,
		TotalReturn: m.TotalReturn.String(),
		Sharpe:      m.Sharpe.String(),
		MaxDrawdown: m.MaxDrawdown.String(),
		WinRate:     m.WinRate.String(),
		TotalTrades: m.TotalTrades,
		Extra:       string(extraJSON),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("statestore: insert metrics: %w", err)
	}
	return nil
}

func (s *SQLStore) LatestCheckpoint() (types.PortfolioCheckpoint, bool, error) {
	var row checkpointRow
	err := s.db.Order("timestamp desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.PortfolioCheckpoint{}, false, nil
	}
	if err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: query latest checkpoint: %w", err)
	}
	cash, err := decimal.NewFromString(row.Cash)
	if err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: parse checkpoint cash: %w", err)
	}
	equity, err := decimal.NewFromString(row.Equity)
	if err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: parse checkpoint equity: %w", err)
	}
	var positions map[string]*types.Position
	if err := json.Unmarshal([]byte(row.Positions), &positions); err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: parse checkpoint positions: %w", err)
	}
	return types.PortfolioCheckpoint{Timestamp: row.Timestamp, Cash: cash, Equity: equity, Positions: positions}, true, nil
}

func (s *SQLStore) TradesSince(since time.Time) ([]types.TradeRecord, error) {
	var rows []tradeRow
	if err := s.db.Where("timestamp > ?", since).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("statestore: query trades since: %w", err)
	}
	trades := make([]types.TradeRecord, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTrade(row)
		if err != nil {
			return trades, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func rowToTrade(row tradeRow) (types.TradeRecord, error) {
	signalPrice, err := decimal.NewFromString(row.SignalPrice)
	if err != nil {
		return types.TradeRecord{}, fmt.Errorf("statestore: parse signal price: %w", err)
	}
	execPrice, err := decimal.NewFromString(row.ExecutionPrice)
	if err != nil {
		return types.TradeRecord{}, fmt.Errorf("statestore: parse execution price: %w", err)
	}
	size, err := decimal.NewFromString(row.Size)
	if err != nil {
		return types.TradeRecord{}, fmt.Errorf("statestore: parse size: %w", err)
	}
	commission, err := decimal.NewFromString(row.Commission)
	if err != nil {
		return types.TradeRecord{}, fmt.Errorf("statestore: parse commission: %w", err)
	}
	slippage, err := decimal.NewFromString(row.SlippageBps)
	if err != nil {
		return types.TradeRecord{}, fmt.Errorf("statestore: parse slippage: %w", err)
	}
	equity, err := decimal.NewFromString(row.PortfolioEquityAfter)
	if err != nil {
		return types.TradeRecord{}, fmt.Errorf("statestore: parse equity: %w", err)
	}
	var pnl *decimal.Decimal
	if row.PnL != nil {
		v, err := decimal.NewFromString(*row.PnL)
		if err != nil {
			return types.TradeRecord{}, fmt.Errorf("statestore: parse pnl: %w", err)
		}
		pnl = &v
	}
	return types.TradeRecord{
		ID: row.ID, Timestamp: row.Timestamp, Symbol: row.Symbol, Action: types.Action(row.Action),
		StrategyID: row.StrategyID, SignalPrice: signalPrice, ExecutionPrice: execPrice, Size: size,
		Commission: commission, SlippageBps: slippage, PnL: pnl, PortfolioEquityAfter: equity,
	}, nil
}

// Backup mirrors the latest checkpoint row to a JSON file under
// backupDir, independent of the MySQL backend.
func (s *SQLStore) Backup(now time.Time) error {
	cp, ok, err := s.LatestCheckpoint()
	if err != nil {
		return fmt.Errorf("statestore: read latest checkpoint for backup: %w", err)
	}
	if !ok {
		return nil
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("statestore: marshal backup: %w", err)
	}
	name := fmt.Sprintf("portfolio_%d.json", now.UnixNano())
	if err := os.WriteFile(filepath.Join(s.backupDir, name), data, 0644); err != nil {
		return fmt.Errorf("statestore: write backup: %w", err)
	}
	return nil
}

func (s *SQLStore) Prune(now time.Time, retentionDays int) error {
	cutoff := now.AddDate(0, 0, -retentionDays)
	if err := s.db.Where("timestamp < ?", cutoff).Delete(&checkpointRow{}).Error; err != nil {
		return fmt.Errorf("statestore: prune checkpoints: %w", err)
	}
	if err := s.db.Where("timestamp < ?", cutoff).Delete(&metricsRow{}).Error; err != nil {
		return fmt.Errorf("statestore: prune metrics: %w", err)
	}
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return fmt.Errorf("statestore: read backup dir: %w", err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(s.backupDir, e.Name()))
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("statestore: get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
