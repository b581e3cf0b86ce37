package statestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"go.uber.org/zap"
)

// FileStore is the embedded backend: an append-only JSON-lines trade
// log plus a directory of timestamped checkpoint files, matching the
// teacher's JSON-file-per-symbol layout applied here to trades and
// checkpoints instead of OHLCV bars.
type FileStore struct {
	mu      sync.Mutex
	logger  *zap.Logger
	dataDir string

	tradesFile *os.File
}

// NewFileStore opens (creating if absent) the trades log and
// checkpoint/backup directories under dataDir.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "checkpoints"), 0755); err != nil {
		return nil, fmt.Errorf("statestore: create checkpoints dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "backups"), 0755); err != nil {
		return nil, fmt.Errorf("statestore: create backups dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "trades.jsonl"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("statestore: open trades log: %w", err)
	}
	return &FileStore{logger: logger.Named("statestore"), dataDir: dataDir, tradesFile: f}, nil
}

func (s *FileStore) AppendTrade(trade types.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("statestore: marshal trade: %w", err)
	}
	if _, err := s.tradesFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("statestore: append trade: %w", err)
	}
	return s.tradesFile.Sync()
}

func (s *FileStore) SaveCheckpoint(cp types.PortfolioCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fmt.Sprintf("checkpoint_%d.json", cp.Timestamp.UnixNano())
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("statestore: marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, "checkpoints", name), data, 0644); err != nil {
		return fmt.Errorf("statestore: write checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) SaveMetrics(m types.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fmt.Sprintf("metrics_%d.json", m.Timestamp.UnixNano())
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("statestore: marshal metrics: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dataDir, "backups", name), data, 0644)
}

func (s *FileStore) LatestCheckpoint() (types.PortfolioCheckpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestCheckpointLocked()
}

// latestCheckpointLocked assumes s.mu is already held.
func (s *FileStore) latestCheckpointLocked() (types.PortfolioCheckpoint, bool, error) {
	dir := filepath.Join(s.dataDir, "checkpoints")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: read checkpoints dir: %w", err)
	}
	if len(entries) == 0 {
		return types.PortfolioCheckpoint{}, false, nil
	}
	latest := entries[0].Name()
	for _, e := range entries[1:] {
		if e.Name() > latest {
			latest = e.Name()
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, latest))
	if err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: read checkpoint %s: %w", latest, err)
	}
	var cp types.PortfolioCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return types.PortfolioCheckpoint{}, false, fmt.Errorf("statestore: parse checkpoint %s: %w", latest, err)
	}
	return cp, true, nil
}

// Backup mirrors the latest checkpoint into the backups directory, a
// second on-disk copy independent of the live checkpoints directory.
func (s *FileStore) Backup(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok, err := s.latestCheckpointLocked()
	if err != nil {
		return fmt.Errorf("statestore: read latest checkpoint for backup: %w", err)
	}
	if !ok {
		return nil
	}
	name := fmt.Sprintf("portfolio_%d.json", now.UnixNano())
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("statestore: marshal backup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, "backups", name), data, 0644); err != nil {
		return fmt.Errorf("statestore: write backup: %w", err)
	}
	return nil
}

func (s *FileStore) TradesSince(since time.Time) ([]types.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.tradesFile.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("statestore: seek trades log: %w", err)
	}
	var trades []types.TradeRecord
	scanner := bufio.NewScanner(s.tradesFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var t types.TradeRecord
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return trades, fmt.Errorf("statestore: corrupt trade record: %w", err)
		}
		if t.Timestamp.After(since) {
			trades = append(trades, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return trades, fmt.Errorf("statestore: scan trades log: %w", err)
	}
	return trades, nil
}

func (s *FileStore) Prune(now time.Time, retentionDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.AddDate(0, 0, -retentionDays)
	for _, sub := range []string{"checkpoints", "backups"} {
		dir := filepath.Join(s.dataDir, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("statestore: read %s dir: %w", sub, err)
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesFile.Close()
}
