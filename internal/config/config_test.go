package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasquant/tradecore/internal/config"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestLoadDefaultsWithNoOverrideFile(t *testing.T) {
	provider, err := config.NewFileProvider(zap.NewNop(), "")
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	d := config.LoadDefaults(provider)

	if d.Backend != "file" {
		t.Fatalf("expected default statestore backend 'file', got %q", d.Backend)
	}
	if d.DSN != "" {
		t.Fatalf("expected empty default DSN, got %q", d.DSN)
	}
	if d.CheckpointInterval != 300*time.Second {
		t.Fatalf("expected default checkpoint interval 300s, got %s", d.CheckpointInterval)
	}
	if d.KellyFraction.Cmp(decimal.NewFromFloat(0.25)) != 0 {
		t.Fatalf("expected default kelly fraction 0.25, got %s", d.KellyFraction)
	}
}

func TestLoadDefaultsHonoursOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	body := "statestore:\n  backend: mysql\n  dsn: user:pass@tcp(127.0.0.1:3306)/tradecore\n" +
		"risk:\n  kelly_fraction: \"0.5\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write override file: %v", err)
	}

	provider, err := config.NewFileProvider(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	d := config.LoadDefaults(provider)

	if d.Backend != "mysql" {
		t.Fatalf("expected overridden backend 'mysql', got %q", d.Backend)
	}
	if d.DSN == "" {
		t.Fatalf("expected overridden DSN to be set")
	}
	if d.KellyFraction.Cmp(decimal.NewFromFloat(0.5)) != 0 {
		t.Fatalf("expected overridden kelly fraction 0.5, got %s", d.KellyFraction)
	}
}
