package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/atlasquant/tradecore/internal/statestore"
	"go.uber.org/zap"
)

// openStore builds the configured C12 backend: "file" (the default, an
// embedded JSON-lines store under dataDir) or "mysql" (gorm/MySQL,
// dsn required, with its disk-backup mirror still written under
// dataDir since the primary backend isn't disk-resident).
func openStore(logger *zap.Logger, backend, dataDir, dsn string) (statestore.Store, error) {
	switch backend {
	case "", "file":
		return statestore.NewFileStore(logger, dataDir)
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("statestore.dsn is required for the mysql backend")
		}
		return statestore.NewSQLStore(logger, dsn, filepath.Join(dataDir, "backups"))
	default:
		return nil, fmt.Errorf("unknown statestore backend %q", backend)
	}
}
