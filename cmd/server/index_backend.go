package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelstream.ai/internal/persistence/indexdb"
)

const ledgerFile = "ledger.sqlite"

// openLedger opens the batch/tile ledger. It returns nil when disabled.
func openLedger(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", ledgerFile))
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}
