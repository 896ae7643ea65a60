package metastore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/procedure"
)

// MetadataDir is the metadata subdirectory derived from the data home.
func MetadataDir(dataHome string) string {
	return filepath.Join(dataHome, "metadata")
}

// Bootstrap constructs the metadata KV backend described by cfg and the
// procedure manager layered on top of it. The returned backend is owned by
// the caller; the procedure manager shares it for state persistence.
func Bootstrap(ctx context.Context, dir string, cfg Config, procCfg procedure.Config) (KVBackend, *procedure.Manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		kv  KVBackend
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		kv = NewMemory()
		logger.Warn("using volatile in-memory metadata store; metadata will not survive restarts")
	case BackendBadger, "":
		kv, err = OpenBadger(dir, cfg)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown metadata store backend %q", cfg.Backend)
	}

	manager := procedure.NewManager(kv, procCfg)
	return kv, manager, nil
}
