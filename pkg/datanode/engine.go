package datanode

import (
	"context"
	"fmt"
	"path"
)

// RegionEngine stores and serves the data of the regions assigned to it.
type RegionEngine interface {
	// Name is the engine kind, e.g. "basin" or "file".
	Name() string

	Start(ctx context.Context) error

	Put(ctx context.Context, region string, key, value []byte) error
	Get(ctx context.Context, region string, key []byte) ([]byte, error)

	Stop(ctx context.Context) error
}

// fileEngine serves immutable file-backed tables straight from the object
// store. Writes are rejected; the files are produced out of band.
type fileEngine struct {
	cfg   FileEngineConfig
	store ObjectStore
}

func newFileEngine(cfg *FileEngineConfig, store ObjectStore) *fileEngine {
	c := DefaultFileEngineConfig()
	if cfg != nil {
		c = cfg
	}
	return &fileEngine{cfg: *c, store: store}
}

func (e *fileEngine) Name() string { return EngineFile }

func (e *fileEngine) Start(ctx context.Context) error { return nil }

func (e *fileEngine) Put(ctx context.Context, region string, key, value []byte) error {
	return fmt.Errorf("file engine region %q is read-only", region)
}

func (e *fileEngine) Get(ctx context.Context, region string, key []byte) ([]byte, error) {
	return e.store.Read(ctx, path.Join("data", EngineFile, region, string(key)))
}

func (e *fileEngine) Stop(ctx context.Context) error { return nil }
