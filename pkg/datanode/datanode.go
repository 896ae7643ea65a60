package datanode

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/metastore"
)

// RegionServer routes region requests to the engine that owns them.
type RegionServer struct {
	engines map[string]RegionEngine
	order   []string
}

// NewRegionServer returns a server with no engines registered.
func NewRegionServer() *RegionServer {
	return &RegionServer{engines: make(map[string]RegionEngine)}
}

// RegisterEngine adds an engine. Registering the same name twice is an
// error; engine sets come from validated configuration.
func (s *RegionServer) RegisterEngine(engine RegionEngine) error {
	name := engine.Name()
	if _, ok := s.engines[name]; ok {
		return fmt.Errorf("region engine %q registered twice", name)
	}
	s.engines[name] = engine
	s.order = append(s.order, name)
	return nil
}

// Engine looks up a registered engine by name.
func (s *RegionServer) Engine(name string) (RegionEngine, bool) {
	e, ok := s.engines[name]
	return e, ok
}

// EngineNames lists registered engines in registration order.
func (s *RegionServer) EngineNames() []string {
	return append([]string(nil), s.order...)
}

// HandleWrite routes a write to the named engine.
func (s *RegionServer) HandleWrite(ctx context.Context, engine, region string, key, value []byte) error {
	e, ok := s.engines[engine]
	if !ok {
		return fmt.Errorf("no region engine %q", engine)
	}
	return e.Put(ctx, region, key, value)
}

// HandleRead routes a read to the named engine.
func (s *RegionServer) HandleRead(ctx context.Context, engine, region string, key []byte) ([]byte, error) {
	e, ok := s.engines[engine]
	if !ok {
		return nil, fmt.Errorf("no region engine %q", engine)
	}
	return e.Get(ctx, region, key)
}

// Datanode is the storage tier of a standalone instance: the configured
// region engines behind a region server, backed by an object store.
type Datanode struct {
	opts   Options
	kv     metastore.KVBackend
	store  ObjectStore
	server *RegionServer
}

// Builder assembles a Datanode from options and the shared metadata store.
type Builder struct {
	Opts Options
	KV   metastore.KVBackend
}

// Build constructs the object store and region engines. Nothing is started;
// call Datanode.Start.
func (b Builder) Build(ctx context.Context) (*Datanode, error) {
	store, err := NewObjectStore(ctx, b.Opts.Storage.DataHome, b.Opts.Storage.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to build object store: %w", err)
	}

	walDir := b.Opts.WAL.Dir
	if walDir == "" {
		walDir = filepath.Join(b.Opts.Storage.DataHome, "wal")
	}

	server := NewRegionServer()
	for _, ec := range b.Opts.RegionEngine {
		var engine RegionEngine
		switch ec.Kind {
		case EngineBasin:
			engine = newBasinEngine(ec.Basin, b.Opts.WAL, walDir, store)
		case EngineFile:
			engine = newFileEngine(ec.File, store)
		default:
			return nil, fmt.Errorf("unknown region engine kind %q", ec.Kind)
		}
		if err := server.RegisterEngine(engine); err != nil {
			return nil, err
		}
	}

	return &Datanode{
		opts:   b.Opts,
		kv:     b.KV,
		store:  store,
		server: server,
	}, nil
}

// RegionServer exposes the routing layer for the frontend.
func (d *Datanode) RegionServer() *RegionServer {
	return d.server
}

type nodeManifest struct {
	NodeID    uint64    `json:"node_id"`
	RPCAddr   string    `json:"rpc_addr"`
	Engines   []string  `json:"engines"`
	StartedAt time.Time `json:"started_at"`
}

// Start brings up every region engine and records this node in the
// metadata store and the object store manifest.
func (d *Datanode) Start(ctx context.Context) error {
	for _, name := range d.server.EngineNames() {
		engine, _ := d.server.Engine(name)
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s region engine: %w", name, err)
		}
		logger.Debug("region engine started", "engine", name)
	}

	manifest := nodeManifest{
		NodeID:    d.opts.NodeID,
		RPCAddr:   d.opts.RPCAddr,
		Engines:   d.server.EngineNames(),
		StartedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode node manifest: %w", err)
	}
	if err := d.store.Write(ctx, fmt.Sprintf("manifest/node-%d.json", d.opts.NodeID), raw); err != nil {
		return fmt.Errorf("failed to write node manifest: %w", err)
	}
	if err := d.kv.Put(ctx, []byte(fmt.Sprintf("__datanode/%d", d.opts.NodeID)), raw); err != nil {
		return fmt.Errorf("failed to register datanode: %w", err)
	}

	logger.Info("datanode started",
		"node_id", d.opts.NodeID,
		"engines", d.server.EngineNames())
	return nil
}

// Shutdown stops the region engines in reverse registration order.
func (d *Datanode) Shutdown(ctx context.Context) error {
	names := d.server.EngineNames()
	var firstErr error
	for i := len(names) - 1; i >= 0; i-- {
		engine, _ := d.server.Engine(names[i])
		if err := engine.Stop(ctx); err != nil {
			logger.Error("failed to stop region engine", "engine", names[i], "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
