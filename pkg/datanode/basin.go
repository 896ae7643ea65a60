package datanode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/engramdb/engram/internal/logger"
)

// basinEngine is the default LSM-style region engine: writes go through a
// write-ahead log into an in-memory table, and the table is flushed to the
// object store when the log is purged.
type basinEngine struct {
	cfg    BasinEngineConfig
	wal    WALConfig
	walDir string
	store  ObjectStore

	walMu   sync.Mutex
	walFile *os.File

	mu      sync.RWMutex
	regions map[string]map[string][]byte

	requests chan *writeRequest
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOne  sync.Once
}

type writeRequest struct {
	region string
	key    []byte
	value  []byte
	done   chan error
}

type walEntry struct {
	Region string `json:"region"`
	Key    []byte `json:"key"`
	Value  []byte `json:"value"`
}

func newBasinEngine(cfg *BasinEngineConfig, wal WALConfig, walDir string, store ObjectStore) *basinEngine {
	c := DefaultBasinEngineConfig()
	if cfg != nil {
		c = cfg
	}
	return &basinEngine{
		cfg:      *c,
		wal:      wal,
		walDir:   walDir,
		store:    store,
		regions:  make(map[string]map[string][]byte),
		requests: make(chan *writeRequest, c.WorkerChannelSize),
		quit:     make(chan struct{}),
	}
}

func (e *basinEngine) Name() string { return EngineBasin }

// Start replays the write-ahead log and launches the region workers.
func (e *basinEngine) Start(ctx context.Context) error {
	if err := os.MkdirAll(e.walDir, 0755); err != nil {
		return fmt.Errorf("failed to create wal directory: %w", err)
	}

	walPath := filepath.Join(e.walDir, "basin.wal")
	if err := e.replay(ctx, walPath); err != nil {
		return err
	}

	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open wal: %w", err)
	}
	e.walFile = f

	for i := 0; i < e.cfg.NumWorkers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.wg.Add(1)
	go e.purgeLoop()

	return nil
}

// replay loads committed but unflushed entries back into the memtables.
func (e *basinEngine) replay(ctx context.Context, walPath string) error {
	f, err := os.Open(walPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open wal for replay: %w", err)
	}
	defer f.Close()

	batch := make([]walEntry, 0, e.wal.ReadBatchSize)
	apply := func() {
		e.mu.Lock()
		for _, ent := range batch {
			region := e.regions[ent.Region]
			if region == nil {
				region = make(map[string][]byte)
				e.regions[ent.Region] = region
			}
			region[string(ent.Key)] = ent.Value
		}
		e.mu.Unlock()
		batch = batch[:0]
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	entries := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ent walEntry
		if err := json.Unmarshal(scanner.Bytes(), &ent); err != nil {
			return fmt.Errorf("corrupt wal entry: %w", err)
		}
		batch = append(batch, ent)
		entries++
		if len(batch) >= e.wal.ReadBatchSize {
			apply()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to replay wal: %w", err)
	}
	apply()

	if entries > 0 {
		logger.Info("replayed write-ahead log", "entries", entries)
	}
	return nil
}

func (e *basinEngine) Put(ctx context.Context, region string, key, value []byte) error {
	req := &writeRequest{
		region: region,
		key:    key,
		value:  value,
		done:   make(chan error, 1),
	}
	select {
	case e.requests <- req:
	case <-e.quit:
		return fmt.Errorf("basin engine is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *basinEngine) Get(ctx context.Context, region string, key []byte) ([]byte, error) {
	e.mu.RLock()
	if r, ok := e.regions[region]; ok {
		if v, ok := r[string(key)]; ok {
			out := append([]byte(nil), v...)
			e.mu.RUnlock()
			return out, nil
		}
	}
	e.mu.RUnlock()

	// Miss in the memtable: fall back to the flushed snapshot.
	data, err := e.store.Read(ctx, e.snapshotKey(region))
	if err != nil {
		return nil, err
	}
	var snap map[string][]byte
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt region snapshot %q: %w", region, err)
	}
	v, ok := snap[string(key)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return v, nil
}

func (e *basinEngine) worker() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.requests:
			req.done <- e.commit(req)
		case <-e.quit:
			return
		}
	}
}

// commit appends to the wal, then applies to the memtable.
func (e *basinEngine) commit(req *writeRequest) error {
	line, err := json.Marshal(walEntry{Region: req.region, Key: req.key, Value: req.value})
	if err != nil {
		return fmt.Errorf("failed to encode wal entry: %w", err)
	}
	line = append(line, '\n')

	e.walMu.Lock()
	if _, err := e.walFile.Write(line); err != nil {
		e.walMu.Unlock()
		return fmt.Errorf("failed to append wal: %w", err)
	}
	if e.wal.SyncWrite {
		if err := e.walFile.Sync(); err != nil {
			e.walMu.Unlock()
			return fmt.Errorf("failed to sync wal: %w", err)
		}
	}
	e.walMu.Unlock()

	e.mu.Lock()
	region := e.regions[req.region]
	if region == nil {
		region = make(map[string][]byte)
		e.regions[req.region] = region
	}
	region[string(req.key)] = append([]byte(nil), req.value...)
	e.mu.Unlock()
	return nil
}

// purgeLoop flushes memtables and truncates the wal once it outgrows the
// purge threshold.
func (e *basinEngine) purgeLoop() {
	defer e.wg.Done()
	interval := e.wal.PurgeInterval
	if interval <= 0 {
		interval = DefaultWALConfig().PurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.maybePurge(context.Background()); err != nil {
				logger.Warn("wal purge failed", "error", err)
			}
		case <-e.quit:
			return
		}
	}
}

func (e *basinEngine) maybePurge(ctx context.Context) error {
	e.walMu.Lock()
	info, err := e.walFile.Stat()
	e.walMu.Unlock()
	if err != nil {
		return err
	}
	if uint64(info.Size()) < e.wal.PurgeThreshold.Uint64() {
		return nil
	}
	return e.flush(ctx, true)
}

// flush persists every memtable as a region snapshot in the object store,
// then truncates the wal if requested.
func (e *basinEngine) flush(ctx context.Context, truncate bool) error {
	e.mu.RLock()
	snapshots := make(map[string][]byte, len(e.regions))
	for region, table := range e.regions {
		data, err := json.Marshal(table)
		if err != nil {
			e.mu.RUnlock()
			return fmt.Errorf("failed to encode region %q snapshot: %w", region, err)
		}
		snapshots[region] = data
	}
	e.mu.RUnlock()

	for region, data := range snapshots {
		if err := e.store.Write(ctx, e.snapshotKey(region), data); err != nil {
			return err
		}
	}

	if truncate {
		e.walMu.Lock()
		defer e.walMu.Unlock()
		if err := e.walFile.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate wal: %w", err)
		}
		if _, err := e.walFile.Seek(0, 0); err != nil {
			return fmt.Errorf("failed to rewind wal: %w", err)
		}
	}
	return nil
}

func (e *basinEngine) snapshotKey(region string) string {
	return path.Join("data", EngineBasin, region+".json")
}

// Stop drains the workers, flushes memtables and closes the wal.
func (e *basinEngine) Stop(ctx context.Context) error {
	var err error
	e.stopOne.Do(func() {
		close(e.quit)
		e.wg.Wait()
		if e.walFile != nil {
			err = e.flush(ctx, false)
			if cerr := e.walFile.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}
