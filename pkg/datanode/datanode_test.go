package datanode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/bytesize"
	"github.com/engramdb/engram/pkg/metastore"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.Storage.DataHome = t.TempDir()
	opts.WAL.PurgeInterval = time.Hour
	opts.WAL.FileSize = 4 * bytesize.MB
	return opts
}

func TestDatanodeLifecycle(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)
	kv := metastore.NewMemory()

	dn, err := Builder{Opts: opts, KV: kv}.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, dn.Start(ctx))

	server := dn.RegionServer()
	assert.Equal(t, []string{EngineBasin, EngineFile}, server.EngineNames())

	require.NoError(t, server.HandleWrite(ctx, EngineBasin, "r1", []byte("k"), []byte("v")))
	got, err := server.HandleRead(ctx, EngineBasin, "r1", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Starting registers the node in the metadata store.
	reg, err := kv.Get(ctx, []byte("__datanode/0"))
	require.NoError(t, err)
	assert.Contains(t, string(reg), DefaultRPCAddr)

	require.NoError(t, dn.Shutdown(ctx))

	// A fresh datanode over the same data home sees the flushed write.
	dn2, err := Builder{Opts: opts, KV: kv}.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, dn2.Start(ctx))
	defer dn2.Shutdown(ctx)

	got, err = dn2.RegionServer().HandleRead(ctx, EngineBasin, "r1", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestBasinWALReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newFsStore(dir)
	wal := DefaultWALConfig()
	walDir := filepath.Join(dir, "wal")

	engine := newBasinEngine(nil, wal, walDir, store)
	require.NoError(t, engine.Start(ctx))
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, engine.Put(ctx, "r", []byte(k), []byte("val-"+k)))
	}
	// Close the wal without flushing snapshots so replay must recover.
	close(engine.quit)
	engine.wg.Wait()
	require.NoError(t, engine.walFile.Close())

	replayed := newBasinEngine(nil, wal, walDir, store)
	require.NoError(t, replayed.Start(ctx))
	defer replayed.Stop(ctx)

	got, err := replayed.Get(ctx, "r", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("val-b"), got)
}

func TestFileEngineReadOnly(t *testing.T) {
	ctx := context.Background()
	store := newFsStore(t.TempDir())
	require.NoError(t, store.Write(ctx, "data/file/logs/row1", []byte("immutable")))

	engine := newFileEngine(nil, store)
	require.NoError(t, engine.Start(ctx))

	got, err := engine.Get(ctx, "logs", []byte("row1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), got)

	assert.Error(t, engine.Put(ctx, "logs", []byte("row2"), []byte("x")))
}

func TestRegionServerUnknownEngine(t *testing.T) {
	server := NewRegionServer()
	err := server.HandleWrite(context.Background(), "nope", "r", []byte("k"), []byte("v"))
	assert.ErrorContains(t, err, `no region engine "nope"`)
}

func TestObjectStoreFileProvider(t *testing.T) {
	ctx := context.Background()
	store, err := NewObjectStore(ctx, t.TempDir(), ObjectStoreConfig{Type: StoreTypeFile})
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "a/b/c", []byte("payload")))
	got, err := store.Read(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, store.Delete(ctx, "a/b/c"))
	_, err = store.Read(ctx, "a/b/c")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestObjectStoreUnknownProvider(t *testing.T) {
	_, err := NewObjectStore(context.Background(), t.TempDir(), ObjectStoreConfig{Type: "tape"})
	assert.Error(t, err)
}
