package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/pkg/procedure"
)

// backendConformance exercises the KVBackend contract shared by every
// implementation.
func backendConformance(t *testing.T, kv KVBackend) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, []byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Put(ctx, []byte("a/1"), []byte("one")))
	require.NoError(t, kv.Put(ctx, []byte("a/2"), []byte("two")))
	require.NoError(t, kv.Put(ctx, []byte("b/1"), []byte("other")))

	got, err := kv.Get(ctx, []byte("a/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	// Overwrite replaces.
	require.NoError(t, kv.Put(ctx, []byte("a/1"), []byte("uno")))
	got, err = kv.Get(ctx, []byte("a/1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), got)

	// Prefix scan visits keys in order.
	var keys []string
	err = kv.Scan(ctx, []byte("a/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)

	// Delete is idempotent.
	require.NoError(t, kv.Delete(ctx, []byte("a/1")))
	require.NoError(t, kv.Delete(ctx, []byte("a/1")))
	_, err = kv.Get(ctx, []byte("a/1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryBackend(t *testing.T) {
	kv := NewMemory()
	defer kv.Close()
	backendConformance(t, kv)
}

func TestBadgerBackend(t *testing.T) {
	kv, err := OpenBadger(t.TempDir(), DefaultConfig())
	require.NoError(t, err)
	defer kv.Close()
	backendConformance(t, kv)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := OpenBadger(dir, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, kv.Close())

	kv, err = OpenBadger(dir, DefaultConfig())
	require.NoError(t, err)
	defer kv.Close()

	got, err := kv.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestBootstrapSelectsBackend(t *testing.T) {
	ctx := context.Background()

	kv, proc, err := Bootstrap(ctx, t.TempDir(), Config{Backend: BackendMemory}, procedure.DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, proc)
	_, ok := kv.(*MemoryBackend)
	assert.True(t, ok)
	require.NoError(t, kv.Close())

	kv, proc, err = Bootstrap(ctx, t.TempDir(), DefaultConfig(), procedure.DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, proc)
	_, ok = kv.(*BadgerBackend)
	assert.True(t, ok)
	require.NoError(t, kv.Close())

	_, _, err = Bootstrap(ctx, t.TempDir(), Config{Backend: "etcd"}, procedure.DefaultConfig())
	assert.Error(t, err)
}

func TestMetadataDir(t *testing.T) {
	assert.Equal(t, "/tmp/engram/metadata", MetadataDir("/tmp/engram/"))
}
