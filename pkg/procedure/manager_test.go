package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory StateStore for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *memStore) Scan(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	s.mu.Lock()
	snapshot := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.Unlock()
	for k, v := range snapshot {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *memStore) record(t *testing.T, id string) record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[string(statePrefix)+id]
	require.True(t, ok, "no record for %s", id)
	var rec record
	require.NoError(t, json.Unmarshal(raw, &rec))
	return rec
}

type funcProcedure struct {
	name string
	fn   func(ctx context.Context) error
}

func (p *funcProcedure) TypeName() string                  { return p.name }
func (p *funcProcedure) Execute(ctx context.Context) error { return p.fn(ctx) }

func TestSubmitRunsAndRecordsDone(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, DefaultConfig())

	var ran atomic.Bool
	proc := &funcProcedure{name: "test.noop", fn: func(context.Context) error {
		ran.Store(true)
		return nil
	}}
	require.NoError(t, m.Submit(ctx, "p1", proc, nil))
	m.Wait()

	assert.True(t, ran.Load())
	assert.Equal(t, StatusDone, store.record(t, "p1").Status)
}

func TestRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, Config{MaxRetryTimes: 3, RetryDelay: time.Millisecond})

	var attempts atomic.Int32
	proc := &funcProcedure{name: "test.flaky", fn: func(context.Context) error {
		attempts.Add(1)
		return fmt.Errorf("always fails")
	}}
	require.NoError(t, m.Submit(ctx, "p2", proc, nil))
	m.Wait()

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, StatusFailed, store.record(t, "p2").Status)
}

func TestRetrySucceedsEventually(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, Config{MaxRetryTimes: 3, RetryDelay: time.Millisecond})

	var attempts atomic.Int32
	proc := &funcProcedure{name: "test.eventually", fn: func(context.Context) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("not yet")
		}
		return nil
	}}
	require.NoError(t, m.Submit(ctx, "p3", proc, nil))
	m.Wait()

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, StatusDone, store.record(t, "p3").Status)
}

func TestStartResumesInterruptedProcedures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	// Simulate a crash: a running record with no surviving goroutine.
	interrupted := record{
		ID:      "p4",
		Type:    "test.resumable",
		Status:  StatusRunning,
		Payload: json.RawMessage(`{"step":"copy"}`),
	}
	raw, err := json.Marshal(interrupted)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, append(append([]byte(nil), statePrefix...), "p4"...), raw))

	m := NewManager(store, DefaultConfig())
	var resumedPayload atomic.Value
	m.RegisterLoader("test.resumable", func(payload json.RawMessage) (Procedure, error) {
		return &funcProcedure{name: "test.resumable", fn: func(context.Context) error {
			resumedPayload.Store(string(payload))
			return nil
		}}, nil
	})

	require.NoError(t, m.Start(ctx))
	m.Wait()

	assert.Equal(t, `{"step":"copy"}`, resumedPayload.Load())
	assert.Equal(t, StatusDone, store.record(t, "p4").Status)
}

func TestStartSkipsUnknownTypes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rec := record{ID: "p5", Type: "test.unknown", Status: StatusRunning}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, append(append([]byte(nil), statePrefix...), "p5"...), raw))

	m := NewManager(store, DefaultConfig())
	require.NoError(t, m.Start(ctx))
	m.Wait()

	// The record stays running so an operator can inspect it.
	assert.Equal(t, StatusRunning, store.record(t, "p5").Status)
}
