// Package procedure executes long-running, resumable administrative
// operations (schema changes and the like) with durable state.
//
// Every submitted procedure is recorded in the state store before it runs,
// so a restarted process can pick up where a crashed one left off: Start
// scans for records still marked running and re-executes them through the
// registered loaders.
package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/engramdb/engram/internal/logger"
)

// Config is the procedure-execution policy.
type Config struct {
	// MaxRetryTimes is how many times a failed procedure is re-executed
	// before being marked failed.
	// Default: 3
	MaxRetryTimes uint `mapstructure:"max_retry_times" validate:"omitempty,min=1" yaml:"max_retry_times"`

	// RetryDelay is the pause between retries.
	// Default: 500ms
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// DefaultConfig returns the documented procedure defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetryTimes: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// StateStore persists procedure state records. metastore.KVBackend
// satisfies it.
type StateStore interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
}

// Procedure is a single resumable operation.
type Procedure interface {
	// TypeName identifies the procedure kind for loader lookup on resume.
	TypeName() string
	// Execute runs the operation to completion. It must be idempotent:
	// a resumed procedure re-executes from the beginning.
	Execute(ctx context.Context) error
}

// Loader reconstructs a procedure of one type from its persisted payload.
type Loader func(payload json.RawMessage) (Procedure, error)

// Status of a persisted procedure record.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var statePrefix = []byte("__procedure/")

type record struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Manager owns procedure execution and its durable state.
type Manager struct {
	store StateStore
	cfg   Config

	mu      sync.RWMutex
	loaders map[string]Loader
	started bool

	wg sync.WaitGroup
}

// NewManager builds a manager over the given state store. Call Start to
// resume interrupted procedures; Submit may be used before Start (the
// procedure is recorded but not executed until the manager is running).
func NewManager(store StateStore, cfg Config) *Manager {
	if cfg.MaxRetryTimes == 0 {
		cfg.MaxRetryTimes = DefaultConfig().MaxRetryTimes
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		loaders: make(map[string]Loader),
	}
}

// RegisterLoader installs the loader for one procedure type. Loaders must
// be registered before Start so interrupted procedures can be rebuilt.
func (m *Manager) RegisterLoader(typeName string, loader Loader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders[typeName] = loader
}

// Start scans the state store for procedures interrupted by a previous
// shutdown and re-executes them in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	var pending []record
	err := m.store.Scan(ctx, statePrefix, func(_, value []byte) error {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("corrupt procedure record: %w", err)
		}
		if rec.Status == StatusRunning {
			pending = append(pending, rec)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan procedure state: %w", err)
	}

	for _, rec := range pending {
		m.mu.RLock()
		loader, ok := m.loaders[rec.Type]
		m.mu.RUnlock()
		if !ok {
			logger.Warn("no loader registered for interrupted procedure",
				"id", rec.ID, "type", rec.Type)
			continue
		}
		proc, err := loader(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to load procedure %s: %w", rec.ID, err)
		}
		logger.Info("resuming interrupted procedure", "id", rec.ID, "type", rec.Type)
		m.wg.Add(1)
		go m.run(ctx, rec.ID, proc)
	}

	return nil
}

// Submit records the procedure and executes it in the background.
func (m *Manager) Submit(ctx context.Context, id string, proc Procedure, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode procedure payload: %w", err)
	}
	if err := m.persist(ctx, record{
		ID:      id,
		Type:    proc.TypeName(),
		Status:  StatusRunning,
		Payload: raw,
	}); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.run(context.WithoutCancel(ctx), id, proc)
	return nil
}

// run executes with retry, then records the terminal status.
func (m *Manager) run(ctx context.Context, id string, proc Procedure) {
	defer m.wg.Done()

	var lastErr error
	for attempt := uint(0); attempt < m.cfg.MaxRetryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.cfg.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
		if lastErr = proc.Execute(ctx); lastErr == nil {
			break
		}
		logger.Warn("procedure attempt failed",
			"id", id, "attempt", attempt+1, "error", lastErr)
	}

	status := StatusDone
	if lastErr != nil {
		status = StatusFailed
		logger.Error("procedure failed permanently", "id", id, "error", lastErr)
	}
	if err := m.persist(ctx, record{ID: id, Type: proc.TypeName(), Status: status}); err != nil {
		logger.Error("failed to record procedure status", "id", id, "error", err)
	}
}

func (m *Manager) persist(ctx context.Context, rec record) error {
	rec.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode procedure record: %w", err)
	}
	key := append(append([]byte(nil), statePrefix...), rec.ID...)
	if err := m.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to persist procedure %s: %w", rec.ID, err)
	}
	return nil
}

// Wait blocks until all in-flight procedures finish. Used in shutdown and
// tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}
