package metastore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/engramdb/engram/internal/logger"
)

// BadgerBackend is the durable KVBackend used by standalone deployments.
type BadgerBackend struct {
	db *badgerdb.DB

	stopGC   chan struct{}
	gcDone   sync.WaitGroup
	closeOne sync.Once
}

var _ KVBackend = (*BadgerBackend)(nil)

// OpenBadger opens (creating if needed) the badger database under dir.
func OpenBadger(dir string, cfg Config) (*BadgerBackend, error) {
	opts := badgerdb.DefaultOptions(dir).
		WithSyncWrites(cfg.SyncWrites).
		WithValueLogFileSize(cfg.ValueLogFileSize.Int64()).
		WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store at %q: %w", dir, err)
	}

	b := &BadgerBackend{
		db:     db,
		stopGC: make(chan struct{}),
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = DefaultConfig().GCInterval
	}
	b.gcDone.Add(1)
	go b.runValueLogGC(interval)

	return b, nil
}

// runValueLogGC reclaims value-log space periodically. badger returns
// ErrNoRewrite when there is nothing to collect; that is not a failure.
func (b *BadgerBackend) runValueLogGC(interval time.Duration) {
	defer b.gcDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				logger.Warn("metadata store value log GC failed", "error", err)
			}
		case <-b.stopGC:
			return
		}
	}
}

func (b *BadgerBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BadgerBackend) Put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *BadgerBackend) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	})
}

func (b *BadgerBackend) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerBackend) Close() error {
	var err error
	b.closeOne.Do(func() {
		close(b.stopGC)
		b.gcDone.Wait()
		err = b.db.Close()
	})
	return err
}
