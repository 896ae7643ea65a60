// Package catalog maintains the catalog/schema/table hierarchy on top of
// the metadata store and routes table regions to their engines.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/metastore"
)

// Default namespace created at bootstrap.
const (
	DefaultCatalog = "engram"
	DefaultSchema  = "public"
)

// ErrNotFound is returned for lookups of unregistered objects.
var ErrNotFound = errors.New("catalog object not found")

const (
	catalogPrefix = "__catalog/"
	schemaPrefix  = "__schema/"
	tablePrefix   = "__table/"
)

// TableInfo is the persisted registration of one table.
type TableInfo struct {
	Catalog string `json:"catalog"`
	Schema  string `json:"schema"`
	Name    string `json:"name"`
	// Engine is the region engine serving this table.
	Engine string `json:"engine"`
	// Region is the routing key handed to the region server.
	Region string `json:"region"`
}

// CacheInvalidator drops cached catalog state after metadata changes. In
// standalone mode there are no remote caches, so the noop implementation is
// used.
type CacheInvalidator interface {
	InvalidateTable(ctx context.Context, catalog, schema, table string) error
}

// NoopCacheInvalidator satisfies CacheInvalidator without doing anything.
type NoopCacheInvalidator struct{}

func (NoopCacheInvalidator) InvalidateTable(context.Context, string, string, string) error {
	return nil
}

// RegionRouter resolves which engine and region serve a table.
type RegionRouter interface {
	Route(ctx context.Context, info TableInfo) (engine, region string, err error)
}

// LocalRegionRouter routes every table to the engine recorded in its
// registration. All regions live on the local node.
type LocalRegionRouter struct{}

func (LocalRegionRouter) Route(_ context.Context, info TableInfo) (string, string, error) {
	if info.Engine == "" {
		return "", "", fmt.Errorf("table %s.%s.%s has no engine", info.Catalog, info.Schema, info.Name)
	}
	return info.Engine, info.Region, nil
}

// Manager is the catalog facade over the metadata store.
type Manager struct {
	kv          metastore.KVBackend
	invalidator CacheInvalidator
	router      RegionRouter
}

// NewManager builds a manager. Nil invalidator or router fall back to the
// local standalone implementations.
func NewManager(kv metastore.KVBackend, invalidator CacheInvalidator, router RegionRouter) *Manager {
	if invalidator == nil {
		invalidator = NoopCacheInvalidator{}
	}
	if router == nil {
		router = LocalRegionRouter{}
	}
	return &Manager{kv: kv, invalidator: invalidator, router: router}
}

// InitMetadataTables seeds the default catalog and schema. It is idempotent
// and runs on every boot.
func (m *Manager) InitMetadataTables(ctx context.Context) error {
	if err := m.CreateCatalog(ctx, DefaultCatalog); err != nil {
		return err
	}
	if err := m.CreateSchema(ctx, DefaultCatalog, DefaultSchema); err != nil {
		return err
	}
	logger.Debug("metadata tables initialized",
		"catalog", DefaultCatalog, "schema", DefaultSchema)
	return nil
}

// CreateCatalog registers a catalog. Existing catalogs are left untouched.
func (m *Manager) CreateCatalog(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("catalog name must not be empty")
	}
	return m.kv.Put(ctx, []byte(catalogPrefix+name), []byte("{}"))
}

// CreateSchema registers a schema under an existing catalog.
func (m *Manager) CreateSchema(ctx context.Context, catalog, schema string) error {
	if _, err := m.kv.Get(ctx, []byte(catalogPrefix+catalog)); err != nil {
		if errors.Is(err, metastore.ErrKeyNotFound) {
			return fmt.Errorf("catalog %q: %w", catalog, ErrNotFound)
		}
		return err
	}
	return m.kv.Put(ctx, []byte(schemaPrefix+catalog+"/"+schema), []byte("{}"))
}

// SchemaExists reports whether the schema is registered.
func (m *Manager) SchemaExists(ctx context.Context, catalog, schema string) (bool, error) {
	_, err := m.kv.Get(ctx, []byte(schemaPrefix+catalog+"/"+schema))
	if errors.Is(err, metastore.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisterTable records a table and invalidates any cached view of it.
func (m *Manager) RegisterTable(ctx context.Context, info TableInfo) error {
	ok, err := m.SchemaExists(ctx, info.Catalog, info.Schema)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("schema %s.%s: %w", info.Catalog, info.Schema, ErrNotFound)
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode table info: %w", err)
	}
	if err := m.kv.Put(ctx, tableKey(info.Catalog, info.Schema, info.Name), raw); err != nil {
		return err
	}
	return m.invalidator.InvalidateTable(ctx, info.Catalog, info.Schema, info.Name)
}

// Table looks up one table registration.
func (m *Manager) Table(ctx context.Context, catalog, schema, name string) (TableInfo, error) {
	raw, err := m.kv.Get(ctx, tableKey(catalog, schema, name))
	if errors.Is(err, metastore.ErrKeyNotFound) {
		return TableInfo{}, fmt.Errorf("table %s.%s.%s: %w", catalog, schema, name, ErrNotFound)
	}
	if err != nil {
		return TableInfo{}, err
	}
	var info TableInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return TableInfo{}, fmt.Errorf("corrupt table registration: %w", err)
	}
	return info, nil
}

// Route resolves the engine and region serving the table.
func (m *Manager) Route(ctx context.Context, catalog, schema, name string) (engine, region string, err error) {
	info, err := m.Table(ctx, catalog, schema, name)
	if err != nil {
		return "", "", err
	}
	return m.router.Route(ctx, info)
}

// ListTables returns the table names registered under a schema, in key
// order.
func (m *Manager) ListTables(ctx context.Context, catalog, schema string) ([]string, error) {
	prefix := []byte(tablePrefix + catalog + "/" + schema + "/")
	var names []string
	err := m.kv.Scan(ctx, prefix, func(key, _ []byte) error {
		names = append(names, strings.TrimPrefix(string(key), string(prefix)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// DropTable removes a table registration and invalidates caches.
func (m *Manager) DropTable(ctx context.Context, catalog, schema, name string) error {
	if err := m.kv.Delete(ctx, tableKey(catalog, schema, name)); err != nil {
		return err
	}
	return m.invalidator.InvalidateTable(ctx, catalog, schema, name)
}

func tableKey(catalog, schema, name string) []byte {
	return []byte(tablePrefix + catalog + "/" + schema + "/" + name)
}
