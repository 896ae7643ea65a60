package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/pkg/metastore"
)

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) InvalidateTable(_ context.Context, catalog, schema, table string) error {
	r.calls = append(r.calls, catalog+"."+schema+"."+table)
	return nil
}

func TestInitMetadataTablesIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewManager(metastore.NewMemory(), nil, nil)

	require.NoError(t, m.InitMetadataTables(ctx))
	require.NoError(t, m.InitMetadataTables(ctx))

	ok, err := m.SchemaExists(ctx, DefaultCatalog, DefaultSchema)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterAndRouteTable(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	m := NewManager(metastore.NewMemory(), inv, nil)
	require.NoError(t, m.InitMetadataTables(ctx))

	info := TableInfo{
		Catalog: DefaultCatalog,
		Schema:  DefaultSchema,
		Name:    "metrics",
		Engine:  "basin",
		Region:  "metrics-0",
	}
	require.NoError(t, m.RegisterTable(ctx, info))
	assert.Equal(t, []string{"engram.public.metrics"}, inv.calls)

	engine, region, err := m.Route(ctx, DefaultCatalog, DefaultSchema, "metrics")
	require.NoError(t, err)
	assert.Equal(t, "basin", engine)
	assert.Equal(t, "metrics-0", region)

	names, err := m.ListTables(ctx, DefaultCatalog, DefaultSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics"}, names)
}

func TestRegisterTableRequiresSchema(t *testing.T) {
	ctx := context.Background()
	m := NewManager(metastore.NewMemory(), nil, nil)
	require.NoError(t, m.InitMetadataTables(ctx))

	err := m.RegisterTable(ctx, TableInfo{
		Catalog: DefaultCatalog,
		Schema:  "missing",
		Name:    "t",
		Engine:  "basin",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDropTable(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	m := NewManager(metastore.NewMemory(), inv, nil)
	require.NoError(t, m.InitMetadataTables(ctx))

	info := TableInfo{Catalog: DefaultCatalog, Schema: DefaultSchema, Name: "t", Engine: "basin"}
	require.NoError(t, m.RegisterTable(ctx, info))
	require.NoError(t, m.DropTable(ctx, DefaultCatalog, DefaultSchema, "t"))

	_, err := m.Table(ctx, DefaultCatalog, DefaultSchema, "t")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, inv.calls, 2)
}

func TestCreateSchemaUnknownCatalog(t *testing.T) {
	m := NewManager(metastore.NewMemory(), nil, nil)
	err := m.CreateSchema(context.Background(), "nope", "s")
	assert.ErrorIs(t, err, ErrNotFound)
}
