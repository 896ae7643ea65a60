package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramdb/engram/pkg/catalog"
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/procedure"
)

// ResultSet is the tabular result every query surface renders.
type ResultSet struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// executor runs statements against the catalog and the region server. The
// statement language is the small core every protocol surface shares.
type executor struct {
	catalog *catalog.Manager
	regions *datanode.RegionServer
	proc    *procedure.Manager
}

func newExecutor(cat *catalog.Manager, regions *datanode.RegionServer, proc *procedure.Manager) *executor {
	ex := &executor{catalog: cat, regions: regions, proc: proc}
	proc.RegisterLoader(createTableProcedureType, ex.loadCreateTable)
	return ex
}

// Execute parses and runs one statement.
//
//	CREATE TABLE <name> [ENGINE <engine>]
//	INSERT <table> <key> <value>
//	SELECT <table> <key>
//	SHOW TABLES
func (ex *executor) Execute(ctx context.Context, stmt string) (*ResultSet, error) {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty statement")
	}

	switch strings.ToUpper(fields[0]) {
	case "CREATE":
		return ex.createTable(ctx, fields)
	case "INSERT":
		return ex.insert(ctx, fields)
	case "SELECT":
		return ex.selectRow(ctx, fields)
	case "SHOW":
		return ex.showTables(ctx, fields)
	default:
		return nil, fmt.Errorf("unsupported statement %q", fields[0])
	}
}

const createTableProcedureType = "catalog.create_table"

type createTablePayload struct {
	Table  string `json:"table"`
	Engine string `json:"engine"`
}

// createTableProcedure registers a table through the procedure manager so
// the DDL survives a crash mid-flight.
type createTableProcedure struct {
	ex      *executor
	payload createTablePayload
}

func (p *createTableProcedure) TypeName() string { return createTableProcedureType }

func (p *createTableProcedure) Execute(ctx context.Context) error {
	return p.ex.catalog.RegisterTable(ctx, catalog.TableInfo{
		Catalog: catalog.DefaultCatalog,
		Schema:  catalog.DefaultSchema,
		Name:    p.payload.Table,
		Engine:  p.payload.Engine,
		Region:  p.payload.Table + "-0",
	})
}

func (ex *executor) loadCreateTable(raw json.RawMessage) (procedure.Procedure, error) {
	var payload createTablePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("corrupt create table payload: %w", err)
	}
	return &createTableProcedure{ex: ex, payload: payload}, nil
}

func (ex *executor) createTable(ctx context.Context, fields []string) (*ResultSet, error) {
	if len(fields) < 3 || !strings.EqualFold(fields[1], "TABLE") {
		return nil, fmt.Errorf("expected CREATE TABLE <name> [ENGINE <engine>]")
	}
	payload := createTablePayload{Table: fields[2], Engine: datanode.EngineBasin}
	if len(fields) == 5 && strings.EqualFold(fields[3], "ENGINE") {
		payload.Engine = fields[4]
	} else if len(fields) != 3 {
		return nil, fmt.Errorf("expected CREATE TABLE <name> [ENGINE <engine>]")
	}
	if _, ok := ex.regions.Engine(payload.Engine); !ok {
		return nil, fmt.Errorf("no region engine %q", payload.Engine)
	}

	proc := &createTableProcedure{ex: ex, payload: payload}
	if err := ex.proc.Submit(ctx, "create-table-"+payload.Table, proc, payload); err != nil {
		return nil, err
	}
	ex.proc.Wait()
	if _, err := ex.catalog.Table(ctx, catalog.DefaultCatalog, catalog.DefaultSchema, payload.Table); err != nil {
		return nil, fmt.Errorf("create table %s failed: %w", payload.Table, err)
	}
	return &ResultSet{Columns: []string{"result"}, Rows: [][]string{{"ok"}}}, nil
}

func (ex *executor) insert(ctx context.Context, fields []string) (*ResultSet, error) {
	if len(fields) < 4 {
		return nil, fmt.Errorf("expected INSERT <table> <key> <value>")
	}
	engine, region, err := ex.catalog.Route(ctx, catalog.DefaultCatalog, catalog.DefaultSchema, fields[1])
	if err != nil {
		return nil, err
	}
	value := strings.Join(fields[3:], " ")
	if err := ex.regions.HandleWrite(ctx, engine, region, []byte(fields[2]), []byte(value)); err != nil {
		return nil, err
	}
	return &ResultSet{Columns: []string{"result"}, Rows: [][]string{{"ok"}}}, nil
}

func (ex *executor) selectRow(ctx context.Context, fields []string) (*ResultSet, error) {
	if len(fields) != 3 {
		return nil, fmt.Errorf("expected SELECT <table> <key>")
	}
	engine, region, err := ex.catalog.Route(ctx, catalog.DefaultCatalog, catalog.DefaultSchema, fields[1])
	if err != nil {
		return nil, err
	}
	value, err := ex.regions.HandleRead(ctx, engine, region, []byte(fields[2]))
	if err != nil {
		return nil, err
	}
	return &ResultSet{
		Columns: []string{"key", "value"},
		Rows:    [][]string{{fields[2], string(value)}},
	}, nil
}

func (ex *executor) showTables(ctx context.Context, fields []string) (*ResultSet, error) {
	if len(fields) != 2 || !strings.EqualFold(fields[1], "TABLES") {
		return nil, fmt.Errorf("expected SHOW TABLES")
	}
	names, err := ex.catalog.ListTables(ctx, catalog.DefaultCatalog, catalog.DefaultSchema)
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Columns: []string{"table"}}
	for _, name := range names {
		rs.Rows = append(rs.Rows, []string{name})
	}
	return rs, nil
}
