// Package frontend is the client-facing tier: it hosts every protocol
// surface (HTTP, gRPC, MySQL, PostgreSQL, OpenTSDB) over one shared query
// executor.
package frontend

import (
	"context"
	"fmt"
	"strings"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/catalog"
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/plugins"
	"github.com/engramdb/engram/pkg/procedure"
)

// Server is one protocol surface owned by the instance.
type Server interface {
	Name() string
	// Start binds the listener and serves in the background.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Instance is a frontend wired to local (standalone) collaborators.
type Instance struct {
	opts    Options
	plugins *plugins.Plugins
	ex      *executor

	servers []Server
	started bool
}

// NewStandalone builds a frontend instance over in-process collaborators.
// Servers are not constructed yet; call BuildServers.
func NewStandalone(
	p *plugins.Plugins,
	kv metastore.KVBackend,
	proc *procedure.Manager,
	cat *catalog.Manager,
	regions *datanode.RegionServer,
	opts Options,
) (*Instance, error) {
	if kv == nil || proc == nil || cat == nil || regions == nil {
		return nil, fmt.Errorf("frontend requires metadata store, procedure manager, catalog and region server")
	}
	if p == nil {
		p = plugins.New()
	}
	return &Instance{
		opts:    opts,
		plugins: p,
		ex:      newExecutor(cat, regions, proc),
	}, nil
}

// BuildServers constructs every enabled protocol surface. Nothing listens
// until Start; construction only validates configuration (TLS material
// included) and wires handlers.
func (ins *Instance) BuildServers(ctx context.Context) error {
	if len(ins.servers) > 0 {
		return fmt.Errorf("servers already built")
	}

	var provider plugins.UserProvider
	if p, ok := plugins.Get[plugins.UserProvider](ins.plugins); ok {
		provider = p
	}

	ins.servers = append(ins.servers, newHTTPServer(
		ins.opts.HTTP,
		ins.opts.InfluxDB.Enable,
		ins.opts.PromStore.Enable,
		ins.ex,
		ins.plugins,
	))
	ins.servers = append(ins.servers, newGRPCServer(ins.opts.GRPC, ins.ex))

	if ins.opts.MySQL.Enable {
		srv, err := newWireServer("mysql",
			ins.opts.MySQL.Addr, ins.opts.MySQL.RuntimeSize,
			ins.opts.MySQL.TLS, provider, ins.ex.Execute)
		if err != nil {
			return err
		}
		ins.servers = append(ins.servers, srv)
	}
	if ins.opts.Postgres.Enable {
		srv, err := newWireServer("postgres",
			ins.opts.Postgres.Addr, ins.opts.Postgres.RuntimeSize,
			ins.opts.Postgres.TLS, provider, ins.ex.Execute)
		if err != nil {
			return err
		}
		ins.servers = append(ins.servers, srv)
	}
	if ins.opts.OpenTSDB.Enable {
		srv, err := newWireServer("opentsdb",
			ins.opts.OpenTSDB.Addr, ins.opts.OpenTSDB.RuntimeSize,
			DefaultTLSOption(), provider, ins.handleOpenTSDB)
		if err != nil {
			return err
		}
		ins.servers = append(ins.servers, srv)
	}

	names := make([]string, len(ins.servers))
	for i, s := range ins.servers {
		names[i] = s.Name()
	}
	logger.Debug("frontend servers built", "servers", names)
	return nil
}

// handleOpenTSDB translates the telnet-style "put <metric> <ts> <value>
// [tags]" command into a table write.
func (ins *Instance) handleOpenTSDB(ctx context.Context, line string) (*ResultSet, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !strings.EqualFold(fields[0], "put") {
		return nil, fmt.Errorf("expected put <metric> <timestamp> <value> [tags]")
	}
	metric, ts, value := fields[1], fields[2], strings.Join(fields[3:], " ")

	engine, region, err := ins.ex.catalog.Route(ctx,
		catalog.DefaultCatalog, catalog.DefaultSchema, metric)
	if err != nil {
		return nil, err
	}
	if err := ins.ex.regions.HandleWrite(ctx, engine, region, []byte(ts), []byte(value)); err != nil {
		return nil, err
	}
	return &ResultSet{Columns: []string{"result"}, Rows: [][]string{{"ok"}}}, nil
}

// Start binds and serves every built server. A failure stops the servers
// already started before returning.
func (ins *Instance) Start(ctx context.Context) error {
	if len(ins.servers) == 0 {
		return fmt.Errorf("servers not built")
	}
	if ins.started {
		return fmt.Errorf("frontend already started")
	}

	for i, srv := range ins.servers {
		if err := srv.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if serr := ins.servers[j].Shutdown(ctx); serr != nil {
					logger.Error("failed to stop server during rollback",
						"server", ins.servers[j].Name(), "error", serr)
				}
			}
			return fmt.Errorf("failed to start %s server: %w", srv.Name(), err)
		}
	}
	ins.started = true
	return nil
}

// Shutdown stops the servers in reverse start order.
func (ins *Instance) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(ins.servers) - 1; i >= 0; i-- {
		if err := ins.servers[i].Shutdown(ctx); err != nil {
			logger.Error("failed to stop server",
				"server", ins.servers[i].Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	ins.started = false
	return firstErr
}

// Servers exposes the built servers, for tests and the boot sequence log.
func (ins *Instance) Servers() []Server {
	return ins.servers
}

// Execute runs one statement through the shared executor. The attach
// client's gRPC path lands here via the query service.
func (ins *Instance) Execute(ctx context.Context, stmt string) (*ResultSet, error) {
	return ins.ex.Execute(ctx, stmt)
}
