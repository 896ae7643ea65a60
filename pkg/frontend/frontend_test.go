package frontend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/engramdb/engram/pkg/catalog"
	"github.com/engramdb/engram/pkg/datanode"
	"github.com/engramdb/engram/pkg/metastore"
	"github.com/engramdb/engram/pkg/plugins"
	"github.com/engramdb/engram/pkg/procedure"
)

// newTestInstance stands up the whole standalone stack on ephemeral ports.
func newTestInstance(t *testing.T, p *plugins.Plugins) *Instance {
	t.Helper()
	ctx := context.Background()

	kv := metastore.NewMemory()
	proc := procedure.NewManager(kv, procedure.DefaultConfig())
	require.NoError(t, proc.Start(ctx))

	cat := catalog.NewManager(kv, nil, nil)
	require.NoError(t, cat.InitMetadataTables(ctx))

	dnOpts := datanode.DefaultOptions()
	dnOpts.Storage.DataHome = t.TempDir()
	dnOpts.WAL.PurgeInterval = time.Hour
	dn, err := datanode.Builder{Opts: dnOpts, KV: kv}.Build(ctx)
	require.NoError(t, err)
	require.NoError(t, dn.Start(ctx))
	t.Cleanup(func() { dn.Shutdown(context.Background()) })

	opts := DefaultOptions()
	opts.HTTP.Addr = "127.0.0.1:0"
	opts.GRPC.Addr = "127.0.0.1:0"
	opts.MySQL.Addr = "127.0.0.1:0"
	opts.Postgres.Addr = "127.0.0.1:0"
	opts.OpenTSDB.Addr = "127.0.0.1:0"

	ins, err := NewStandalone(p, kv, proc, cat, dn.RegionServer(), opts)
	require.NoError(t, err)
	require.NoError(t, ins.BuildServers(ctx))
	require.NoError(t, ins.Start(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ins.Shutdown(ctx)
	})
	return ins
}

func serverAddr(t *testing.T, ins *Instance, name string) string {
	t.Helper()
	for _, s := range ins.Servers() {
		if s.Name() != name {
			continue
		}
		switch srv := s.(type) {
		case *httpServer:
			return srv.Addr()
		case *grpcServer:
			return srv.Addr()
		case *wireServer:
			return srv.Addr()
		}
	}
	t.Fatalf("no server %q", name)
	return ""
}

func postSQL(t *testing.T, addr, stmt string) (*http.Response, *ResultSet) {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/v1/sql", "text/plain", strings.NewReader(stmt))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var rs ResultSet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rs))
	return resp, &rs
}

func TestHTTPSQLRoundTrip(t *testing.T) {
	ins := newTestInstance(t, nil)
	addr := serverAddr(t, ins, "http")

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postSQL(t, addr, "CREATE TABLE metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postSQL(t, addr, "INSERT metrics cpu 0.75")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, rs := postSQL(t, addr, "SELECT metrics cpu")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, []string{"cpu", "0.75"}, rs.Rows[0])

	resp, rs = postSQL(t, addr, "SHOW TABLES")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, [][]string{{"metrics"}}, rs.Rows)

	resp, _ = postSQL(t, addr, "DROP everything")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPAuth(t *testing.T) {
	p := plugins.New()
	require.NoError(t, plugins.SetupFrontend(p, "static_user_provider:cmd=alice=secret"))
	ins := newTestInstance(t, p)
	addr := serverAddr(t, ins, "http")

	// Unauthenticated requests are rejected.
	resp, err := http.Post("http://"+addr+"/v1/sql", "text/plain", strings.NewReader("SHOW TABLES"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Basic auth passes.
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/v1/sql", strings.NewReader("SHOW TABLES"))
	require.NoError(t, err)
	req.SetBasicAuth("alice", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Login issues a bearer token that also passes.
	req, err = http.NewRequest(http.MethodPost, "http://"+addr+"/v1/login", nil)
	require.NoError(t, err)
	req.SetBasicAuth("alice", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var login map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.NotEmpty(t, login["token"])

	req, err = http.NewRequest(http.MethodPost, "http://"+addr+"/v1/sql", strings.NewReader("SHOW TABLES"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login["token"])
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGRPCQueryService(t *testing.T) {
	ins := newTestInstance(t, nil)
	addr := serverAddr(t, ins, "grpc")

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)

	_, err = ins.Execute(ctx, "CREATE TABLE t")
	require.NoError(t, err)

	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+QueryServiceName+"/Query", wrapperspb.String("SHOW TABLES"), out)
	require.NoError(t, err)

	rows := out.Fields["rows"].GetListValue().GetValues()
	require.Len(t, rows, 1)
	assert.Equal(t, "t", rows[0].GetListValue().GetValues()[0].GetStringValue())
}

func TestWireServerLineProtocol(t *testing.T) {
	ins := newTestInstance(t, nil)
	_, err := ins.Execute(context.Background(), "CREATE TABLE sys")
	require.NoError(t, err)

	conn, err := net.Dial("tcp", serverAddr(t, ins, "mysql"))
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	fmt.Fprintln(conn, "INSERT sys load 1.5")
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK 1\n", line)
	r.ReadString('\n')

	fmt.Fprintln(conn, "SELECT sys load")
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK 1\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "load\t1.5\n", line)

	fmt.Fprintln(conn, "SELECT missing k")
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "ERR "), line)
}

func TestWireServerAuth(t *testing.T) {
	p := plugins.New()
	require.NoError(t, plugins.SetupFrontend(p, "static_user_provider:cmd=root=toor"))
	ins := newTestInstance(t, p)

	conn, err := net.Dial("tcp", serverAddr(t, ins, "postgres"))
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	fmt.Fprintln(conn, "auth root:toor")
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK\n", line)

	// Bad credentials drop the connection.
	conn2, err := net.Dial("tcp", serverAddr(t, ins, "postgres"))
	require.NoError(t, err)
	defer conn2.Close()
	fmt.Fprintln(conn2, "auth root:wrong")
	line, err = bufio.NewReader(conn2).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "ERR "), line)
}

func TestOpenTSDBPut(t *testing.T) {
	ins := newTestInstance(t, nil)
	ctx := context.Background()
	_, err := ins.Execute(ctx, "CREATE TABLE sys_cpu")
	require.NoError(t, err)

	conn, err := net.Dial("tcp", serverAddr(t, ins, "opentsdb"))
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintln(conn, "put sys_cpu 1700000000 42.5 host=a")
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK 1\n", line)

	rs, err := ins.Execute(ctx, "SELECT sys_cpu 1700000000")
	require.NoError(t, err)
	assert.Equal(t, "42.5 host=a", rs.Rows[0][1])
}

func TestDisabledServersNotBuilt(t *testing.T) {
	ctx := context.Background()
	kv := metastore.NewMemory()
	proc := procedure.NewManager(kv, procedure.DefaultConfig())
	cat := catalog.NewManager(kv, nil, nil)
	require.NoError(t, cat.InitMetadataTables(ctx))

	opts := DefaultOptions()
	opts.MySQL.Enable = false
	opts.Postgres.Enable = false
	opts.OpenTSDB.Enable = false

	ins, err := NewStandalone(nil, kv, proc, cat, datanode.NewRegionServer(), opts)
	require.NoError(t, err)
	require.NoError(t, ins.BuildServers(ctx))

	names := make([]string, 0, len(ins.Servers()))
	for _, s := range ins.Servers() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"http", "grpc"}, names)
}

func TestTLSRequireNeedsCertificate(t *testing.T) {
	ctx := context.Background()
	kv := metastore.NewMemory()
	proc := procedure.NewManager(kv, procedure.DefaultConfig())
	cat := catalog.NewManager(kv, nil, nil)
	require.NoError(t, cat.InitMetadataTables(ctx))

	opts := DefaultOptions()
	opts.MySQL.TLS = NewTLSOption("require", "/nonexistent/cert.pem", "/nonexistent/key.pem")

	ins, err := NewStandalone(nil, kv, proc, cat, datanode.NewRegionServer(), opts)
	require.NoError(t, err)
	assert.Error(t, ins.BuildServers(ctx))
}
