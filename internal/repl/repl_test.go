package repl

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type stubQueryService struct {
	lastStmt string
}

func (s *stubQueryService) query(_ context.Context, stmt *wrapperspb.StringValue) (*structpb.Struct, error) {
	s.lastStmt = stmt.GetValue()
	return structpb.NewStruct(map[string]any{
		"columns": []any{"table"},
		"rows":    []any{[]any{"metrics"}},
	})
}

func startStubServer(t *testing.T, serving bool) (string, *stubQueryService) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stub := &stubQueryService{}
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "engram.v1.QueryService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Query",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				return stub.query(ctx, in)
			},
		}},
		Streams: []grpc.StreamDesc{},
	}, stub)

	h := health.NewServer()
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.SetServingStatus("", status)
	healthpb.RegisterHealthServer(srv, h)

	go srv.Serve(ln)
	t.Cleanup(srv.Stop)
	return ln.Addr().String(), stub
}

func TestConnectAndQuery(t *testing.T) {
	addr, stub := startStubServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	columns, rows, err := client.Query(ctx, "SHOW TABLES")
	require.NoError(t, err)
	assert.Equal(t, []string{"table"}, columns)
	assert.Equal(t, [][]string{{"metrics"}}, rows)
	assert.Equal(t, "SHOW TABLES", stub.lastStmt)
}

func TestConnectRejectsNotServing(t *testing.T) {
	addr, _ := startStubServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Connect(ctx, addr)
	assert.Error(t, err)
}
