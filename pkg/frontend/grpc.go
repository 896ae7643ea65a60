package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/engramdb/engram/internal/logger"
)

// QueryServiceName is the gRPC service the attach client talks to.
const QueryServiceName = "engram.v1.QueryService"

// queryService is the server-side contract of QueryServiceName. The wire
// shapes are well-known types: a statement in, a result struct out.
type queryService interface {
	Query(ctx context.Context, stmt *wrapperspb.StringValue) (*structpb.Struct, error)
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*queryService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: queryMethodHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "engram/v1/query.proto",
}

func queryMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(queryService).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + QueryServiceName + "/Query",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(queryService).Query(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcServer hosts the query service plus the standard health and
// reflection services.
type grpcServer struct {
	opts   GRPCOptions
	ex     *executor
	srv    *grpc.Server
	health *health.Server
	ln     net.Listener
	sem    chan struct{}
}

func newGRPCServer(opts GRPCOptions, ex *executor) *grpcServer {
	s := &grpcServer{
		opts:   opts,
		ex:     ex,
		health: health.NewServer(),
		sem:    make(chan struct{}, opts.RuntimeSize),
	}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.limitConcurrency))
	s.srv.RegisterService(&queryServiceDesc, s)
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	return s
}

// limitConcurrency bounds in-flight unary calls to the configured runtime
// size.
func (s *grpcServer) limitConcurrency(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	return handler(ctx, req)
}

// Query implements the query service over the shared executor.
func (s *grpcServer) Query(ctx context.Context, stmt *wrapperspb.StringValue) (*structpb.Struct, error) {
	rs, err := s.ex.Execute(ctx, stmt.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	columns := make([]any, len(rs.Columns))
	for i, c := range rs.Columns {
		columns[i] = c
	}
	rows := make([]any, len(rs.Rows))
	for i, row := range rs.Rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		rows[i] = cells
	}
	out, err := structpb.NewStruct(map[string]any{
		"columns": columns,
		"rows":    rows,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *grpcServer) Name() string { return "grpc" }

func (s *grpcServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.ln = ln
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server terminated", "error", err)
		}
	}()
	logger.Info("grpc server listening", "addr", ln.Addr().String())
	return nil
}

func (s *grpcServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
	return nil
}

// Addr returns the bound address, for tests that listen on port 0.
func (s *grpcServer) Addr() string {
	if s.ln == nil {
		return s.opts.Addr
	}
	return s.ln.Addr().String()
}
