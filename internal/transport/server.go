package transport

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "npc.v1.DecisionService"

const (
	decideMethod = "/" + ServiceName + "/Decide"
	statusMethod = "/" + ServiceName + "/Status"
)

// #region service

// Engine is the part of the decision engine the service exposes.
type Engine interface {
	DecideRecord(ctx context.Context, c schema.Context) (interaction.Record, error)
	Stats() engine.Stats
	Codec() *schema.Codec
}

// DecisionServer is implemented by Server; it is the HandlerType of the
// service descriptor.
type DecisionServer interface {
	Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// Server serves DecisionService over an engine.
type Server struct {
	engine Engine
	logger *zap.Logger
}

// NewServer wraps e. A nil logger is replaced by a no-op logger.
func NewServer(e Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: e, logger: logger.Named("grpc")}
}

// Decide expects {"context": {...}} and answers with the logged record:
// {"action", "source", "seq", "id"}.
func (s *Server) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["context"].GetStructValue()
	if raw == nil {
		return nil, status.Error(codes.InvalidArgument, "missing context")
	}
	c := s.engine.Codec().Schema().Coerce(raw.AsMap())
	rec, err := s.engine.DecideRecord(ctx, c)
	if err != nil {
		return nil, status.Error(codeOf(err), err.Error())
	}
	return structpb.NewStruct(map[string]any{
		"action": string(rec.Action),
		"source": string(rec.Source),
		"seq":    float64(rec.Seq),
		"id":     rec.ID,
	})
}

// Status reports the engine's accessors.
func (s *Server) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(StatusMap(s.engine.Stats()))
}

// StatusMap flattens stats into JSON-compatible values; the HTTP API
// serves the same shape.
func StatusMap(st engine.Stats) map[string]any {
	m := map[string]any{
		"state":          st.State.String(),
		"policy_kind":    string(st.PolicyKind),
		"log_size":       float64(st.LogSize),
		"interactions":   float64(st.Interactions),
		"retrain_cycles": float64(st.RetrainCycles),
		"model_version":  st.ModelVersion,
	}
	if out := st.LastRetrain; out != nil {
		last := map[string]any{
			"cycle":       float64(out.Cycle),
			"manual":      out.Manual,
			"status":      string(out.Status),
			"samples":     float64(out.Samples),
			"duration_ms": float64(out.Duration.Milliseconds()),
		}
		if out.Err != nil {
			last["error"] = out.Err.Error()
		}
		if out.Gate.Reason != "" {
			last["gate"] = out.Gate.Reason
		}
		m["last_retrain"] = last
	}
	return m
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, schema.ErrSchemaMismatch):
		return codes.InvalidArgument
	case errors.Is(err, engine.ErrNotReady), errors.Is(err, policy.ErrPolicyNotTrained):
		return codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// #endregion service

// #region descriptor

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecisionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "npc/v1/decision.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv DecisionServer) {
	s.RegisterService(&serviceDesc, srv)
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion descriptor

// #region server

// NewGRPCServer builds a grpc.Server with DecisionService registered and
// every call logged.
func NewGRPCServer(e Engine, logger *zap.Logger) *grpc.Server {
	srv := NewServer(e, logger)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(srv.logger)))
	Register(gs, srv)
	return gs
}

// LoggingInterceptor logs method, status code and latency of unary calls.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("took", time.Since(start)),
		}
		if code == codes.Internal {
			logger.Error("rpc", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc", fields...)
		}
		return resp, err
	}
}

// #endregion server
