package server

import (
	"context"
	"errors"

	"github.com/triage-ai/palisade-rasp/internal/auth"
	"github.com/triage-ai/palisade-rasp/internal/eventcodec"
	"github.com/triage-ai/palisade-rasp/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "palisade.rasp.v1.RaspService"
	evaluateMethod = "/" + serviceName + "/Evaluate"
)

// RaspServiceServer is the server API for palisade.rasp.v1.RaspService.
// Requests and responses are google.protobuf.Struct documents:
//
//	request:  {"type": "sql", "params": {...}, "context": {...}}
//	response: {"action", "message", "confidence", "algorithm", "request_id", "is_shadow", "latency_ms"}
type RaspServiceServer interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RaspServiceDesc describes the service for grpc.Server.RegisterService.
var RaspServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RaspServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "palisade/rasp/v1/rasp.proto",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaspServiceServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaspServiceServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterRaspServiceServer registers srv on s.
func RegisterRaspServiceServer(s grpc.ServiceRegistrar, srv RaspServiceServer) {
	s.RegisterService(&RaspServiceDesc, srv)
}

// RaspServiceClient is the client API for palisade.rasp.v1.RaspService.
type RaspServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRaspServiceClient(cc grpc.ClientConnInterface) *RaspServiceClient {
	return &RaspServiceClient{cc: cc}
}

func (c *RaspServiceClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, evaluateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RaspServer implements RaspServiceServer.
type RaspServer struct {
	evaluator *service.Evaluator
	auth      auth.Authenticator
	logger    *zap.Logger
}

// NewRaspServer creates a new RaspServer with the given dependencies.
func NewRaspServer(evaluator *service.Evaluator, authenticator auth.Authenticator, logger *zap.Logger) *RaspServer {
	return &RaspServer{
		evaluator: evaluator,
		auth:      authenticator,
		logger:    logger,
	}
}

// Evaluate authenticates the caller, decodes the operation and returns the verdict.
func (s *RaspServer) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	project, err := auth.Authenticate(ctx, s.auth)
	if err != nil {
		if errors.Is(err, auth.ErrAuthUnavailable) {
			return nil, status.Errorf(codes.Unavailable, "auth failed: %v", err)
		}
		return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}

	ev, rc, err := eventcodec.DecodeMap(req.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid event: %v", err)
	}

	res := s.evaluator.Evaluate(project, ev, rc, "grpc")
	out, err := structpb.NewStruct(res.Fields())
	if err != nil {
		s.logger.Error("encode verdict failed", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "encode verdict: %v", err)
	}
	return out, nil
}

var _ RaspServiceServer = (*RaspServer)(nil)
