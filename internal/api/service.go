package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.correlator.v1.Correlator"

const (
	methodCorrelate       = "/" + ServiceName + "/Correlate"
	methodDetectAnomaly   = "/" + ServiceName + "/DetectAnomaly"
	methodRunCycle        = "/" + ServiceName + "/RunCycle"
	methodListIncidents   = "/" + ServiceName + "/ListIncidents"
	methodResolveIncident = "/" + ServiceName + "/ResolveIncident"
)

// CorrelatorServer is the server API for the Correlator service. Every message is a
// google.protobuf.Struct carrying the JSON documents described in handlers.go.
type CorrelatorServer interface {
	Correlate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DetectAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunCycle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedCorrelatorServer can be embedded to satisfy CorrelatorServer.
type UnimplementedCorrelatorServer struct{}

func (UnimplementedCorrelatorServer) Correlate(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Correlate not implemented")
}

func (UnimplementedCorrelatorServer) DetectAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method DetectAnomaly not implemented")
}

func (UnimplementedCorrelatorServer) RunCycle(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method RunCycle not implemented")
}

func (UnimplementedCorrelatorServer) ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListIncidents not implemented")
}

func (UnimplementedCorrelatorServer) ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ResolveIncident not implemented")
}

// RegisterCorrelatorServer registers srv with the gRPC registrar.
func RegisterCorrelatorServer(s grpc.ServiceRegistrar, srv CorrelatorServer) {
	s.RegisterService(&CorrelatorServiceDesc, srv)
}

type structHandler func(CorrelatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structHandler) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CorrelatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CorrelatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CorrelatorServiceDesc describes the Correlator service for grpc.Server.RegisterService.
var CorrelatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CorrelatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Correlate",
			Handler: unaryHandler(methodCorrelate, func(s CorrelatorServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Correlate(ctx, in)
			}),
		},
		{
			MethodName: "DetectAnomaly",
			Handler: unaryHandler(methodDetectAnomaly, func(s CorrelatorServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.DetectAnomaly(ctx, in)
			}),
		},
		{
			MethodName: "RunCycle",
			Handler: unaryHandler(methodRunCycle, func(s CorrelatorServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.RunCycle(ctx, in)
			}),
		},
		{
			MethodName: "ListIncidents",
			Handler: unaryHandler(methodListIncidents, func(s CorrelatorServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ListIncidents(ctx, in)
			}),
		},
		{
			MethodName: "ResolveIncident",
			Handler: unaryHandler(methodResolveIncident, func(s CorrelatorServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.ResolveIncident(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/correlator/v1/correlator.proto",
}

// CorrelatorClient is the client API for the Correlator service.
type CorrelatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCorrelatorClient wraps a client connection.
func NewCorrelatorClient(cc grpc.ClientConnInterface) *CorrelatorClient {
	return &CorrelatorClient{cc: cc}
}

func (c *CorrelatorClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Correlate calls Correlator.Correlate.
func (c *CorrelatorClient) Correlate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCorrelate, in, opts...)
}

// DetectAnomaly calls Correlator.DetectAnomaly.
func (c *CorrelatorClient) DetectAnomaly(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDetectAnomaly, in, opts...)
}

// RunCycle calls Correlator.RunCycle.
func (c *CorrelatorClient) RunCycle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodRunCycle, in, opts...)
}

// ListIncidents calls Correlator.ListIncidents.
func (c *CorrelatorClient) ListIncidents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListIncidents, in, opts...)
}

// ResolveIncident calls Correlator.ResolveIncident.
func (c *CorrelatorClient) ResolveIncident(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodResolveIncident, in, opts...)
}
