package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "newface.discovery.v1.DiscoveryService"

// Full method names, for clients invoking the service without stubs.
const (
	MethodStartDiscovery     = "/" + ServiceName + "/StartDiscovery"
	MethodGetDiscoveryJob    = "/" + ServiceName + "/GetDiscoveryJob"
	MethodDeleteDiscoveryJob = "/" + ServiceName + "/DeleteDiscoveryJob"
	MethodScoreProfile       = "/" + ServiceName + "/ScoreProfile"
	MethodMoveCandidate      = "/" + ServiceName + "/MoveCandidate"
)

// DiscoveryServer is the server API of the discovery service.
type DiscoveryServer interface {
	StartDiscovery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDiscoveryJob(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	DeleteDiscoveryJob(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	ScoreProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MoveCandidate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes DiscoveryService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiscoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartDiscovery", func() *structpb.Struct { return new(structpb.Struct) },
			func(s DiscoveryServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.StartDiscovery(ctx, in)
			}),
		unary("GetDiscoveryJob", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) },
			func(s DiscoveryServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
				return s.GetDiscoveryJob(ctx, in)
			}),
		unary("DeleteDiscoveryJob", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) },
			func(s DiscoveryServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
				return s.DeleteDiscoveryJob(ctx, in)
			}),
		unary("ScoreProfile", func() *structpb.Struct { return new(structpb.Struct) },
			func(s DiscoveryServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.ScoreProfile(ctx, in)
			}),
		unary("MoveCandidate", func() *structpb.Struct { return new(structpb.Struct) },
			func(s DiscoveryServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.MoveCandidate(ctx, in)
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "newface/discovery/v1/discovery.proto",
}

// Register mounts srv on gs.
func Register(gs *grpc.Server, srv DiscoveryServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

func unary[In proto.Message](method string, newIn func() In, call func(DiscoveryServer, context.Context, In) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newIn()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(DiscoveryServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(In))
			})
		},
	}
}
