package grpcmesh

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified mesh service name.
	ServiceName   = "gamesync.mesh.v1.Mesh"
	deliverMethod = "/" + ServiceName + "/Deliver"
)

// MeshServer is the server side of the mesh service.
type MeshServer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var meshServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeshServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gamesync/mesh/v1/mesh.proto",
}

// RegisterMeshServer registers srv on s.
func RegisterMeshServer(s grpc.ServiceRegistrar, srv MeshServer) {
	s.RegisterService(&meshServiceDesc, srv)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// MeshClient is the client side of the mesh service.
type MeshClient interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type meshClient struct {
	cc grpc.ClientConnInterface
}

// NewMeshClient returns a client for the mesh service on cc.
func NewMeshClient(cc grpc.ClientConnInterface) MeshClient {
	return &meshClient{cc: cc}
}

func (c *meshClient) Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, deliverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// server adapts a Mesh to MeshServer.
type server struct {
	mesh *Mesh
}

func (s *server) Deliver(_ context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	h := s.mesh.currentHandler()
	if h == nil {
		return nil, status.Error(codes.Unavailable, "no handler registered")
	}
	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty message")
	}
	h(in.GetValue())
	return &emptypb.Empty{}, nil
}
