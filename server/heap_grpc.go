package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// HeapServiceName is the fully-qualified name of the heap service.
const HeapServiceName = "pairvm.v1.HeapService"

// Procedure paths, shared by Connect and gRPC.
const (
	HeapServiceStatsProcedure    = "/" + HeapServiceName + "/Stats"
	HeapServiceCollectProcedure  = "/" + HeapServiceName + "/Collect"
	HeapServicePushIntProcedure  = "/" + HeapServiceName + "/PushInt"
	HeapServicePushPairProcedure = "/" + HeapServiceName + "/PushPair"
	HeapServicePopProcedure      = "/" + HeapServiceName + "/Pop"
	HeapServiceInspectProcedure  = "/" + HeapServiceName + "/Inspect"
	HeapServiceImageProcedure    = "/" + HeapServiceName + "/Image"
)

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// NewHeapServiceHandler builds the Connect handler for svc. It returns the
// path to mount it on. Connect handlers also speak the gRPC and gRPC-Web
// protocols when served over HTTP/2.
func NewHeapServiceHandler(svc HeapServer, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(HeapServiceStatsProcedure,
		connect.NewUnaryHandler(HeapServiceStatsProcedure, connectUnary(svc.Stats), opts...))
	mux.Handle(HeapServiceCollectProcedure,
		connect.NewUnaryHandler(HeapServiceCollectProcedure, connectUnary(svc.Collect), opts...))
	mux.Handle(HeapServicePushIntProcedure,
		connect.NewUnaryHandler(HeapServicePushIntProcedure, connectUnary(svc.PushInt), opts...))
	mux.Handle(HeapServicePushPairProcedure,
		connect.NewUnaryHandler(HeapServicePushPairProcedure, connectUnary(svc.PushPair), opts...))
	mux.Handle(HeapServicePopProcedure,
		connect.NewUnaryHandler(HeapServicePopProcedure, connectUnary(svc.Pop), opts...))
	mux.Handle(HeapServiceInspectProcedure,
		connect.NewUnaryHandler(HeapServiceInspectProcedure, connectUnary(svc.Inspect), opts...))
	mux.Handle(HeapServiceImageProcedure,
		connect.NewUnaryHandler(HeapServiceImageProcedure, connectUnary(svc.Image), opts...))
	return "/" + HeapServiceName + "/", mux
}

func connectUnary[Req, Res any](
	fn func(context.Context, *Req) (*Res, error),
) func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error) {
	return func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, connect.NewError(errorCode(err), err)
		}
		return connect.NewResponse(res), nil
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

// HeapServiceDesc describes the heap service to a grpc.Server. Messages are
// protobuf well-known types, so no generated code is involved.
var HeapServiceDesc = grpc.ServiceDesc{
	ServiceName: HeapServiceName,
	HandlerType: (*HeapServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcUnary("Stats", HeapServer.Stats),
		grpcUnary("Collect", HeapServer.Collect),
		grpcUnary("PushInt", HeapServer.PushInt),
		grpcUnary("PushPair", HeapServer.PushPair),
		grpcUnary("Pop", HeapServer.Pop),
		grpcUnary("Inspect", HeapServer.Inspect),
		grpcUnary("Image", HeapServer.Image),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pairvm/v1/heap.proto",
}

// RegisterHeapServer registers svc on a gRPC server.
func RegisterHeapServer(s grpc.ServiceRegistrar, svc HeapServer) {
	s.RegisterService(&HeapServiceDesc, svc)
}

func grpcUnary[Req, Res any](
	method string,
	call func(HeapServer, context.Context, *Req) (*Res, error),
) grpc.MethodDesc {
	fullMethod := "/" + HeapServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				res, err := call(srv.(HeapServer), ctx, req.(*Req))
				if err != nil {
					return nil, status.Error(codes.Code(errorCode(err)), err.Error())
				}
				return res, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// HeapClient calls the heap service over a gRPC connection.
type HeapClient struct {
	cc grpc.ClientConnInterface
}

// NewHeapClient creates a HeapClient.
func NewHeapClient(cc grpc.ClientConnInterface) *HeapClient {
	return &HeapClient{cc: cc}
}

// Stats returns the heap counters and the current threshold.
func (c *HeapClient) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HeapServiceStatsProcedure, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Collect forces a collection cycle and returns its statistics.
func (c *HeapClient) Collect(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HeapServiceCollectProcedure, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// PushInt allocates an integer, pushes it, and returns its reference.
func (c *HeapClient) PushInt(ctx context.Context, value int64, opts ...grpc.CallOption) (string, error) {
	return c.refCall(ctx, HeapServicePushIntProcedure, wrapperspb.Int64(value), opts...)
}

// PushPair pairs the top two stack entries and returns the new pair's reference.
func (c *HeapClient) PushPair(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	return c.refCall(ctx, HeapServicePushPairProcedure, &emptypb.Empty{}, opts...)
}

// Pop removes the top stack entry and returns its reference.
func (c *HeapClient) Pop(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	return c.refCall(ctx, HeapServicePopProcedure, &emptypb.Empty{}, opts...)
}

// Inspect describes the live object named by ref.
func (c *HeapClient) Inspect(ctx context.Context, ref string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HeapServiceInspectProcedure, wrapperspb.String(ref), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Image returns the heap serialized as a canonical CBOR image.
func (c *HeapClient) Image(ctx context.Context, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, HeapServiceImageProcedure, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *HeapClient) refCall(ctx context.Context, method string, in any, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
