package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The service is described by hand over well-known types:
//
//	service SignalService {
//	  rpc Current(google.protobuf.Empty) returns (google.protobuf.Int32Value);
//	  rpc Watch(google.protobuf.Empty) returns (stream google.protobuf.Int32Value);
//	}
const (
	SignalServiceName   = "stopline.v1.SignalService"
	currentFullMethod   = "/" + SignalServiceName + "/Current"
	watchFullMethod     = "/" + SignalServiceName + "/Watch"
	signalProtoMetadata = "stopline/v1/signal.proto"
)

// SignalServiceServer is the server API for SignalService.
type SignalServiceServer interface {
	// Current returns the stop index most recently published.
	Current(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
	// Watch streams the current stop index followed by one message per
	// published frame.
	Watch(*emptypb.Empty, SignalService_WatchServer) error
}

type SignalService_WatchServer interface {
	Send(*wrapperspb.Int32Value) error
	grpc.ServerStream
}

// RegisterSignalServiceServer registers srv on s.
func RegisterSignalServiceServer(s grpc.ServiceRegistrar, srv SignalServiceServer) {
	s.RegisterService(&SignalService_ServiceDesc, srv)
}

var SignalService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SignalServiceName,
	HandlerType: (*SignalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Current",
			Handler:    _SignalService_Current_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       _SignalService_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: signalProtoMetadata,
}

func _SignalService_Current_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignalServiceServer).Current(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: currentFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SignalServiceServer).Current(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _SignalService_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SignalServiceServer).Watch(m, &signalServiceWatchServer{stream})
}

type signalServiceWatchServer struct {
	grpc.ServerStream
}

func (x *signalServiceWatchServer) Send(m *wrapperspb.Int32Value) error {
	return x.ServerStream.SendMsg(m)
}

// Client is a SignalService client.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Current fetches the stop index most recently published.
func (c *Client) Current(ctx context.Context, opts ...grpc.CallOption) (int32, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, currentFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// WatchStream receives stop indices from Watch.
type WatchStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next stop index.
func (w *WatchStream) Recv() (int32, error) {
	m := new(wrapperspb.Int32Value)
	if err := w.stream.RecvMsg(m); err != nil {
		return 0, err
	}
	return m.GetValue(), nil
}

// Watch opens a stream of stop indices. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, opts ...grpc.CallOption) (*WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &SignalService_ServiceDesc.Streams[0], watchFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}
