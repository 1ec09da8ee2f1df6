// Package api declares the automator gRPC service.
//
// The service is defined in automator.proto. It carries protobuf well-known
// types on the wire. Messages with more than one field are encoded as structpb
// values; see messages.go for the Go types they map to.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "automator.v1.AutomatorService"

const (
	AutomatorService_Submit_FullMethodName    = "/automator.v1.AutomatorService/Submit"
	AutomatorService_Status_FullMethodName    = "/automator.v1.AutomatorService/Status"
	AutomatorService_Kill_FullMethodName      = "/automator.v1.AutomatorService/Kill"
	AutomatorService_KillAll_FullMethodName   = "/automator.v1.AutomatorService/KillAll"
	AutomatorService_Terminate_FullMethodName = "/automator.v1.AutomatorService/Terminate"
	AutomatorService_StreamLog_FullMethodName = "/automator.v1.AutomatorService/StreamLog"
)

// AutomatorServiceClient is the client API for AutomatorService.
type AutomatorServiceClient interface {
	// Submit loads a batch file on the server and starts its jobs. It returns
	// the IDs of the new workers.
	Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Kill(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error)
	KillAll(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Terminate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	StreamLog(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error)
}

type automatorServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAutomatorServiceClient(cc grpc.ClientConnInterface) AutomatorServiceClient {
	return &automatorServiceClient{cc}
}

func (c *automatorServiceClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, AutomatorService_Submit_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *automatorServiceClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, AutomatorService_Status_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *automatorServiceClient) Kill(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, AutomatorService_Kill_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *automatorServiceClient) KillAll(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, AutomatorService_KillAll_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *automatorServiceClient) Terminate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, AutomatorService_Terminate_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *automatorServiceClient) StreamLog(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &AutomatorService_ServiceDesc.Streams[0], AutomatorService_StreamLog_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.Int64Value, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// AutomatorServiceServer is the server API for AutomatorService. All
// implementations must embed UnimplementedAutomatorServiceServer.
type AutomatorServiceServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	Status(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Kill(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	KillAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Terminate(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	StreamLog(*wrapperspb.Int64Value, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
	mustEmbedUnimplementedAutomatorServiceServer()
}

// UnimplementedAutomatorServiceServer must be embedded by value in server
// implementations.
type UnimplementedAutomatorServiceServer struct{}

func (UnimplementedAutomatorServiceServer) Submit(context.Context, *structpb.Struct) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Submit not implemented")
}
func (UnimplementedAutomatorServiceServer) Status(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}
func (UnimplementedAutomatorServiceServer) Kill(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Kill not implemented")
}
func (UnimplementedAutomatorServiceServer) KillAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method KillAll not implemented")
}
func (UnimplementedAutomatorServiceServer) Terminate(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Terminate not implemented")
}
func (UnimplementedAutomatorServiceServer) StreamLog(*wrapperspb.Int64Value, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	return status.Error(codes.Unimplemented, "method StreamLog not implemented")
}
func (UnimplementedAutomatorServiceServer) mustEmbedUnimplementedAutomatorServiceServer() {}

func RegisterAutomatorServiceServer(s grpc.ServiceRegistrar, srv AutomatorServiceServer) {
	s.RegisterService(&AutomatorService_ServiceDesc, srv)
}

func _AutomatorService_Submit_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomatorServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AutomatorService_Submit_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomatorServiceServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AutomatorService_Status_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomatorServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AutomatorService_Status_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomatorServiceServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _AutomatorService_Kill_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomatorServiceServer).Kill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AutomatorService_Kill_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomatorServiceServer).Kill(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _AutomatorService_KillAll_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomatorServiceServer).KillAll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AutomatorService_KillAll_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomatorServiceServer).KillAll(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _AutomatorService_Terminate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AutomatorServiceServer).Terminate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AutomatorService_Terminate_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AutomatorServiceServer).Terminate(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _AutomatorService_StreamLog_Handler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.Int64Value)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AutomatorServiceServer).StreamLog(m, &grpc.GenericServerStream[wrapperspb.Int64Value, wrapperspb.BytesValue]{ServerStream: stream})
}

// AutomatorService_ServiceDesc is the grpc.ServiceDesc for AutomatorService.
var AutomatorService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AutomatorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    _AutomatorService_Submit_Handler,
		},
		{
			MethodName: "Status",
			Handler:    _AutomatorService_Status_Handler,
		},
		{
			MethodName: "Kill",
			Handler:    _AutomatorService_Kill_Handler,
		},
		{
			MethodName: "KillAll",
			Handler:    _AutomatorService_KillAll_Handler,
		},
		{
			MethodName: "Terminate",
			Handler:    _AutomatorService_Terminate_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamLog",
			Handler:       _AutomatorService_StreamLog_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "automator/v1/automator.proto",
}
