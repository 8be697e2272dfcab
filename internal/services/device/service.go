package device

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "sensorlink.v1.SensorService"

	getSnapshotMethod    = "/" + ServiceName + "/GetSnapshot"
	setLedMethod         = "/" + ServiceName + "/SetLed"
	watchSnapshotsMethod = "/" + ServiceName + "/WatchSnapshots"

	// IdempotencyKey is the metadata key carrying a client chosen command id.
	IdempotencyKey = "idempotency-key"
	// RequestIDKey is the response header metadata carrying the command id.
	RequestIDKey = "request-id"
)

// SensorServiceServer is the server side of sensorlink.v1.SensorService. The
// messages are well-known protobuf types, so no generated code is needed.
type SensorServiceServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetLed(context.Context, *wrapperspb.DoubleValue) (*emptypb.Empty, error)
	WatchSnapshots(*emptypb.Empty, grpc.ServerStream) error
}

func RegisterSensorServiceServer(s grpc.ServiceRegistrar, srv SensorServiceServer) {
	s.RegisterService(&SensorServiceDesc, srv)
}

var SensorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SensorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "SetLed", Handler: setLedHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchSnapshots", Handler: watchSnapshotsHandler, ServerStreams: true},
	},
	Metadata: "sensorlink/v1/sensor.proto",
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorServiceServer).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getSnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorServiceServer).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setLedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.DoubleValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SensorServiceServer).SetLed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setLedMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SensorServiceServer).SetLed(ctx, req.(*wrapperspb.DoubleValue))
	}
	return interceptor(ctx, in, info, handler)
}

func watchSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SensorServiceServer).WatchSnapshots(in, stream)
}
