package device

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
)

// Client is a thin typed wrapper over a SensorService connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetSnapshot(ctx context.Context, opts ...grpc.CallOption) (*model.SensorSnapshot, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getSnapshotMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return structToSnapshot(out)
}

// SetLed sends the LED command. A non-empty key makes retries idempotent; the
// returned id is the one the server logged the command under.
func (c *Client) SetLed(ctx context.Context, status float64, key string, opts ...grpc.CallOption) (string, error) {
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, IdempotencyKey, key)
	}
	var header metadata.MD
	opts = append(opts, grpc.Header(&header))
	if err := c.cc.Invoke(ctx, setLedMethod, wrapperspb.Double(status), &emptypb.Empty{}, opts...); err != nil {
		return "", err
	}
	if v := header.Get(RequestIDKey); len(v) > 0 {
		return v[0], nil
	}
	return "", nil
}

// WatchSnapshots calls fn for every streamed snapshot until ctx ends or the
// server closes the stream.
func (c *Client) WatchSnapshots(ctx context.Context, fn func(*model.SensorSnapshot), opts ...grpc.CallOption) error {
	stream, err := c.cc.NewStream(ctx, &SensorServiceDesc.Streams[0], watchSnapshotsMethod, opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		snap, err := structToSnapshot(msg)
		if err != nil {
			return err
		}
		fn(snap)
	}
}
