package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
	"github.com/LeonardoBeccarini/sensorlink/pkg/dedup"
	"github.com/LeonardoBeccarini/sensorlink/pkg/reactive"
)

// Sensor is the part of the snapshot adapter the RPC surface uses.
type Sensor interface {
	SensorData() reactive.Value[*model.SensorSnapshot]
	SetLed(ctx context.Context, status float64) error
}

// GrpcHandler implements SensorServiceServer on top of the adapter.
type GrpcHandler struct {
	sensor       Sensor
	seen         *dedup.Deduper
	streamBuffer int
}

func NewGrpcHandler(s Sensor, idempotencyTTL time.Duration) *GrpcHandler {
	return &GrpcHandler{
		sensor:       s,
		seen:         dedup.New(idempotencyTTL, 0),
		streamBuffer: 8,
	}
}

// ============== RPC: GetSnapshot ==============

func (h *GrpcHandler) GetSnapshot(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := h.sensor.SensorData().Get()
	if snap == nil {
		return nil, status.Error(codes.Unavailable, "no sensor data yet")
	}
	return snapshotToStruct(snap)
}

// ============== RPC: SetLed ==============

func (h *GrpcHandler) SetLed(ctx context.Context, req *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	v := req.GetValue()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, status.Error(codes.InvalidArgument, "status must be a finite number")
	}

	key := idempotencyKey(ctx)
	id := key
	if id == "" {
		id = uuid.NewString()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))

	fingerprint := strconv.FormatFloat(v, 'g', -1, 64)
	if first, recorded := h.seen.Check(key, fingerprint); !first {
		if recorded != fingerprint {
			return nil, status.Errorf(codes.AlreadyExists, "idempotency key already used with status %s", recorded)
		}
		log.Printf("device: led=%v duplicate [%s]", v, id)
		return &emptypb.Empty{}, nil
	}

	if err := h.sensor.SetLed(ctx, v); err != nil {
		h.seen.Forget(key)
		log.Printf("device: led=%v failed [%s]: %v", v, id, err)
		return nil, toStatus(err)
	}
	log.Printf("device: led=%v accepted [%s]", v, id)
	return &emptypb.Empty{}, nil
}

// ============== RPC: WatchSnapshots ==============

// WatchSnapshots streams every snapshot until the client goes away. Each stream
// is one observer; slow readers skip intermediate snapshots but not the newest.
func (h *GrpcHandler) WatchSnapshots(_ *emptypb.Empty, stream grpc.ServerStream) error {
	updates := make(chan *model.SensorSnapshot, h.streamBuffer)
	unsub := h.sensor.SensorData().Subscribe(func(s *model.SensorSnapshot) {
		if s == nil {
			return
		}
		reactive.SendLatest(updates, s)
	})
	defer unsub()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case s := <-updates:
			msg, err := snapshotToStruct(s)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// ============== Helpers ==============

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(IdempotencyKey); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func snapshotToStruct(s *model.SensorSnapshot) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(s.Fields())
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode snapshot: %v", err))
	}
	return st, nil
}

func structToSnapshot(st *structpb.Struct) (*model.SensorSnapshot, error) {
	b, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, err
	}
	return model.DecodeSnapshot(b)
}
