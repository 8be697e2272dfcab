package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/sensorlink/internal/metrics"
	"github.com/LeonardoBeccarini/sensorlink/internal/model"
	"github.com/LeonardoBeccarini/sensorlink/pkg/dedup"
	"github.com/LeonardoBeccarini/sensorlink/pkg/reactive"
)

// Sensor is what the gateway needs from the snapshot adapter.
type Sensor interface {
	SensorData() reactive.Value[*model.SensorSnapshot]
	SetLed(ctx context.Context, status float64) error
	Subscribed() bool
	BreakerState() string
}

type Config struct {
	// Connected reports store connectivity; nil means always connected.
	Connected func() bool
	// WriteErrorAge, if set, returns the age of the last history write error.
	WriteErrorAge func() time.Duration
	MinErrorAge   time.Duration

	IdempotencyTTL  time.Duration
	StreamBuffer    int
	StreamKeepAlive time.Duration

	Metrics *metrics.Metrics
	// History serves GET /sensor/history; nil disables the route.
	History http.Handler
	// Stats serves GET /sensor/stats; nil disables the route.
	Stats http.Handler

	Logger *log.Logger
}

type Gateway struct {
	cfg    Config
	sensor Sensor
	seen   *dedup.Deduper
}

func NewGateway(s Sensor, cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MinErrorAge <= 0 {
		cfg.MinErrorAge = 30 * time.Second
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 8
	}
	if cfg.StreamKeepAlive <= 0 {
		cfg.StreamKeepAlive = 15 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		sensor: s,
		seen:   dedup.New(cfg.IdempotencyTTL, 0),
	}
}

// Start keeps one observer attached until ctx ends, so the snapshot stays warm
// for GET /sensor even when nobody is streaming.
func (g *Gateway) Start(ctx context.Context) {
	unsub := g.sensor.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	g.cfg.Logger.Printf("gateway: observing sensor snapshot")
	<-ctx.Done()
	unsub()
	g.cfg.Logger.Printf("gateway: observer released")
}

// Routes returns the HTTP surface of the gateway.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sensor", g.HandleSnapshot)
	mux.HandleFunc("/sensor/stream", g.HandleStream)
	mux.HandleFunc("/sensor/led", g.HandleLed)
	if g.cfg.History != nil {
		mux.Handle("/sensor/history", g.cfg.History)
	}
	if g.cfg.Stats != nil {
		mux.Handle("/sensor/stats", g.cfg.Stats)
	}
	mux.HandleFunc("/healthz", g.HandleHealth)
	mux.HandleFunc("/readyz", g.HandleReady)
	mux.Handle("/metrics", g.cfg.Metrics.Handler())
	return mux
}
