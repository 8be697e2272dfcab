package persistence

import (
	"context"
	"log"
	"time"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
	"github.com/LeonardoBeccarini/sensorlink/pkg/reactive"
)

// Influx configuration
type InfluxConfig struct {
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	Measurement  string
}

// Enabled reports whether enough is configured to write anywhere.
func (c InfluxConfig) Enabled() bool {
	return c.InfluxURL != "" && c.InfluxToken != "" && c.InfluxOrg != "" && c.InfluxBucket != ""
}

// Service records every snapshot the sensor value publishes.
type Service struct {
	source      reactive.Value[*model.SensorSnapshot]
	writer      PointWriter
	measurement string
	path        string
	now         func() time.Time
}

func NewService(source reactive.Value[*model.SensorSnapshot], writer PointWriter, measurement, path string) *Service {
	return &Service{
		source:      source,
		writer:      writer,
		measurement: measurement,
		path:        path,
		now:         time.Now,
	}
}

// Start observes the source until ctx is cancelled. Being an observer, it
// keeps the store subscription open for as long as it runs.
func (s *Service) Start(ctx context.Context) {
	unsub := s.source.Subscribe(s.record)
	log.Printf("persistence: recording %s into measurement %s", s.path, sanitizeMeasurement(s.measurement))

	<-ctx.Done()
	unsub()
	log.Println("persistence: stopped")
}

func (s *Service) record(snap *model.SensorSnapshot) {
	if snap == nil {
		return
	}
	s.writer.WritePoint(SnapshotToPoint(s.measurement, s.path, snap, s.now()))
}
