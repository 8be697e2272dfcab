package sensor_simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sensorlink/internal/sensor"
)

// SensorSimulator plays the physical device: it follows LED commands and
// periodically writes a full snapshot.
type SensorSimulator struct {
	mu           sync.Mutex
	led          float64
	store        sensor.Store
	generator    *DataGenerator
	writeTimeout time.Duration
	now          func() time.Time
}

func NewSensorSimulator(store sensor.Store, gen *DataGenerator) *SensorSimulator {
	return &SensorSimulator{
		store:        store,
		generator:    gen,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
	}
}

// Start follows sensor/led and publishes a snapshot every interval until ctx ends.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) error {
	stop, err := s.store.Listen(sensor.LedPath, s.handleLed)
	if err != nil {
		return fmt.Errorf("simulator: listen %s: %w", sensor.LedPath, err)
	}
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

// Led returns the last commanded LED value.
func (s *SensorSimulator) Led() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led
}

func (s *SensorSimulator) publish(ctx context.Context) {
	snap := s.generator.Next(s.Led(), s.now())

	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.store.Set(wctx, sensor.Path, snap); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("simulator: publish error: %v", err)
		}
		return
	}
	log.Printf("simulator: pub humidity=%.1f temperature=%.1f led=%v", snap.Humidity, snap.Temperature, snap.Led)
}

func (s *SensorSimulator) handleLed(payload []byte) {
	led, ok, err := decodeLed(payload)
	if err != nil {
		log.Printf("simulator: ignoring led payload %q: %v", payload, err)
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	prev := s.led
	s.led = led
	s.mu.Unlock()
	if prev != led {
		log.Printf("simulator: led %v -> %v", prev, led)
	}
}

// decodeLed accepts a JSON number; null or an empty payload reports ok=false.
func decodeLed(payload []byte) (float64, bool, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return 0, false, nil
	}
	var v *float64
	if err := json.Unmarshal(payload, &v); err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}
