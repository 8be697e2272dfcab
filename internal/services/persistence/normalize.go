package persistence

import (
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
)

// SnapshotToPoint turns a snapshot into one point; absent optional fields are
// simply not written.
func SnapshotToPoint(measurement, path string, s *model.SensorSnapshot, t time.Time) *write.Point {
	if t.IsZero() {
		t = time.Now()
	}
	tags := map[string]string{
		"path": path,
		"led":  ledTag(s),
	}
	return influxdb2.NewPoint(sanitizeMeasurement(measurement), tags, s.Fields(), t)
}

func ledTag(s *model.SensorSnapshot) string {
	if s.LedOn() {
		return "on"
	}
	return "off"
}

func sanitizeMeasurement(s string) string {
	if strings.TrimSpace(s) == "" {
		return "sensor_snapshot"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
