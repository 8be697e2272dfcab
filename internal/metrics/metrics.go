// Package metrics holds the Prometheus collectors of the sensorlink services.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
)

type Metrics struct {
	registry *prometheus.Registry

	snapshots      prometheus.Counter
	rejected       *prometheus.CounterVec
	observers      prometheus.Gauge
	subscriptions  *prometheus.CounterVec
	ledWrites      *prometheus.CounterVec
	ledWriteTime   prometheus.Histogram
	reconnects     prometheus.Counter
	readings       *prometheus.GaugeVec
	influxFailures prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlink_snapshots_received_total",
			Help: "Sensor snapshots accepted from the store",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorlink_snapshots_rejected_total",
			Help: "Pushed payloads that were not applied",
		}, []string{"reason"}),
		observers: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensorlink_observers",
			Help: "Observers currently attached to the sensor value",
		}),
		subscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorlink_store_subscriptions_total",
			Help: "Store subscription lifecycle events",
		}, []string{"event"}),
		ledWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorlink_led_writes_total",
			Help: "LED writes by result",
		}, []string{"result"}),
		ledWriteTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorlink_led_write_seconds",
			Help:    "Latency of LED writes to the store",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlink_store_reconnects_total",
			Help: "Store stream reconnect attempts",
		}),
		readings: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorlink_sensor_reading",
			Help: "Latest value of each sensor field",
		}, []string{"field"}),
		influxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlink_influx_write_errors_total",
			Help: "Asynchronous InfluxDB write errors",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SnapshotAccepted(s *model.SensorSnapshot) {
	if m == nil {
		return
	}
	m.snapshots.Inc()
	if s == nil {
		return
	}
	for k, v := range s.Fields() {
		if f, ok := v.(float64); ok {
			m.readings.WithLabelValues(k).Set(f)
		}
	}
}

func (m *Metrics) SnapshotRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserversChanged(n int) {
	if m == nil {
		return
	}
	m.observers.Set(float64(n))
}

func (m *Metrics) Subscription(event string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(event).Inc()
}

func (m *Metrics) LedWrite(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ledWrites.WithLabelValues(result).Inc()
	if took > 0 {
		m.ledWriteTime.Observe(took.Seconds())
	}
}

func (m *Metrics) StoreReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) InfluxWriteFailed() {
	if m == nil {
		return
	}
	m.influxFailures.Inc()
}
