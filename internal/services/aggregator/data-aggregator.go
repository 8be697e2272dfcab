package aggregator

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
	"github.com/LeonardoBeccarini/sensorlink/pkg/reactive"
)

// Window summarises the snapshots seen during one aggregation interval.
type Window struct {
	Start time.Time          `json:"start"`
	End   time.Time          `json:"end"`
	Count int                `json:"count"`
	Mean  map[string]float64 `json:"mean"`
	Min   map[string]float64 `json:"min"`
	Max   map[string]float64 `json:"max"`
}

// Point renders the window as one Influx point with <field>_mean/_min/_max fields.
func (w Window) Point(measurement string) *write.Point {
	fields := make(map[string]interface{}, 3*len(w.Mean)+1)
	for k, v := range w.Mean {
		fields[k+"_mean"] = v
		fields[k+"_min"] = w.Min[k]
		fields[k+"_max"] = w.Max[k]
	}
	fields["count"] = int64(w.Count)
	return influxdb2.NewPoint(measurement, map[string]string{"window": "true"}, fields, w.End)
}

type DataAggregatorService struct {
	source   reactive.Value[*model.SensorSnapshot]
	sink     func(Window)
	interval time.Duration
	now      func() time.Time

	mutex  sync.Mutex
	buffer []*model.SensorSnapshot
	start  time.Time
	latest *Window
}

// NewDataAggregatorService aggregates every interval; sink may be nil.
func NewDataAggregatorService(source reactive.Value[*model.SensorSnapshot], interval time.Duration, sink func(Window)) *DataAggregatorService {
	return &DataAggregatorService{
		source:   source,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

func (d *DataAggregatorService) messageHandler(s *model.SensorSnapshot) {
	if s == nil {
		return
	}
	d.mutex.Lock()
	d.buffer = append(d.buffer, s)
	d.mutex.Unlock()
}

// Start observes the source and closes a window every interval until ctx ends.
func (d *DataAggregatorService) Start(ctx context.Context) {
	d.mutex.Lock()
	d.start = d.now()
	d.mutex.Unlock()

	unsub := d.source.Subscribe(d.messageHandler)
	defer unsub()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.aggregateAndPublish()
		}
	}
}

// aggregateAndPublish closes the current window. Empty windows are skipped.
func (d *DataAggregatorService) aggregateAndPublish() (Window, bool) {
	d.mutex.Lock()
	readings := d.buffer
	d.buffer = nil
	w := Window{Start: d.start, End: d.now()}
	d.start = w.End
	d.mutex.Unlock()

	if len(readings) == 0 {
		return w, false
	}

	w.Count = len(readings)
	w.Mean = map[string]float64{}
	w.Min = map[string]float64{}
	w.Max = map[string]float64{}
	counts := map[string]int{}
	for _, r := range readings {
		for k, raw := range r.Fields() {
			v, ok := raw.(float64)
			if !ok {
				continue
			}
			if counts[k] == 0 {
				w.Min[k], w.Max[k] = v, v
			}
			w.Min[k] = math.Min(w.Min[k], v)
			w.Max[k] = math.Max(w.Max[k], v)
			w.Mean[k] += v
			counts[k]++
		}
	}
	for k, n := range counts {
		w.Mean[k] = math.Round(w.Mean[k]/float64(n)*100) / 100
	}

	d.mutex.Lock()
	d.latest = &w
	d.mutex.Unlock()

	log.Printf("aggregator: window of %d snapshots, humidity mean=%.2f", w.Count, w.Mean["humidity"])
	if d.sink != nil {
		d.sink(w)
	}
	return w, true
}

// Latest returns the last non-empty window.
func (d *DataAggregatorService) Latest() (Window, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.latest == nil {
		return Window{}, false
	}
	return *d.latest, true
}

// ServeHTTP answers with the last window, or null before the first one.
func (d *DataAggregatorService) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if win, ok := d.Latest(); ok {
		_ = json.NewEncoder(w).Encode(win)
		return
	}
	_, _ = w.Write([]byte("null\n"))
}
