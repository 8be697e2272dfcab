package persistence

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// PointWriter accepts points for asynchronous delivery.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Writer wraps the non-blocking Influx WriteAPI and remembers when the last
// asynchronous write error happened, for /readyz.
type Writer struct {
	api     PointWriter
	mu      sync.RWMutex
	lastErr time.Time
	written int64
	onError func(error)
}

// NewWriter starts draining the WriteAPI error channel. onError may be nil.
func NewWriter(w api.WriteAPI, onError func(error)) *Writer {
	return newWriter(w, w.Errors(), onError)
}

func newWriter(pw PointWriter, errs <-chan error, onError func(error)) *Writer {
	ww := &Writer{
		api:     pw,
		lastErr: time.Now().Add(-24 * time.Hour),
		onError: onError,
	}
	go func() {
		for err := range errs {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = time.Now()
			ww.mu.Unlock()
			log.Printf("persistence: influx write error: %v", err)
			if ww.onError != nil {
				ww.onError(err)
			}
		}
	}()
	return ww
}

func (w *Writer) WritePoint(p *write.Point) {
	w.api.WritePoint(p)
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
}

// LastErrorAge returns how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Written returns the number of points handed to the WriteAPI.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}
