// Package sensor binds the "sensor" path of the remote store to a reactive
// snapshot value and exposes the LED command.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sensorlink/internal/metrics"
	"github.com/LeonardoBeccarini/sensorlink/internal/model"
	"github.com/LeonardoBeccarini/sensorlink/pkg/reactive"
)

const (
	Path    = "sensor"
	LedPath = "sensor/led"
)

// Store is the remote database the adapter binds to.
type Store interface {
	// Listen calls fn with the JSON value of path on every change until stop is called.
	Listen(path string, fn func(payload []byte)) (stop func(), err error)
	Set(ctx context.Context, path string, value any) error
}

type Option func(*Adapter)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithBreaker trips the write path after failures consecutive errors and keeps
// it open for openFor. interval clears the failure counts while closed (0 never does).
func WithBreaker(failures int, openFor, interval time.Duration) Option {
	return func(a *Adapter) { a.breaker = newBreaker(failures, openFor, interval) }
}

// WithWriteTimeout bounds every LED write; zero leaves it to the caller's context.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.writeTimeout = d }
}

// WithListenRetry sets the policy used to reopen the store subscription after
// Listen fails. The default retries with exponential backoff while any
// observer is attached.
func WithListenRetry(fn func() backoff.BackOff) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.newBackOff = fn
		}
	}
}

type Adapter struct {
	store        Store
	value        *reactive.Readable[*model.SensorSnapshot]
	breaker      *gobreaker.CircuitBreaker
	metrics      *metrics.Metrics
	writeTimeout time.Duration
	newBackOff   func() backoff.BackOff

	// current is the listener of the active subscription, nil while idle.
	current atomic.Pointer[listener]
}

// listener is one activation of the store subscription.
type listener struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	stop func()
	open atomic.Bool
}

func NewAdapter(store Store, opts ...Option) *Adapter {
	a := &Adapter{
		store:        store,
		breaker:      newBreaker(5, 10*time.Second, 0),
		writeTimeout: 5 * time.Second,
		newBackOff:   defaultListenBackOff,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.value = reactive.NewReadable[*model.SensorSnapshot](nil, a.subscribe)
	return a
}

func defaultListenBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

func newBreaker(failures int, openFor, interval time.Duration) *gobreaker.CircuitBreaker {
	if failures < 1 {
		failures = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "store-write",
		Interval: interval,
		Timeout:  openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("sensor: breaker %s %s -> %s", name, from, to)
		},
	})
}

// subscribe opens the store listener for the first observer and returns its
// release. A failed Listen is retried in the background until it succeeds or
// the last observer detaches.
func (a *Adapter) subscribe(set func(*model.SensorSnapshot)) func() {
	handle := func(payload []byte) {
		s, err := model.DecodeSnapshot(payload)
		switch {
		case errors.Is(err, model.ErrNoData):
			// keep the last snapshot, the store just has nothing at the path
			a.metrics.SnapshotRejected("empty")
			return
		case err != nil:
			log.Printf("sensor: dropping payload on %s: %v", Path, err)
			a.metrics.SnapshotRejected("invalid")
			return
		}
		a.metrics.SnapshotAccepted(s)
		set(s)
	}

	l := &listener{}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	a.current.Store(l)

	if err := a.listen(l, handle); err != nil {
		go func() {
			bo := backoff.WithContext(a.newBackOff(), l.ctx)
			notify := func(_ error, next time.Duration) {
				log.Printf("sensor: retrying subscribe to %s in %s", Path, next)
			}
			if err := backoff.RetryNotify(func() error { return a.listen(l, handle) }, bo, notify); err != nil &&
				!errors.Is(err, context.Canceled) {
				log.Printf("sensor: giving up on %s: %v", Path, err)
			}
		}()
	}

	return func() {
		l.cancel()
		a.current.CompareAndSwap(l, nil)
		l.mu.Lock()
		stop := l.stop
		l.stop = nil
		l.open.Store(false)
		l.mu.Unlock()
		if stop == nil {
			return
		}
		stop()
		a.metrics.Subscription("close")
		log.Printf("sensor: released subscription to %s", Path)
	}
}

// listen opens the store subscription for l. A listener released in the
// meantime is closed again right away.
func (a *Adapter) listen(l *listener, handle func([]byte)) error {
	if err := l.ctx.Err(); err != nil {
		return backoff.Permanent(err)
	}
	stop, err := a.store.Listen(Path, handle)
	if err != nil {
		log.Printf("sensor: subscribe %s: %v", Path, err)
		a.metrics.Subscription("error")
		return err
	}

	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		stop()
		return backoff.Permanent(l.ctx.Err())
	}
	l.stop = stop
	l.open.Store(true)
	l.mu.Unlock()

	log.Printf("sensor: subscribed to %s", Path)
	a.metrics.Subscription("open")
	return nil
}

// SensorData is the latest snapshot as a read-only reactive value. It is nil
// until the first push after an observer attached.
func (a *Adapter) SensorData() reactive.Value[*model.SensorSnapshot] {
	return &snapshotValue{r: a.value, m: a.metrics}
}

// Observers returns how many observers are attached.
func (a *Adapter) Observers() int {
	return a.value.Observers()
}

// Subscribed reports whether the store subscription is open. It is false
// while a failed Listen is being retried.
func (a *Adapter) Subscribed() bool {
	l := a.current.Load()
	return l != nil && l.open.Load()
}

// BreakerState returns the state of the write circuit breaker.
func (a *Adapter) BreakerState() string {
	return a.breaker.State().String()
}

// SetLed writes status to sensor/led. The held snapshot is not touched; the
// change comes back through the subscription like any other update.
func (a *Adapter) SetLed(ctx context.Context, status float64) error {
	if a.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.writeTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	start := time.Now()
	_, err := a.breaker.Execute(func() (interface{}, error) {
		return nil, a.store.Set(ctx, LedPath, status)
	})
	took := time.Since(start)

	switch {
	case err == nil:
		a.metrics.LedWrite("ok", took)
		log.Printf("sensor: led=%v written [%s] in %s", status, id, took)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		a.metrics.LedWrite("rejected", 0)
		log.Printf("sensor: led=%v rejected [%s]: %v", status, id, err)
	default:
		a.metrics.LedWrite("error", took)
		log.Printf("sensor: led=%v failed [%s]: %v", status, id, err)
	}
	return fmt.Errorf("sensor: set led: %w", err)
}

// SetLedAsync is the fire-and-forget form of SetLed. done, if set, receives the result.
func (a *Adapter) SetLedAsync(status float64, done func(error)) {
	go func() {
		err := a.SetLed(context.Background(), status)
		if done != nil {
			done(err)
		}
	}()
}

// snapshotValue hands every observer its own copy of the snapshot.
type snapshotValue struct {
	r *reactive.Readable[*model.SensorSnapshot]
	m *metrics.Metrics
}

func (v *snapshotValue) Get() *model.SensorSnapshot {
	return v.r.Get().Clone()
}

func (v *snapshotValue) Subscribe(fn func(*model.SensorSnapshot)) func() {
	if fn == nil {
		return func() {}
	}
	unsub := v.r.Subscribe(func(s *model.SensorSnapshot) { fn(s.Clone()) })
	v.m.ObserversChanged(v.r.Observers())
	return func() {
		unsub()
		v.m.ObserversChanged(v.r.Observers())
	}
}
