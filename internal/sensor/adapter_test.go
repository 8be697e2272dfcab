package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sensorlink/internal/model"
)

type setCall struct {
	path  string
	value any
}

type fakeStore struct {
	mu        sync.Mutex
	listens   int
	stops     int
	fn        func([]byte)
	listenErr error
	sets      []setCall
	setErr    error
}

func (f *fakeStore) Listen(path string, fn func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	if path != Path {
		panic("unexpected listen path " + path)
	}
	f.listens++
	f.fn = fn
	return func() {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) Set(_ context.Context, path string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{path: path, value: value})
	return f.setErr
}

func (f *fakeStore) setListenErr(err error) {
	f.mu.Lock()
	f.listenErr = err
	f.mu.Unlock()
}

func (f *fakeStore) counts() (listens, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens, f.stops
}

func fastRetry() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// push emits through the most recent listener, even after it was stopped.
func (f *fakeStore) push(payload string) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn([]byte(payload))
}

const examplePush = `{"humidity":55,"ir_object":0,"led":0,"motion":1,"temperature":26.5}`

func TestAdapter_AbsentBeforeFirstPush(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)

	if a.SensorData().Get() != nil {
		t.Fatalf("expected nil snapshot before any observer")
	}

	var seen []*model.SensorSnapshot
	unsub := a.SensorData().Subscribe(func(s *model.SensorSnapshot) { seen = append(seen, s) })
	defer unsub()

	if len(seen) != 1 || seen[0] != nil {
		t.Fatalf("expected one nil notification on attach, got %v", seen)
	}
	if st.listens != 1 {
		t.Fatalf("expected subscription opened on first observer, got %d", st.listens)
	}
}

func TestAdapter_ExampleScenario(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)
	unsub := a.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	defer unsub()

	st.push(examplePush)
	got := a.SensorData().Get()
	if got == nil {
		t.Fatalf("expected snapshot after push")
	}
	want := model.SensorSnapshot{Humidity: 55, IRObject: 0, Led: 0, Motion: 1, Temperature: 26.5}
	if got.Humidity != want.Humidity || got.IRObject != want.IRObject || got.Led != want.Led ||
		got.Motion != want.Motion || got.Temperature != want.Temperature {
		t.Fatalf("expected %+v, got %+v", want, *got)
	}
	if got.SoundDetect != nil || got.SoundVolt != nil || got.Light != nil {
		t.Fatalf("expected optional fields absent, got %+v", *got)
	}

	if err := a.SetLed(context.Background(), 1); err != nil {
		t.Fatalf("set led: %v", err)
	}
	if len(st.sets) != 1 || st.sets[0].path != LedPath || st.sets[0].value != float64(1) {
		t.Fatalf("expected exactly one write of 1 to %s, got %+v", LedPath, st.sets)
	}
	if a.SensorData().Get().Led != 0 {
		t.Fatalf("expected snapshot untouched by the write")
	}

	st.push(`{"humidity":55,"ir_object":0,"led":1,"motion":1,"temperature":26.5}`)
	if a.SensorData().Get().Led != 1 {
		t.Fatalf("expected led=1 after the store pushed it back")
	}
}

func TestAdapter_LastWriteWinsWithoutMerging(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)

	var seen []*model.SensorSnapshot
	unsub := a.SensorData().Subscribe(func(s *model.SensorSnapshot) { seen = append(seen, s) })
	defer unsub()

	st.push(`{"humidity":1,"ir_object":0,"led":0,"motion":0,"temperature":20,"sound_volt":0.5}`)
	st.push(`{"humidity":2,"ir_object":1,"led":1,"motion":1,"temperature":21}`)
	st.push(`{"humidity":3,"ir_object":0,"led":0,"motion":0,"temperature":22,"light":1}`)

	if len(seen) != 4 {
		t.Fatalf("expected initial + 3 notifications, got %d", len(seen))
	}
	for i, h := range []float64{1, 2, 3} {
		if seen[i+1].Humidity != h {
			t.Fatalf("notification %d: expected humidity %v, got %v", i+1, h, seen[i+1].Humidity)
		}
	}
	if seen[2].SoundVolt != nil {
		t.Fatalf("expected sound_volt not carried over from previous snapshot")
	}
	last := a.SensorData().Get()
	if last.Light == nil || *last.Light != 1 || last.SoundVolt != nil {
		t.Fatalf("expected value to equal the last push exactly, got %+v", *last)
	}
}

func TestAdapter_RejectsMalformedAndKeepsLast(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)
	calls := 0
	unsub := a.SensorData().Subscribe(func(*model.SensorSnapshot) { calls++ })
	defer unsub()

	st.push(examplePush)
	st.push(`{"humidity":"wet"}`)
	st.push(`null`)
	st.push(`[1,2]`)

	if calls != 2 {
		t.Fatalf("expected only the valid push to notify, got %d calls", calls)
	}
	if got := a.SensorData().Get(); got == nil || got.Humidity != 55 {
		t.Fatalf("expected last valid snapshot kept, got %+v", got)
	}
}

func TestAdapter_SharedSubscriptionAndTeardown(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)

	var first, second *model.SensorSnapshot
	unsubA := a.SensorData().Subscribe(func(s *model.SensorSnapshot) { first = s })
	unsubB := a.SensorData().Subscribe(func(s *model.SensorSnapshot) { second = s })

	if st.listens != 1 {
		t.Fatalf("expected a single subscription for two observers, got %d", st.listens)
	}
	if a.Observers() != 2 {
		t.Fatalf("expected 2 observers, got %d", a.Observers())
	}

	st.push(examplePush)
	if first == nil || second == nil || first.Humidity != second.Humidity {
		t.Fatalf("expected both observers to see the same snapshot")
	}
	if first == second {
		t.Fatalf("expected each observer to receive its own copy")
	}

	unsubA()
	if st.stops != 0 || !a.Subscribed() {
		t.Fatalf("expected subscription kept while an observer remains")
	}
	unsubB()
	if st.stops != 1 || a.Subscribed() {
		t.Fatalf("expected subscription released after last observer, stops=%d", st.stops)
	}

	before := second
	st.push(`{"humidity":99,"ir_object":0,"led":0,"motion":0,"temperature":0}`)
	if second != before {
		t.Fatalf("expected no notification after teardown")
	}
	if a.SensorData().Get() != nil {
		t.Fatalf("expected value to revert to absent after teardown")
	}
}

func TestAdapter_ReattachStartsFromAbsent(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)

	unsub := a.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	st.push(examplePush)
	unsub()

	var seen []*model.SensorSnapshot
	unsub = a.SensorData().Subscribe(func(s *model.SensorSnapshot) { seen = append(seen, s) })
	defer unsub()

	if st.listens != 2 {
		t.Fatalf("expected a fresh subscription, got %d listens", st.listens)
	}
	if len(seen) != 1 || seen[0] != nil {
		t.Fatalf("expected re-attached observer to start from absent, got %v", seen)
	}
	st.push(examplePush)
	if a.SensorData().Get() == nil {
		t.Fatalf("expected snapshot after the next push")
	}
}

func TestAdapter_ListenErrorLeavesAbsent(t *testing.T) {
	st := &fakeStore{listenErr: errors.New("boom")}
	a := NewAdapter(st)
	unsub := a.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	defer unsub()
	if a.SensorData().Get() != nil {
		t.Fatalf("expected absent value when the store cannot subscribe")
	}
	if a.Subscribed() {
		t.Fatalf("expected not subscribed while Listen fails")
	}
}

func TestAdapter_ListenRetriesUntilStoreRecovers(t *testing.T) {
	st := &fakeStore{listenErr: errors.New("subscribe timeout")}
	a := NewAdapter(st, WithListenRetry(fastRetry))

	unsub := a.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	time.Sleep(30 * time.Millisecond)
	if a.Subscribed() {
		t.Fatalf("expected not subscribed while the store is down")
	}

	st.setListenErr(nil)
	// a later observer shares the activation and must not hide the failure
	unsubB := a.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	waitFor(t, a.Subscribed)
	if listens, _ := st.counts(); listens != 1 {
		t.Fatalf("expected exactly one successful listen, got %d", listens)
	}

	st.push(examplePush)
	if got := a.SensorData().Get(); got == nil || got.Humidity != 55 {
		t.Fatalf("expected snapshot through the reopened subscription, got %+v", got)
	}

	unsub()
	unsubB()
	if _, stops := st.counts(); stops != 1 || a.Subscribed() {
		t.Fatalf("expected subscription released, stops=%d", stops)
	}
}

func TestAdapter_ListenRetryEndsWithLastObserver(t *testing.T) {
	st := &fakeStore{listenErr: errors.New("subscribe timeout")}
	a := NewAdapter(st, WithListenRetry(fastRetry))

	unsub := a.SensorData().Subscribe(func(*model.SensorSnapshot) {})
	time.Sleep(20 * time.Millisecond)
	unsub()

	st.setListenErr(nil)
	time.Sleep(50 * time.Millisecond)
	if listens, stops := st.counts(); listens != stops {
		t.Fatalf("expected no listener left open after the last observer left, listens=%d stops=%d", listens, stops)
	}
	if a.Subscribed() {
		t.Fatalf("expected idle adapter")
	}
}

func TestAdapter_SetLedSurfacesErrorsAndTrips(t *testing.T) {
	st := &fakeStore{setErr: errors.New("network down")}
	a := NewAdapter(st, WithBreaker(2, time.Minute, 0))

	for i := 0; i < 2; i++ {
		if err := a.SetLed(context.Background(), 1); err == nil {
			t.Fatalf("expected write error on attempt %d", i)
		}
	}
	err := a.SetLed(context.Background(), 0)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if len(st.sets) != 2 {
		t.Fatalf("expected the open breaker to skip the store, got %d writes", len(st.sets))
	}
	if a.BreakerState() != gobreaker.StateOpen.String() {
		t.Fatalf("expected breaker open, got %s", a.BreakerState())
	}
}

func TestAdapter_SetLedAsync(t *testing.T) {
	st := &fakeStore{}
	a := NewAdapter(st)

	done := make(chan error, 1)
	a.SetLedAsync(1, func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("async write did not complete")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.sets) != 1 {
		t.Fatalf("expected one write, got %d", len(st.sets))
	}
}
