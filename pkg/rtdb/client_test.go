package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func fastRetry() Option {
	return WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	})
}

func collect(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var out []string
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-timeout:
			t.Fatalf("timed out after %d/%d events: %v", len(out), n, out)
		}
	}
	return out
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "https://"} {
		if _, err := NewClient(u); err == nil {
			t.Fatalf("expected error for %q", u)
		}
	}
}

func TestClient_URL(t *testing.T) {
	c, err := NewClient("https://example.firebasedatabase.app/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.URL("sensor/led"); got != "https://example.firebasedatabase.app/sensor/led.json" {
		t.Fatalf("unexpected url %s", got)
	}
	if got := c.URL("/"); got != "https://example.firebasedatabase.app/.json" {
		t.Fatalf("unexpected root url %s", got)
	}
}

func TestClient_SetAndGet(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		printQ string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, printQ, body = r.Method, r.URL.Path, r.URL.Query().Get("print"), string(b)
		mu.Unlock()
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"humidity":55}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Set(context.Background(), "sensor/led", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	mu.Lock()
	if method != http.MethodPut || path != "/sensor/led.json" || body != "1" || printQ != "silent" {
		t.Fatalf("unexpected request %s %s print=%s body=%s", method, path, printQ, body)
	}
	mu.Unlock()

	if err := c.Update(context.Background(), "sensor", map[string]any{"humidity": 40}); err != nil {
		t.Fatalf("update: %v", err)
	}
	mu.Lock()
	if method != http.MethodPatch || body != `{"humidity":40}` {
		t.Fatalf("unexpected request %s body=%s", method, body)
	}
	mu.Unlock()

	var out map[string]float64
	if err := c.Get(context.Background(), "sensor", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out["humidity"] != 55 {
		t.Fatalf("unexpected get result %v", out)
	}
}

func TestClient_SetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Permission denied"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	err := c.Set(context.Background(), "sensor/led", 1)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusUnauthorized || se.Msg != "Permission denied" {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestClient_ListenAppliesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "expected event stream", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "event: put\ndata: {\"path\":\"/\",\"data\":{\"humidity\":55,\"led\":0}}\n\n")
		fmt.Fprint(w, "event: keep-alive\ndata: null\n\n")
		fmt.Fprint(w, "event: put\ndata: {\"path\":\"/led\",\"data\":1}\n\n")
		fmt.Fprint(w, "event: patch\ndata: {\"path\":\"/\",\"data\":{\"humidity\":60.5}}\n\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, fastRetry())
	ch := make(chan string, 8)
	stop, err := c.Listen("sensor", func(b []byte) { ch <- string(b) })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stop()

	got := collect(t, ch, 3)
	want := []string{`{"humidity":55,"led":0}`, `{"humidity":55,"led":1}`, `{"humidity":60.5,"led":1}`}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestClient_ListenReconnects(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		payload, _ := json.Marshal(map[string]any{"path": "/", "data": map[string]any{"n": n}})
		fmt.Fprintf(w, "event: put\ndata: %s\n\n", payload)
		w.(http.Flusher).Flush()
		if n > 1 {
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	var notified int32
	c, _ := NewClient(srv.URL, fastRetry(), WithReconnectNotify(func(string, error, time.Duration) {
		atomic.AddInt32(&notified, 1)
	}))
	ch := make(chan string, 8)
	stop, _ := c.Listen("sensor", func(b []byte) { ch <- string(b) })
	defer stop()

	got := collect(t, ch, 2)
	if got[0] != `{"n":1}` || got[1] != `{"n":2}` {
		t.Fatalf("unexpected events %v", got)
	}
	if atomic.LoadInt32(&notified) < 1 {
		t.Fatalf("expected reconnect notification")
	}
}

func TestClient_ListenStopsOnCancelEvent(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: cancel\ndata: null\n\n")
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, fastRetry())
	stop, _ := c.Listen("sensor", func([]byte) {})
	defer stop()

	time.Sleep(150 * time.Millisecond)
	if n := atomic.LoadInt32(&conns); n != 1 {
		t.Fatalf("expected no reconnect after cancel, got %d connections", n)
	}
}

func TestClient_ListenNilHandler(t *testing.T) {
	c, _ := NewClient("https://example.firebasedatabase.app")
	if _, err := c.Listen("sensor", nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}
