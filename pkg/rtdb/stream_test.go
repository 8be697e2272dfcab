package rtdb

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestReadEvents(t *testing.T) {
	body := ": hello\n\n" +
		"event: put\ndata: {\"path\":\"/\",\ndata: \"data\":1}\n\n" +
		"event: keep-alive\r\ndata: null\r\n\r\n" +
		"data: plain\n\n"

	var got []sseEvent
	err := readEvents(strings.NewReader(body), func(ev sseEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF at end of body, got %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %+v", got)
	}
	if got[0].name != "put" || string(got[0].data) != "{\"path\":\"/\",\n\"data\":1}" {
		t.Fatalf("unexpected multi-line event %+v", got[0])
	}
	if got[1].name != "keep-alive" || string(got[1].data) != "null" {
		t.Fatalf("unexpected CRLF event %q %q", got[1].name, got[1].data)
	}
	if got[2].name != "message" || string(got[2].data) != "plain" {
		t.Fatalf("expected unnamed event as message, got %+v", got[2])
	}
}

func TestReadEvents_HandlerErrorStops(t *testing.T) {
	body := "event: cancel\ndata: null\n\nevent: put\ndata: {}\n\n"
	calls := 0
	err := readEvents(strings.NewReader(body), func(sseEvent) error {
		calls++
		return ErrStreamCancelled
	})
	if err != ErrStreamCancelled || calls != 1 {
		t.Fatalf("expected stop on first handler error, got %v after %d calls", err, calls)
	}
}

func TestWithHTTPTimeout_LeavesStreamsUntimed(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "event: put\ndata: {\"path\":\"/\",\"data\":{\"conn\":%d,\"n\":1}}\n\n", n)
		fl.Flush()
		time.Sleep(150 * time.Millisecond)
		fmt.Fprintf(w, "event: put\ndata: {\"path\":\"/n\",\"data\":2}\n\n")
		fl.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	shared := &http.Client{}
	c, _ := NewClient(srv.URL, fastRetry(), WithHTTPClient(shared), WithHTTPTimeout(50*time.Millisecond))
	if shared.Timeout != 0 {
		t.Fatalf("expected the caller's client untouched, got timeout %s", shared.Timeout)
	}
	if c.http.Timeout != 50*time.Millisecond || c.stream.Timeout != 0 {
		t.Fatalf("expected request timeout only, got http=%s stream=%s", c.http.Timeout, c.stream.Timeout)
	}

	ch := make(chan string, 8)
	stop, _ := c.Listen("sensor", func(b []byte) { ch <- string(b) })
	defer stop()

	got := collect(t, ch, 2)
	if got[0] != `{"conn":1,"n":1}` || got[1] != `{"conn":1,"n":2}` {
		t.Fatalf("expected both events on the first connection, got %v", got)
	}
}
