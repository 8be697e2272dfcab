package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/r3labs/sse/v2"

	"github.com/LeonardoBeccarini/sensorlink/pkg/jsontree"
)

var (
	// ErrStreamCancelled means the server ended the stream for good
	// (security rules no longer allow reading the path).
	ErrStreamCancelled = errors.New("rtdb: stream cancelled by server")
	// ErrAuthRevoked means the credential used by the stream expired.
	ErrAuthRevoked = errors.New("rtdb: auth revoked")
)

const maxEventSize = 1 << 20

type sseEvent struct {
	name string
	data []byte
}

type putPayload struct {
	Path string `json:"path"`
	Data any    `json:"data"`
}

// Listen streams the value at path and calls fn with the full JSON value after
// every change, starting with the current value. fn receives "null" when the
// path is empty. Dropped connections are re-established with backoff. Calls to
// fn are sequential and in server order. The returned stop function cancels
// the stream; fn is not called after it returns, except possibly for one
// event that was already being delivered.
func (c *Client) Listen(path string, fn func(payload []byte)) (stop func(), err error) {
	if fn == nil {
		return nil, errors.New("rtdb: nil listener")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go c.listen(ctx, path, fn)
	return cancel, nil
}

func (c *Client) listen(ctx context.Context, path string, fn func([]byte)) {
	bo := backoff.WithContext(c.newBackOff(), ctx)

	op := func() error {
		err := c.streamOnce(ctx, path, fn, bo)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Printf("rtdb: stream %s dropped: %v (retry in %s)", path, err, next)
		if c.notify != nil {
			c.notify(path, err, next)
		}
	}

	err := backoff.RetryNotify(op, bo, notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("rtdb: listener on %s stopped: %v", path, err)
	}
}

func (c *Client) streamOnce(ctx context.Context, path string, fn func([]byte), bo backoff.BackOff) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("rtdb: build stream request: %w", err))
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("rtdb: open stream %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := statusError(http.MethodGet, path, resp)
		// client errors will not fix themselves, except throttling
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	var tree any
	return readEvents(resp.Body, func(ev sseEvent) error {
		switch ev.name {
		case "put", "patch":
			var p putPayload
			dec := json.NewDecoder(bytes.NewReader(ev.data))
			dec.UseNumber()
			if err := dec.Decode(&p); err != nil {
				log.Printf("rtdb: bad %s event on %s: %v", ev.name, path, err)
				return nil
			}
			if ev.name == "put" {
				tree = jsontree.Put(tree, p.Path, p.Data)
			} else {
				children, ok := p.Data.(map[string]any)
				if !ok {
					log.Printf("rtdb: patch on %s without object data", path)
					return nil
				}
				tree = jsontree.Patch(tree, p.Path, children)
			}
			bo.Reset()

			b, err := json.Marshal(tree)
			if err != nil {
				log.Printf("rtdb: encode value of %s: %v", path, err)
				return nil
			}
			fn(b)
		case "keep-alive":
		case "cancel":
			return backoff.Permanent(ErrStreamCancelled)
		case "auth_revoked":
			return ErrAuthRevoked
		}
		return nil
	})
}

// readEvents reads a text/event-stream body until it ends or handle fails.
// Framing is left to the sse reader; each raw event is split into its event
// name and data lines here.
func readEvents(r io.Reader, handle func(sseEvent) error) error {
	reader := sse.NewEventStreamReader(r, maxEventSize)
	for {
		raw, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("rtdb: read stream: %w", err)
		}
		ev, ok := parseEvent(raw)
		if !ok {
			continue
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
}

// parseEvent returns false for frames carrying only comments.
func parseEvent(raw []byte) (sseEvent, bool) {
	var (
		ev   sseEvent
		data [][]byte
	)
	for _, line := range bytes.Split(bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n")), []byte("\n")) {
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			ev.name = string(value)
		case "data":
			data = append(data, value)
		}
	}
	if ev.name == "" && data == nil {
		return ev, false
	}
	if ev.name == "" {
		ev.name = "message"
	}
	ev.data = bytes.Join(data, []byte("\n"))
	return ev, true
}
