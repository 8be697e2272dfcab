package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sensorlink/pkg/jsontree"
)

// Store exposes the broker as a path-addressed value store: each path is a
// retained topic holding the latest JSON value written to it. A write to a
// child path is also folded into the value of every listened ancestor, which
// is then republished so its listeners see the change.
type Store struct {
	client     mqtt.Client
	subTimeout time.Duration

	mu       sync.Mutex
	retained map[string][]byte
	listens  map[string]int
}

func NewStore(client mqtt.Client) *Store {
	return &Store{
		client:     client,
		subTimeout: 5 * time.Second,
		retained:   map[string][]byte{},
		listens:    map[string]int{},
	}
}

// Listen subscribes to the topic named path. The broker replays the retained
// value first, so fn sees the current value on attach like a database listener.
func (s *Store) Listen(path string, fn func(payload []byte)) (func(), error) {
	path = strings.Trim(path, "/")
	c := NewConsumer(s.client, path, func(_ string, m mqtt.Message) error {
		s.remember(path, m.Payload())
		fn(m.Payload())
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.subTimeout)
	defer cancel()
	if err := c.Subscribe(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.listens[path]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.Unsubscribe()
			s.mu.Lock()
			if s.listens[path]--; s.listens[path] <= 0 {
				delete(s.listens, path)
				delete(s.retained, path)
			}
			s.mu.Unlock()
		})
	}, nil
}

// Set publishes value as the new retained state of path, then republishes
// every listened ancestor with value merged in at the relative path.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	path = strings.Trim(path, "/")
	if err := NewPublisher(s.client, path, true).PublishMessage(ctx, value); err != nil {
		return err
	}

	segs := jsontree.Split(path)
	if len(segs) < 2 {
		return nil
	}
	child, err := decodeJSON(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	for i := len(segs) - 1; i >= 1; i-- {
		parent := strings.Join(segs[:i], "/")
		merged, ok := s.merge(parent, strings.Join(segs[i:], "/"), child)
		if !ok {
			continue
		}
		if err := NewPublisher(s.client, parent, true).PublishMessage(ctx, merged); err != nil {
			return fmt.Errorf("store: republish %s: %w", parent, err)
		}
	}
	return nil
}

// Connected reports whether the broker connection is currently usable.
func (s *Store) Connected() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *Store) remember(path string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listens[path] > 0 {
		s.retained[path] = append([]byte(nil), payload...)
	}
}

// merge writes child at rel below the known value of parent. It reports false
// when parent is not being listened to or its value cannot be decoded.
func (s *Store) merge(parent, rel string, child any) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.retained[parent]
	if !ok {
		return nil, false
	}
	var tree any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		log.Printf("store: retained value of %s is not JSON: %v", parent, err)
		return nil, false
	}
	b, err := json.Marshal(jsontree.Put(tree, rel, child))
	if err != nil {
		log.Printf("store: encode %s: %v", parent, err)
		return nil, false
	}
	// later writes build on this one even before the broker echoes it
	s.retained[parent] = b
	return b, true
}

// decodeJSON turns value into the plain form the tree works on. Strings and
// byte slices are published as they are, so they are read back the same way.
func decodeJSON(value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		if _, ok := value.(string); ok {
			return value, nil
		}
		return nil, err
	}
	return v, nil
}
