// Package reactive provides a lazily started, reference counted readable value.
package reactive

import "sync"

// StartFunc is called when the first observer attaches. It receives a setter
// bound to this activation and returns the function that releases whatever
// resource was acquired. The setter becomes a no-op once stop has been requested.
type StartFunc[T any] func(set func(T)) (stop func())

// Value exposes read-only reactive state.
type Value[T any] interface {
	Get() T
	Subscribe(fn func(T)) (unsubscribe func())
}

// Readable holds a value fed by an external source. The source is started on
// the first Subscribe and stopped when the last observer unsubscribes; the value
// then reverts to its initial state.
//
// Updates are delivered in the order they are set and each update reaches every
// observer before the next one is delivered. Observers must not call Subscribe
// from inside a callback; unsubscribing from a callback is fine.
type Readable[T any] struct {
	deliver sync.Mutex

	mu      sync.Mutex
	initial T
	value   T
	start   StartFunc[T]
	stop    func()
	active  bool
	gen     uint64
	subs    map[int]func(T)
	next    int
}

// NewReadable creates a readable with an initial value and a start function.
// A nil start function yields a value that never changes.
func NewReadable[T any](initial T, start StartFunc[T]) *Readable[T] {
	return &Readable[T]{initial: initial, value: initial, start: start}
}

// Get returns the current value.
func (r *Readable[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Observers returns the number of attached observers.
func (r *Readable[T]) Observers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Active reports whether the source is currently started.
func (r *Readable[T]) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Subscribe attaches fn, calls it once with the current value and then on every
// update. The returned function detaches it and is safe to call more than once.
func (r *Readable[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	r.deliver.Lock()
	r.mu.Lock()
	if r.subs == nil {
		r.subs = make(map[int]func(T))
	}
	id := r.next
	r.next++
	r.subs[id] = fn
	first := !r.active
	var gen uint64
	if first {
		r.active = true
		r.gen++
		gen = r.gen
	}
	current := r.value
	r.mu.Unlock()

	fn(current)
	r.deliver.Unlock()

	if first && r.start != nil {
		stop := r.start(func(v T) { r.set(gen, v) })
		r.mu.Lock()
		if r.active && r.gen == gen {
			r.stop = stop
			stop = nil
		}
		r.mu.Unlock()
		// torn down while starting
		if stop != nil {
			stop()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(id) })
	}
}

func (r *Readable[T]) unsubscribe(id int) {
	r.mu.Lock()
	if _, ok := r.subs[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, id)
	if len(r.subs) > 0 || !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	r.gen++
	r.value = r.initial
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (r *Readable[T]) set(gen uint64, v T) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	if !r.active || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.value = v
	subs := r.copySubscribersLocked()
	r.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

func (r *Readable[T]) copySubscribersLocked() []func(T) {
	if len(r.subs) == 0 {
		return nil
	}
	subs := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs
}
