// Package dispatch runs callbacks one at a time on a dedicated goroutine.
//
// Push payloads and view updates are handed to observers through a Dispatcher
// so that delivery order equals submission order and an observer never runs
// concurrently with itself.
package dispatch

import (
	"errors"
	"sync"

	"github.com/acmxim/envoy/pkg/logger"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

type result struct {
	value interface{}
	err   error
}

// Dispatcher serializes work onto a single goroutine.
type Dispatcher struct {
	mu     sync.RWMutex
	closed bool
	q      chan func()
	done   chan struct{}
}

// New starts a dispatcher with the given queue size (256 when <= 0).
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for fn := range d.q {
		d.invoke(fn)
	}
}

func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("dispatch: callback panicked: %v", r)
		}
	}()
	fn()
}

// Do enqueues fn. It blocks while the queue is full.
func (d *Dispatcher) Do(fn func()) error {
	if d == nil {
		return errors.New("dispatcher not initialized")
	}
	if fn == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.q <- fn
	return nil
}

// Call runs fn on the dispatcher goroutine and waits for its result.
func (d *Dispatcher) Call(fn func() (interface{}, error)) (interface{}, error) {
	if fn == nil {
		return nil, nil
	}
	done := make(chan result, 1)
	err := d.Do(func() {
		value, err := fn()
		done <- result{value: value, err: err}
	})
	if err != nil {
		return nil, err
	}
	res := <-done
	return res.value, res.err
}

// Close stops accepting work, runs what is already queued and waits for the
// goroutine to exit. It must not be called from a dispatched callback.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.q)
	d.mu.Unlock()
	<-d.done
}
