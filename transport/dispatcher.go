package transport

import (
	"context"
	"fmt"
	"sync"

	"mabletask/agent/logger"
	"mabletask/agent/metrics"
)

// Dispatcher submits requests without blocking: each request goes into a
// bounded queue drained by a single worker. A full queue drops the request.
type Dispatcher struct {
	t       Transport
	queue   chan Request
	log     logger.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher over t and starts its worker.
func NewDispatcher(t Transport, size int, log logger.Logger, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	d := &Dispatcher{
		t:       t,
		queue:   make(chan Request, size),
		log:     log,
		metrics: m,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit enqueues req. It returns false if the dispatcher is closed or full.
func (d *Dispatcher) Submit(req Request) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- req:
		d.metrics.QueueDelta(1)
		return true
	default:
		d.metrics.Dropped()
		d.log.Debug("Dispatch queue full, dropping request", logger.String("path", req.Path))
		return false
	}
}

// Close stops accepting requests and waits for the queue to drain or ctx to
// end. Safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for req := range d.queue {
		d.metrics.QueueDelta(-1)
		d.send(req)
	}
}

func (d *Dispatcher) send(req Request) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Debug("Transport panic recovered", logger.Any("panic", r))
		}
	}()
	if err := d.t.Send(context.Background(), req); err != nil {
		d.log.Debug("Request dropped", logger.String("path", req.Path), logger.Error(err))
	}
}
