// Package notify fans committed exchange events out to chat, NATS and
// websocket subscribers without blocking the engine.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ch3fx/internal/exchange"
)

type Sink interface {
	Name() string
	Send(ctx context.Context, ev exchange.Event) error
}

// Dispatcher queues events on a buffered channel drained by one worker. When
// the queue is full the event is dropped and logged; Publish never blocks.
type Dispatcher struct {
	log   *slog.Logger
	queue chan exchange.Event
	sinks []Sink

	sendTimeout time.Duration
	wg          sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(logger *slog.Logger, size int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		log:         logger,
		queue:       make(chan exchange.Event, size),
		sinks:       sinks,
		sendTimeout: 10 * time.Second,
	}
}

func (d *Dispatcher) Publish(ev exchange.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("notification queue full, dropping event", "kind", ev.Kind, "symbol", ev.Symbol)
	}
}

// Start launches the worker. It exits after Close once the queue is drained.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range d.queue {
			d.deliver(ev)
		}
	}()
}

func (d *Dispatcher) deliver(ev exchange.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := sink.Send(ctx, ev); err != nil {
			d.log.Error("notification failed", "sink", sink.Name(), "kind", ev.Kind, "err", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
