package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink delivers events to one external system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
	Close() error
}

const publishTimeout = 2 * time.Second

// Dispatcher queues events and hands them to every sink from a single
// worker. Notify never blocks; events are dropped when the queue is full.
type Dispatcher struct {
	logger *zap.Logger
	queue  chan Event

	mu    sync.RWMutex
	sinks []Sink

	dropped atomic.Uint64
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewDispatcher(bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Dispatcher{
		logger: logger,
		queue:  make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
	}
}

// AddSink registers a sink. Safe to call while running.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()

	d.logger.Info("Telemetry sink added", zap.String("sink", s.Name()))
}

// Sinks returns the names of the registered sinks.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Notify enqueues an event.
func (d *Dispatcher) Notify(event Event) {
	select {
	case d.queue <- event:
	default:
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			d.logger.Warn("Telemetry queue full, dropping events",
				zap.Uint64("dropped", n),
				zap.String("topic", event.Topic))
		}
	}
}

// Dropped returns how many events were discarded so far.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop drains the queue, stops the worker and closes all sinks.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stopCh)
		d.wg.Wait()

		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				d.logger.Error("Failed to close telemetry sink", zap.String("sink", s.Name()), zap.Error(err))
			}
		}
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stopCh:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := s.Publish(ctx, event)
		cancel()
		if err != nil {
			d.logger.Error("Telemetry publish failed",
				zap.String("sink", s.Name()),
				zap.String("topic", event.Topic),
				zap.Error(err))
		}
	}
}
