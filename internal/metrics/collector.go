package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventResponseCompleted EventType = "response_completed"
	EventBreakerState      EventType = "breaker_state"
	EventBreakerFailure    EventType = "breaker_failure"
	EventBreakerSuccess    EventType = "breaker_success"
	EventCacheMirror       EventType = "cache_mirror"
	EventProvenance        EventType = "provenance"
	EventReconcileBatch    EventType = "reconcile_batch"
	EventReconcileCycle    EventType = "reconcile_cycle"
)

// MetricEvent is a single observation. Name holds the route, breaker or
// operation the event belongs to; the remaining fields are used per Type.
type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Name       string
	State      string
	Duration   time.Duration
	StatusCode int
	Count      int
	Success    bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	dropped atomic.Int64
	done    chan struct{}
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. Events are dropped and counted
// when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after ctx was
// cancelled.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Name, event.Duration, event.StatusCode)

	case EventBreakerState:
		c.metrics.UpdateBreakerState(event.Name, event.State)

	case EventBreakerFailure:
		c.metrics.RecordBreakerOutcome(event.Name, event.State, false)

	case EventBreakerSuccess:
		c.metrics.RecordBreakerOutcome(event.Name, event.State, true)

	case EventCacheMirror:
		c.metrics.RecordMirror(event.Name, event.Success)

	case EventProvenance:
		c.metrics.RecordProvenance(event.Name, event.State)

	case EventReconcileBatch:
		c.metrics.RecordReconcileBatch(event.Count, event.Success)

	case EventReconcileCycle:
		c.metrics.RecordReconcileCycle(event.Timestamp)

	default:
		c.logger.Warn("Unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(service string) Snapshot {
	snap := c.metrics.Snapshot(service)
	snap.DroppedEvents = c.dropped.Load()
	return snap
}

func (c *Collector) RecordBreakerState(name, state string) {
	c.Emit(MetricEvent{Type: EventBreakerState, Name: name, State: state})
}

func (c *Collector) RecordBreakerFailure(name, state string, windowFailures int) {
	c.Emit(MetricEvent{Type: EventBreakerFailure, Name: name, State: state, Count: windowFailures})
}

func (c *Collector) RecordBreakerSuccess(name, state string) {
	c.Emit(MetricEvent{Type: EventBreakerSuccess, Name: name, State: state})
}

func (c *Collector) RecordMirror(operation string, err error) {
	c.Emit(MetricEvent{Type: EventCacheMirror, Name: operation, Success: err == nil})
}

func (c *Collector) RecordProvenance(operation, provenance string) {
	c.Emit(MetricEvent{Type: EventProvenance, Name: operation, State: provenance})
}

func (c *Collector) RecordReconcileBatch(keys int, duration time.Duration, err error) {
	c.Emit(MetricEvent{Type: EventReconcileBatch, Count: keys, Duration: duration, Success: err == nil})
}

func (c *Collector) RecordReconcileCycle(keys int, duration time.Duration) {
	c.Emit(MetricEvent{Type: EventReconcileCycle, Count: keys, Duration: duration})
}

func (c *Collector) RecordResponse(route string, duration time.Duration, statusCode int) {
	c.Emit(MetricEvent{Type: EventResponseCompleted, Name: route, Duration: duration, StatusCode: statusCode})
}
