package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived     EventType = "request_received"
	EventResponseCompleted   EventType = "response_completed"
	EventUpstreamFailed      EventType = "upstream_failed"
	EventRouteMissing        EventType = "route_missing"
	EventReachabilityChanged EventType = "reachability_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Method     string
	Duration   time.Duration
	StatusCode int
	ErrorKind  string
	Reachable  bool
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger
	done       chan struct{}
}

// NewCollector creates a collector with a buffered event queue. prom may be
// nil when Prometheus export is not wanted.
func NewCollector(bufferSize int, logger *slog.Logger, prom *Prometheus) *Collector {
	return &Collector{
		eventCh:    make(chan MetricEvent, bufferSize),
		metrics:    NewMetrics(),
		prometheus: prom,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Emit queues an event without blocking. Events that do not fit in the
// buffer are counted as dropped.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.metrics.IncrementDropped()
		if c.prometheus != nil {
			c.prometheus.droppedEventsTotal.Inc()
		}
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its queue after shutdown.
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
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Route)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Route, event.Duration, event.StatusCode)

	case EventUpstreamFailed:
		c.metrics.RecordUpstreamError(event.Route, event.ErrorKind)

	case EventRouteMissing:
		c.metrics.IncrementUnmatched()

	case EventReachabilityChanged:
		c.metrics.UpdateReachability(event.Route, event.Reachable)
	}

	if c.prometheus != nil {
		c.prometheus.observe(event)
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

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
