// Package metrics collects gateway metrics off the request path.
//
// Request handling emits MetricEvents with Collector.Emit, which never
// blocks: when the buffer is full the event is counted as dropped. A single
// goroutine started with Collector.Start folds events into:
//   - per-route request counts and status code distribution
//   - response time average and percentiles (P50, P95, P99)
//   - upstream failures by kind (unreachable, timeout, ...)
//   - requests that matched no route
//   - backend reachability reported by the probe
//
// The same events optionally feed Prometheus series registered with
// NewPrometheus. On shutdown the collector drains queued events before
// closing Done.
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(1000, logger, metrics.NewPrometheus(reg))
//	collector.Start(ctx)
//	collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Route: "catalog"})
//	snapshot := collector.Snapshot()
package metrics
