package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Prometheus mirrors the collector's events as Prometheus series.
type Prometheus struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	upstreamErrorsTotal *prometheus.CounterVec
	unmatchedTotal      prometheus.Counter
	droppedEventsTotal  prometheus.Counter
	backendReachable    *prometheus.GaugeVec
}

// NewPrometheus registers the gateway series with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests relayed per route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from receiving a request to relaying the last response byte",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"route"},
		),
		upstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "errors_total",
				Help:      "Failed upstream exchanges per route and error kind",
			},
			[]string{"route", "kind"},
		),
		unmatchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unmatched_requests_total",
				Help:      "Requests whose path matched no route",
			},
		),
		droppedEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "metrics",
				Name:      "dropped_events_total",
				Help:      "Metric events dropped because the collector buffer was full",
			},
		),
		backendReachable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "reachable",
				Help:      "1 when the last probe of the route's backend got an HTTP response",
			},
			[]string{"route"},
		),
	}
}

func (p *Prometheus) observe(event MetricEvent) {
	switch event.Type {
	case EventResponseCompleted:
		p.requestsTotal.WithLabelValues(event.Route, event.Method, strconv.Itoa(event.StatusCode)).Inc()
		p.requestDuration.WithLabelValues(event.Route).Observe(event.Duration.Seconds())

	case EventUpstreamFailed:
		p.upstreamErrorsTotal.WithLabelValues(event.Route, event.ErrorKind).Inc()

	case EventRouteMissing:
		p.unmatchedTotal.Inc()

	case EventReachabilityChanged:
		v := 0.0
		if event.Reachable {
			v = 1
		}
		p.backendReachable.WithLabelValues(event.Route).Set(v)
	}
}
