package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/book-gateway/internal/backend"
	"github.com/angeloszaimis/book-gateway/internal/forwarder"
	"github.com/angeloszaimis/book-gateway/internal/metrics"
	"github.com/angeloszaimis/book-gateway/internal/router"
)

const RequestIDHeader = "X-Request-ID"

type GatewayHandler struct {
	logger           *slog.Logger
	routes           *router.Table
	forwarder        *forwarder.Forwarder
	backends         *backend.Pool
	metricsCollector *metrics.Collector
}

// statusRecorder remembers the status sent downstream and stamps the
// request id on the response right before the header is written.
type statusRecorder struct {
	http.ResponseWriter
	requestID   string
	statusCode  int
	wroteHeader bool
}

func (gh *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := extractClientIP(r)

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(RequestIDHeader, requestID)
	}

	wrapped := &statusRecorder{ResponseWriter: w, requestID: requestID, statusCode: http.StatusOK}

	route, err := gh.routes.Resolve(r.URL.Path)
	if err != nil {
		gh.logger.Warn("No route for request",
			slog.String("request_id", requestID),
			slog.String("from", clientIP),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))

		forwarder.WriteError(wrapped, err)
		gh.emitEvent(metrics.MetricEvent{Type: metrics.EventRouteMissing})
		return
	}

	gh.logger.Debug("Received request",
		slog.String("request_id", requestID),
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("route", route.Name),
		slog.String("user_agent", r.UserAgent()))

	gh.emitEvent(metrics.MetricEvent{
		Type:   metrics.EventRequestReceived,
		Route:  route.Name,
		Method: r.Method,
	})

	b, ok := gh.backends.Get(route.Name)
	if ok {
		b.Acquire()
		defer b.Release()
	}

	err = gh.forwarder.Forward(wrapped, r, route)
	duration := time.Since(start)

	if err != nil {
		kind := forwarder.Kind(err)
		gh.emitEvent(metrics.MetricEvent{
			Type:      metrics.EventUpstreamFailed,
			Route:     route.Name,
			ErrorKind: kind,
		})

		level := slog.LevelWarn
		if errors.Is(err, forwarder.ErrClientCanceled) {
			level = slog.LevelInfo
		}
		gh.logger.Log(r.Context(), level, "Upstream request failed",
			slog.String("request_id", requestID),
			slog.String("route", route.Name),
			slog.String("kind", kind),
			slog.Bool("partial", isAborted(err)),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
	} else {
		gh.logger.Info("Request relayed",
			slog.String("request_id", requestID),
			slog.String("from", clientIP),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route.Name),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", duration))
	}

	gh.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Route:      route.Name,
		Method:     r.Method,
		Duration:   duration,
		StatusCode: wrapped.statusCode,
	})

	if ok && err == nil {
		b.RecordResponse(duration)
	}

	if isAborted(err) {
		// the caller already has a status line; drop the connection
		panic(http.ErrAbortHandler)
	}
}

func isAborted(err error) bool {
	var fwdErr *forwarder.Error
	return errors.As(err, &fwdErr) && fwdErr.Aborted
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (gh *GatewayHandler) emitEvent(event metrics.MetricEvent) {
	if gh.metricsCollector == nil {
		return
	}
	gh.metricsCollector.Emit(event)
}

func (r *statusRecorder) WriteHeader(code int) {
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		r.ResponseWriter.WriteHeader(code)
		return
	}

	if !r.wroteHeader {
		r.wroteHeader = true
		r.statusCode = code
		r.Header().Set(RequestIDHeader, r.requestID)
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(p)
}

// Unwrap exposes the underlying writer to http.ResponseController so
// streamed responses can still be flushed.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// NewGatewayHandler wires the route table, forwarder and backend pool into
// an http.Handler. collector may be nil.
func NewGatewayHandler(
	logger *slog.Logger,
	routes *router.Table,
	fwd *forwarder.Forwarder,
	backends *backend.Pool,
	collector *metrics.Collector,
) *GatewayHandler {
	return &GatewayHandler{
		logger:           logger,
		routes:           routes,
		forwarder:        fwd,
		backends:         backends,
		metricsCollector: collector,
	}
}
