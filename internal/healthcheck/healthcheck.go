package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/book-gateway/internal/backend"
	"github.com/angeloszaimis/book-gateway/internal/metrics"
)

const DefaultProbeTimeout = 5 * time.Second

// HealthCheck probes the backend once immediately and then every interval
// until ctx is done. A non-positive interval disables probing. The first
// result and every change afterwards are reported to collector, which may
// be nil.
func HealthCheck(
	ctx context.Context,
	backend *backend.Backend,
	interval time.Duration,
	path string,
	collector *metrics.Collector,
	logger *slog.Logger,
) {
	if interval <= 0 {
		return
	}

	client := &http.Client{
		Timeout: DefaultProbeTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	first := true
	for {
		reachable := Check(ctx, client, backend, path)
		if ctx.Err() == nil {
			changed := backend.SetReachable(reachable)
			if changed || first {
				report(backend, reachable, changed, collector, logger)
			}
			first = false
		}

		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("route", backend.Name()),
				slog.String("server", backend.URL().String()))
			return

		case <-ticker.C:
		}
	}
}

// Check sends a single GET to the backend origin joined with path and
// reports whether any HTTP response came back.
func Check(ctx context.Context, client *http.Client, backend *backend.Backend, path string) bool {
	probeURL := *backend.URL()
	probeURL.Path = joinPath(probeURL.Path, path)
	probeURL.RawPath = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	res.Body.Close()

	return true
}

func report(b *backend.Backend, reachable, changed bool, collector *metrics.Collector, logger *slog.Logger) {
	if changed {
		if reachable {
			logger.Info("Server is back up",
				slog.String("route", b.Name()),
				slog.String("server", b.URL().String()))
		} else {
			logger.Warn("Server is down",
				slog.String("route", b.Name()),
				slog.String("server", b.URL().String()))
		}
	}

	if collector != nil {
		collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventReachabilityChanged,
			Route:     b.Name(),
			Reachable: reachable,
		})
	}
}

func joinPath(base, p string) string {
	switch {
	case base == "" || base == "/":
		return p
	case p == "" || p == "/":
		return base
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + p
}
