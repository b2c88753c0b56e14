package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angeloszaimis/book-gateway/config"
	"github.com/angeloszaimis/book-gateway/internal/backend"
	"github.com/angeloszaimis/book-gateway/internal/forwarder"
	"github.com/angeloszaimis/book-gateway/internal/handler"
	"github.com/angeloszaimis/book-gateway/internal/healthcheck"
	"github.com/angeloszaimis/book-gateway/internal/httpserver"
	"github.com/angeloszaimis/book-gateway/internal/metrics"
	"github.com/angeloszaimis/book-gateway/internal/router"
	"github.com/angeloszaimis/book-gateway/pkg/logger"
)

// writeTimeoutSlack is added to the upstream timeout so a slow backend
// surfaces as a 504 rather than a dropped connection.
const writeTimeoutSlack = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize gateway", slog.Any("err", err))
		os.Exit(1)
	}

	if err := gw.run(ctx); err != nil {
		log.Error("Error running gateway", slog.Any("err", err))
		os.Exit(1)
	}
}

type app struct {
	cfg       *config.Config
	log       *slog.Logger
	routes    *router.Table
	backends  *backend.Pool
	collector *metrics.Collector
	registry  *prometheus.Registry
	gateway   *httpserver.Server
	admin     *httpserver.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	routes, err := router.FromConfig(cfg.Routes)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log, metrics.NewPrometheus(registry))
	backends := backend.NewPool(routes)

	fwd := forwarder.New(
		forwarder.WithTimeout(cfg.UpstreamTimeout()),
		forwarder.WithLogger(log),
	)

	gatewayHandler := handler.NewGatewayHandler(log, routes, fwd, backends, collector)

	gateway, err := httpserver.New(cfg.Server.Address, gatewayHandler,
		httpserver.WithWriteTimeout(fwd.Timeout()+writeTimeoutSlack))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		routes:    routes,
		backends:  backends,
		collector: collector,
		registry:  registry,
		gateway:   gateway,
	}

	if cfg.Admin.Address != "" {
		a.admin, err = httpserver.New(cfg.Admin.Address, setupAdminRouter(registry, collector, backends))
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// run serves until ctx is done or a listener fails, then drains both
// servers and the metrics queue.
func (a *app) run(ctx context.Context) error {
	if err := a.gateway.Listen(); err != nil {
		return err
	}
	adminAddr := ""
	if a.admin != nil {
		if err := a.admin.Listen(); err != nil {
			a.gateway.Close()
			return err
		}
		adminAddr = a.admin.Addr()
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	a.collector.Start(collectorCtx)

	probeCtx, stopProbes := context.WithCancel(ctx)
	defer stopProbes()
	startHealthChecks(probeCtx, a.cfg, a.backends, a.collector, a.log)

	srvErrCh := make(chan error, 2)

	go func() {
		srvErrCh <- a.gateway.Start()
	}()

	if a.admin != nil {
		go func() {
			srvErrCh <- a.admin.Start()
		}()
	}

	for _, r := range a.routes.Routes() {
		a.log.Info("Route registered",
			slog.String("route", r.Name),
			slog.String("prefix", r.Prefix),
			slog.String("origin", r.Origin.String()),
			slog.Bool("strip_prefix", r.StripPrefix))
	}
	a.log.Info("Gateway started",
		slog.String("addr", a.gateway.Addr()),
		slog.String("admin_addr", adminAddr),
		slog.Duration("upstream_timeout", a.cfg.UpstreamTimeout()))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down gracefully...")
	case err := <-srvErrCh:
		if err != nil {
			runErr = err
		}
	}

	stopProbes()

	if err := a.gateway.Shutdown(context.Background()); err != nil {
		a.log.Error("Error during shutdown", slog.String("server", "gateway"), slog.Any("err", err))
		runErr = errors.Join(runErr, err)
	}
	if a.admin != nil {
		if err := a.admin.Shutdown(context.Background()); err != nil {
			a.log.Error("Error during shutdown", slog.String("server", "admin"), slog.Any("err", err))
			runErr = errors.Join(runErr, err)
		}
	}

	stopCollector()
	<-a.collector.Done()

	return runErr
}

func startHealthChecks(
	ctx context.Context,
	cfg *config.Config,
	backends *backend.Pool,
	collector *metrics.Collector,
	log *slog.Logger,
) {
	interval := cfg.HealthCheckInterval()
	if interval <= 0 {
		log.Info("Health checks disabled")
		return
	}

	for _, b := range backends.All() {
		go healthcheck.HealthCheck(ctx, b, interval, cfg.HealthCheck.Path, collector, log)
	}
}
