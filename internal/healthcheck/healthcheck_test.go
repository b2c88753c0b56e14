package healthcheck_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/book-gateway/internal/backend"
	"github.com/angeloszaimis/book-gateway/internal/healthcheck"
	"github.com/angeloszaimis/book-gateway/internal/metrics"
	"github.com/angeloszaimis/book-gateway/pkg/logger"
)

var _ = Describe("Healthcheck", func() {
	var (
		mockBackend *httptest.Server
		probes      atomic.Int32
		lastPath    atomic.Value
	)

	BeforeEach(func() {
		probes.Store(0)
		mockBackend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			probes.Add(1)
			lastPath.Store(r.URL.Path)
			// the catalog service has no root handler
			w.WriteHeader(http.StatusNotFound)
		}))
	})

	AfterEach(func() {
		mockBackend.Close()
	})

	Describe("Check", func() {
		It("should treat any HTTP response as reachable", func() {
			b := backend.New("catalog", mustParseURL(mockBackend.URL))
			Expect(healthcheck.Check(context.Background(), http.DefaultClient, b, "/")).To(BeTrue())
		})

		It("should join the probe path onto the origin path", func() {
			b := backend.New("catalog", mustParseURL(mockBackend.URL+"/api"))
			Expect(healthcheck.Check(context.Background(), http.DefaultClient, b, "/ping")).To(BeTrue())
			Expect(lastPath.Load()).To(Equal("/api/ping"))
		})

		It("should report a closed port as unreachable", func() {
			dead := httptest.NewServer(http.NotFoundHandler())
			deadURL := mustParseURL(dead.URL)
			dead.Close()

			b := backend.New("orders", deadURL)
			Expect(healthcheck.Check(context.Background(), http.DefaultClient, b, "/")).To(BeFalse())
		})
	})

	Describe("HealthCheck", func() {
		It("should mark an answering backend reachable", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			b := backend.New("catalog", mustParseURL(mockBackend.URL))
			b.SetReachable(false)

			go healthcheck.HealthCheck(ctx, b, 50*time.Millisecond, "/", nil, logger.Discard())

			Eventually(b.IsReachable).Should(BeTrue())
		})

		It("should mark a backend unreachable once it goes away", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			b := backend.New("inventory", mustParseURL(mockBackend.URL))
			go healthcheck.HealthCheck(ctx, b, 50*time.Millisecond, "/", nil, logger.Discard())

			Eventually(func() int32 { return probes.Load() }).Should(BeNumerically(">=", 1))
			mockBackend.Close()

			Eventually(b.IsReachable).Should(BeFalse())
		})

		It("should report reachability to the collector", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			collector := metrics.NewCollector(10, logger.Discard(), nil)
			collector.Start(ctx)

			b := backend.New("catalog", mustParseURL(mockBackend.URL))
			go healthcheck.HealthCheck(ctx, b, time.Hour, "/", collector, logger.Discard())

			Eventually(func() *bool {
				return collector.Snapshot().Routes["catalog"].Reachable
			}).ShouldNot(BeNil())
			Expect(*collector.Snapshot().Routes["catalog"].Reachable).To(BeTrue())
		})

		It("should not probe when the interval is zero", func() {
			b := backend.New("catalog", mustParseURL(mockBackend.URL))
			healthcheck.HealthCheck(context.Background(), b, 0, "/", nil, logger.Discard())

			Expect(probes.Load()).To(BeZero())
		})

		It("should stop when context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			b := backend.New("catalog", mustParseURL(mockBackend.URL))

			done := make(chan struct{})
			go func() {
				defer close(done)
				healthcheck.HealthCheck(ctx, b, 20*time.Millisecond, "/", nil, logger.Discard())
			}()

			Eventually(func() int32 { return probes.Load() }).Should(BeNumerically(">=", 1))
			cancel()

			Eventually(done).Should(BeClosed())
		})
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
