package backend_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/book-gateway/config"
	"github.com/angeloszaimis/book-gateway/internal/backend"
	"github.com/angeloszaimis/book-gateway/internal/router"
)

var _ = Describe("Backend", func() {
	var (
		testURL *url.URL
		b       *backend.Backend
	)

	BeforeEach(func() {
		var err error
		testURL, err = url.Parse("http://localhost:3001")
		Expect(err).NotTo(HaveOccurred())
		b = backend.New("catalog", testURL)
	})

	Describe("New", func() {
		It("should keep the route name and origin", func() {
			Expect(b.Name()).To(Equal("catalog"))
			Expect(b.URL()).To(Equal(testURL))
		})

		It("should start reachable", func() {
			Expect(b.IsReachable()).To(BeTrue())
		})

		It("should have no requests in flight", func() {
			Expect(b.ActiveRequests()).To(Equal(0))
		})
	})

	Describe("Reachability", func() {
		It("should report a change", func() {
			Expect(b.SetReachable(false)).To(BeTrue())
			Expect(b.IsReachable()).To(BeFalse())
		})

		It("should report no change for the same state", func() {
			Expect(b.SetReachable(true)).To(BeFalse())
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(reachable bool) {
					defer wg.Done()
					b.SetReachable(reachable)
					_ = b.IsReachable()
				}(i%2 == 0)
			}
			wg.Wait()
		})
	})

	Describe("Request tracking", func() {
		It("should count acquire and release", func() {
			b.Acquire()
			b.Acquire()
			b.Acquire()
			Expect(b.ActiveRequests()).To(Equal(3))

			b.Release()
			Expect(b.ActiveRequests()).To(Equal(2))
		})

		It("should not go below zero", func() {
			b.Release()
			b.Release()
			Expect(b.ActiveRequests()).To(Equal(0))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.Acquire()
				}()
			}
			wg.Wait()
			Expect(b.ActiveRequests()).To(Equal(100))

			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.Release()
				}()
			}
			wg.Wait()
			Expect(b.ActiveRequests()).To(Equal(0))
		})
	})

	Describe("Response time (EWMA)", func() {
		It("should be zero before any response", func() {
			Expect(b.EWMATime()).To(BeZero())
		})

		It("should seed with the first response", func() {
			b.RecordResponse(100 * time.Millisecond)
			Expect(b.EWMATime()).To(Equal(100 * time.Millisecond))
		})

		It("should smooth later responses", func() {
			b.RecordResponse(100 * time.Millisecond)
			b.RecordResponse(200 * time.Millisecond)
			Expect(b.EWMATime()).To(BeNumerically("~", 120*time.Millisecond, time.Microsecond))
		})
	})

	Describe("Status", func() {
		It("should snapshot the current state", func() {
			b.Acquire()
			b.RecordResponse(40 * time.Millisecond)
			b.SetReachable(false)

			Expect(b.Status()).To(Equal(backend.Status{
				Name:           "catalog",
				Origin:         "http://localhost:3001",
				Reachable:      false,
				ActiveRequests: 1,
				EWMAResponse:   40 * time.Millisecond,
			}))
		})
	})
})

var _ = Describe("Pool", func() {
	var pool *backend.Pool

	BeforeEach(func() {
		table, err := router.FromConfig(config.DefaultRoutes())
		Expect(err).NotTo(HaveOccurred())
		pool = backend.NewPool(table)
	})

	It("should hold one backend per route in order", func() {
		names := []string{}
		for _, b := range pool.All() {
			names = append(names, b.Name())
		}
		Expect(names).To(Equal([]string{"catalog", "inventory", "orders"}))
	})

	It("should look backends up by route name", func() {
		b, ok := pool.Get("orders")
		Expect(ok).To(BeTrue())
		Expect(b.URL().String()).To(Equal("http://localhost:3003"))

		_, ok = pool.Get("users")
		Expect(ok).To(BeFalse())
	})

	It("should report statuses in route order", func() {
		statuses := pool.Statuses()
		Expect(statuses).To(HaveLen(3))
		Expect(statuses[1].Name).To(Equal("inventory"))
		Expect(statuses[1].Reachable).To(BeTrue())
	})

	It("should serve statuses as JSON", func() {
		orders, _ := pool.Get("orders")
		orders.SetReachable(false)

		rec := httptest.NewRecorder()
		pool.Handler()(rec, httptest.NewRequest(http.MethodGet, "/backends", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

		var statuses []backend.Status
		Expect(json.Unmarshal(rec.Body.Bytes(), &statuses)).To(Succeed())
		Expect(statuses).To(HaveLen(3))
		Expect(statuses[2].Name).To(Equal("orders"))
		Expect(statuses[2].Reachable).To(BeFalse())
	})
})
