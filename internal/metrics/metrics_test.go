package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/book-gateway/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("IncrementRequests", func() {
		It("should count requests per route", func() {
			m.IncrementRequests("catalog")
			m.IncrementRequests("orders")
			m.IncrementRequests("catalog")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Routes["catalog"].Requests).To(Equal(int64(2)))
			Expect(snap.Routes["orders"].Requests).To(Equal(int64(1)))
		})
	})

	Describe("IncrementUnmatched", func() {
		It("should count unmatched requests in the total", func() {
			m.IncrementRequests("catalog")
			m.IncrementUnmatched()
			m.IncrementUnmatched()

			snap := m.Snapshot()
			Expect(snap.Unmatched).To(Equal(int64(2)))
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Routes).To(HaveLen(1))
		})
	})

	Describe("RecordResponse", func() {
		It("should record response time and status code", func() {
			m.RecordResponse("catalog", 100*time.Millisecond, 200)
			m.RecordResponse("catalog", 200*time.Millisecond, 200)

			route := m.Snapshot().Routes["catalog"]
			Expect(route.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(route.StatusCodes[200]).To(Equal(int64(2)))
		})

		It("should track gateway and backend statuses alike", func() {
			m.RecordResponse("orders", time.Millisecond, 201)
			m.RecordResponse("orders", time.Millisecond, 502)
			m.RecordResponse("orders", time.Millisecond, 504)

			codes := m.Snapshot().Routes["orders"].StatusCodes
			Expect(codes).To(Equal(map[int]int64{201: 1, 502: 1, 504: 1}))
		})

		It("should calculate percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("catalog", time.Duration(i)*time.Millisecond, 200)
			}

			route := m.Snapshot().Routes["catalog"]
			Expect(route.P50Response).To(BeNumerically("~", 50*time.Millisecond, 1*time.Millisecond))
			Expect(route.P95Response).To(BeNumerically("~", 95*time.Millisecond, 1*time.Millisecond))
			Expect(route.P99Response).To(BeNumerically("~", 99*time.Millisecond, 1*time.Millisecond))
		})

		It("should keep only the most recent 1000 samples", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordResponse("catalog", time.Duration(i)*time.Millisecond, 200)
			}

			route := m.Snapshot().Routes["catalog"]
			Expect(route.AvgResponse).To(BeNumerically(">", 500*time.Millisecond))
			Expect(route.StatusCodes[200]).To(Equal(int64(1500)))
		})
	})

	Describe("RecordUpstreamError", func() {
		It("should count failures by kind", func() {
			m.RecordUpstreamError("inventory", "timeout")
			m.RecordUpstreamError("inventory", "timeout")
			m.RecordUpstreamError("inventory", "unreachable")

			errs := m.Snapshot().Routes["inventory"].UpstreamErrors
			Expect(errs).To(Equal(map[string]int64{"timeout": 2, "unreachable": 1}))
		})
	})

	Describe("UpdateReachability", func() {
		It("should be absent until reported", func() {
			m.IncrementRequests("catalog")
			Expect(m.Snapshot().Routes["catalog"].Reachable).To(BeNil())
		})

		It("should track the latest report", func() {
			m.UpdateReachability("catalog", true)
			Expect(*m.Snapshot().Routes["catalog"].Reachable).To(BeTrue())

			m.UpdateReachability("catalog", false)
			Expect(*m.Snapshot().Routes["catalog"].Reachable).To(BeFalse())
		})
	})

	Describe("Snapshot", func() {
		It("should include uptime", func() {
			time.Sleep(10 * time.Millisecond)
			Expect(m.Snapshot().Uptime).To(BeNumerically(">", 0))
		})

		It("should handle empty metrics", func() {
			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(0)))
			Expect(snap.Routes).To(BeEmpty())
		})

		It("should not share state with later updates", func() {
			m.RecordResponse("catalog", time.Millisecond, 200)
			snap := m.Snapshot()

			m.RecordResponse("catalog", time.Millisecond, 200)
			Expect(snap.Routes["catalog"].StatusCodes[200]).To(Equal(int64(1)))
		})
	})
})
