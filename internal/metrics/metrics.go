package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex          sync.RWMutex
	requests       map[string]int64
	responseTimes  map[string][]time.Duration
	statusCodes    map[string]map[int]int64
	upstreamErrors map[string]map[string]int64
	reachable      map[string]bool
	unmatched      int64
	dropped        int64
	startTime      time.Time
}

type Snapshot struct {
	TotalRequests int64                   `json:"total_requests"`
	Unmatched     int64                   `json:"unmatched"`
	DroppedEvents int64                   `json:"dropped_events"`
	Uptime        time.Duration           `json:"uptime"`
	Routes        map[string]RouteMetrics `json:"routes"`
}

type RouteMetrics struct {
	Requests       int64            `json:"requests"`
	Reachable      *bool            `json:"reachable,omitempty"`
	AvgResponse    time.Duration    `json:"avg_response"`
	P50Response    time.Duration    `json:"p50_response"`
	P95Response    time.Duration    `json:"p95_response"`
	P99Response    time.Duration    `json:"p99_response"`
	StatusCodes    map[int]int64    `json:"status_codes"`
	UpstreamErrors map[string]int64 `json:"upstream_errors,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:       make(map[string]int64),
		responseTimes:  make(map[string][]time.Duration),
		statusCodes:    make(map[string]map[int]int64),
		upstreamErrors: make(map[string]map[string]int64),
		reachable:      make(map[string]bool),
		startTime:      time.Now(),
	}
}

func (m *Metrics) IncrementRequests(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[route]++
}

func (m *Metrics) IncrementUnmatched() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unmatched++
}

func (m *Metrics) IncrementDropped() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dropped++
}

// RecordResponse keeps the last maxSamples durations per route.
func (m *Metrics) RecordResponse(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[route] = append(m.responseTimes[route], duration)

	if len(m.responseTimes[route]) > maxSamples {
		m.responseTimes[route] = m.responseTimes[route][1:]
	}

	if m.statusCodes[route] == nil {
		m.statusCodes[route] = make(map[int]int64)
	}
	m.statusCodes[route][statusCode]++
}

func (m *Metrics) RecordUpstreamError(route, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.upstreamErrors[route] == nil {
		m.upstreamErrors[route] = make(map[string]int64)
	}
	m.upstreamErrors[route][kind]++
}

func (m *Metrics) UpdateReachability(route string, reachable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reachable[route] = reachable
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Unmatched:     m.unmatched,
		DroppedEvents: m.dropped,
		Uptime:        time.Since(m.startTime),
		Routes:        make(map[string]RouteMetrics),
	}

	allRoutes := make(map[string]bool)
	for route := range m.requests {
		allRoutes[route] = true
	}
	for route := range m.responseTimes {
		allRoutes[route] = true
	}
	for route := range m.upstreamErrors {
		allRoutes[route] = true
	}
	for route := range m.reachable {
		allRoutes[route] = true
	}

	for route := range allRoutes {
		snap.TotalRequests += m.requests[route]

		rm := RouteMetrics{
			Requests:       m.requests[route],
			StatusCodes:    copyCounts(m.statusCodes[route]),
			UpstreamErrors: copyCounts(m.upstreamErrors[route]),
		}

		if r, ok := m.reachable[route]; ok {
			rm.Reachable = &r
		}

		durations := m.responseTimes[route]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Routes[route] = rm
	}

	snap.TotalRequests += m.unmatched

	return snap
}

func copyCounts[K comparable](in map[K]int64) map[K]int64 {
	if in == nil {
		return nil
	}
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
