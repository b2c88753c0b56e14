package backend

import (
	"net/url"
	"sync"
	"time"
)

// Backend tracks runtime state for the service behind one route: requests
// in flight, smoothed response time and last known reachability. It never
// influences where a request goes; the route table alone decides that.
type Backend struct {
	name             string
	url              *url.URL
	mutex            sync.Mutex
	reachable        bool
	activeRequests   int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// New creates a Backend for the named route and origin. It starts out
// reachable until a probe says otherwise.
func New(name string, origin *url.URL) *Backend {
	return &Backend{
		name:      name,
		url:       origin,
		reachable: true,
	}
}

// Name returns the route name this backend serves.
func (b *Backend) Name() string {
	return b.name
}

// URL returns the backend origin.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Acquire marks one more request in flight.
func (b *Backend) Acquire() {
	b.mutex.Lock()
	b.activeRequests++
	b.mutex.Unlock()
}

// Release marks a request finished.
func (b *Backend) Release() {
	b.mutex.Lock()
	if b.activeRequests > 0 {
		b.activeRequests--
	}
	b.mutex.Unlock()
}

// ActiveRequests returns the number of requests currently in flight.
func (b *Backend) ActiveRequests() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeRequests
}

func (b *Backend) IsReachable() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.reachable
}

// SetReachable records a probe result and reports whether it changed.
func (b *Backend) SetReachable(reachable bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.reachable == reachable {
		return false
	}

	b.reachable = reachable
	return true
}

// RecordResponse folds one exchange duration into the EWMA.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	// ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the smoothed response time, 0 before the first response.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}

// Status is a point-in-time view of a Backend.
type Status struct {
	Name           string        `json:"name"`
	Origin         string        `json:"origin"`
	Reachable      bool          `json:"reachable"`
	ActiveRequests int           `json:"active_requests"`
	EWMAResponse   time.Duration `json:"ewma_response"`
}

func (b *Backend) Status() Status {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s := Status{
		Name:           b.name,
		Origin:         b.url.String(),
		Reachable:      b.reachable,
		ActiveRequests: b.activeRequests,
	}
	if b.hasEWMA {
		s.EWMAResponse = b.ewmaResponseTime
	}
	return s
}
