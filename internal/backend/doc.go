// Package backend tracks per-route backend state for observability:
// in-flight requests, an exponentially weighted moving average of response
// times and the reachability reported by the probe. Routing never consults
// this state.
package backend
