// Package handler implements the gateway's inbound HTTP handler. It assigns
// a request id, resolves the route for the request path, forwards the
// request to that route's backend and reports the outcome to the logs and
// the metrics collector.
package handler
