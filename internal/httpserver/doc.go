// Package httpserver wraps http.Server with listen address validation,
// tunable timeouts and graceful shutdown. The gateway runs two of them:
// the public listener and the admin listener.
package httpserver
