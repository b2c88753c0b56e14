// Package logger builds the gateway's structured logger on top of log/slog.
// Production environments get a JSON handler, other environments a text
// handler; every record carries the service name and environment.
package logger
