// Package healthcheck probes each backend origin on a fixed interval and
// records whether it answered. A backend is reachable when it returns any
// HTTP response at all; only transport failures mark it unreachable. The
// result is reported through logs and metrics and never changes routing.
package healthcheck
