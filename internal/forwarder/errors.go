package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/angeloszaimis/book-gateway/internal/router"
)

// StatusClientClosedRequest is recorded when the caller disconnects before
// the backend answered. Nothing reaches the caller in that case.
const StatusClientClosedRequest = 499

var (
	// ErrUpstreamUnreachable covers connection and transport failures.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUpstreamTimeout is returned when the backend exceeds the upstream timeout.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUnsupportedEncoding is returned for a response Content-Encoding the
	// gateway cannot decode.
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")

	// ErrBadResponse is returned when an encoded response body is corrupt.
	ErrBadResponse = errors.New("malformed upstream response")

	// ErrClientCanceled is returned when the inbound request was canceled.
	ErrClientCanceled = errors.New("client canceled request")

	// ErrResponseAborted is returned when relaying the body stopped with no
	// more specific cause, typically a failed write to the caller.
	ErrResponseAborted = errors.New("response aborted")
)

// Error describes a failed forward. It matches both its kind (one of the
// sentinel errors above) and its cause with errors.Is.
type Error struct {
	Op     string
	Route  string
	Target string
	Kind   error
	Cause  error

	// Aborted is set when the response header had already been sent. The
	// caller got a truncated response and its connection must be dropped
	// by panicking with http.ErrAbortHandler.
	Aborted bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s route=%s target=%s: %v: %v", e.Op, e.Route, e.Target, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s route=%s target=%s: %v", e.Op, e.Route, e.Target, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Kind returns a short label for err suitable for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, router.ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrClientCanceled):
		return "client_canceled"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUnsupportedEncoding):
		return "unsupported_encoding"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	case errors.Is(err, ErrResponseAborted):
		return "aborted"
	default:
		return "unreachable"
	}
}

// StatusCode maps a forward error to the status sent to the caller.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, router.ErrNoRoute):
		return http.StatusNotFound
	case errors.Is(err, ErrClientCanceled):
		return StatusClientClosedRequest
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes the JSON error response for err.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == StatusClientClosedRequest {
		w.WriteHeader(status)
		return
	}

	msg := "failed to proxy request"
	switch {
	case errors.Is(err, router.ErrNoRoute):
		msg = "no matching route"
	case errors.Is(err, ErrUpstreamTimeout):
		msg = ErrUpstreamTimeout.Error()
	case errors.Is(err, ErrUnsupportedEncoding):
		msg = ErrUnsupportedEncoding.Error()
	case errors.Is(err, ErrBadResponse):
		msg = ErrBadResponse.Error()
	case errors.Is(err, ErrResponseAborted):
		msg = ErrResponseAborted.Error()
	case errors.Is(err, ErrUpstreamUnreachable):
		msg = ErrUpstreamUnreachable.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   http.StatusText(status),
		Message: msg,
	})
}

// classify turns a transport error into an *Error. inbound is the caller's
// request, whose context tells a client disconnect apart from our timeout.
func classify(inbound *http.Request, route, target string, err error) *Error {
	fe := &Error{Op: "forward", Route: route, Target: target, Cause: err}

	var netErr net.Error
	switch {
	case errors.Is(err, ErrUnsupportedEncoding):
		fe.Op = "decode"
		fe.Kind = ErrUnsupportedEncoding
	case errors.Is(err, ErrBadResponse):
		fe.Op = "decode"
		fe.Kind = ErrBadResponse
	case inbound.Context().Err() != nil:
		fe.Kind = ErrClientCanceled
	case errors.Is(err, context.DeadlineExceeded):
		fe.Kind = ErrUpstreamTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = ErrUpstreamTimeout
	default:
		fe.Kind = ErrUpstreamUnreachable
	}

	return fe
}

// classifyRelay explains a failure that happened while the response body
// was being copied. raw tracks the upstream body, relayed the body after
// decoding; either may be nil.
func classifyRelay(inbound *http.Request, ctx context.Context, route, target string, raw, relayed *trackedBody) *Error {
	fe := &Error{Op: "relay", Route: route, Target: target}

	var rawErr, relayErr error
	if raw != nil {
		rawErr = raw.err
	}
	if relayed != nil {
		relayErr = relayed.err
	}

	switch {
	case rawErr == nil && relayErr != nil:
		fe.Kind, fe.Cause = ErrBadResponse, relayErr
	case inbound.Context().Err() != nil:
		fe.Kind, fe.Cause = ErrClientCanceled, firstError(rawErr, inbound.Context().Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		fe.Kind, fe.Cause = ErrUpstreamTimeout, firstError(rawErr, ctx.Err())
	case rawErr != nil:
		fe.Kind, fe.Cause = ErrUpstreamUnreachable, rawErr
	default:
		fe.Kind = ErrResponseAborted
	}

	return fe
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
