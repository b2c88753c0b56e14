package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/angeloszaimis/book-gateway/internal/router"
)

// DefaultTimeout bounds one upstream exchange when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// excludedResponseHeaders are transport-framing headers the relay
// invalidates; the downstream server recomputes them.
var excludedResponseHeaders = []string{
	"Content-Encoding",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
}

// forwardingHeaders are cleared by httputil.ReverseProxy before Rewrite runs.
// The gateway relays the caller's values unchanged.
var forwardingHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}

// Forwarder relays one inbound request to a route's backend origin and the
// backend's response back to the caller. It holds no per-request state and
// is safe for concurrent use.
type Forwarder struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Forwarder)

// WithTransport replaces the upstream round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = rt
	}
}

// WithTimeout bounds each upstream exchange. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger used for transport-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// New creates a Forwarder with a dedicated transport and DefaultTimeout.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.transport == nil {
		f.transport = NewTransport(f.timeout)
	}

	return f
}

// NewTransport returns the upstream transport: no environment proxy, dial
// bounded by the upstream timeout, keep-alive pooling per backend.
func NewTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.MaxIdleConnsPerHost = 32
	return t
}

// Timeout returns the bound applied to each upstream exchange.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeout
}

// Forward sends r to route's origin and writes the relayed response to w.
// The method, path, query and body are kept; Host becomes the origin host.
// Redirects are relayed, never followed. On failure before the response
// header went out, an error response has already been written to w. A
// failure while the body streams is returned with Aborted set when the
// server must drop the caller's connection.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, route router.Route) (err error) {
	target := route.Target(r.URL)

	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	var (
		fwdErr  *Error
		raw     *trackedBody
		relayed *trackedBody
	)

	// httputil.ReverseProxy panics with http.ErrAbortHandler when copying
	// the body fails under a real server.
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec != http.ErrAbortHandler {
			panic(rec)
		}

		fe := classifyRelay(r, ctx, route.Name, target.Redacted(), raw, relayed)
		fe.Aborted = true
		err = fe
	}()

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			u := *target
			pr.Out.URL = &u
			pr.Out.Host = ""

			for _, h := range forwardingHeaders {
				if v, ok := pr.In.Header[h]; ok {
					pr.Out.Header[h] = v
				}
			}
		},
		Transport:     f.transport,
		FlushInterval: -1,
		ModifyResponse: func(res *http.Response) error {
			raw = &trackedBody{ReadCloser: res.Body}
			res.Body = raw

			if err := relayResponse(res, raw); err != nil {
				return err
			}

			relayed = &trackedBody{ReadCloser: res.Body}
			res.Body = relayed
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			fwdErr = classify(r, route.Name, target.Redacted(), err)
			WriteError(w, fwdErr)
		},
		ErrorLog: slog.NewLogLogger(f.logger.Handler(), slog.LevelWarn),
	}

	proxy.ServeHTTP(w, r.WithContext(ctx))

	if fwdErr != nil {
		return fwdErr
	}
	if raw.failed() || relayed.failed() {
		return classifyRelay(r, ctx, route.Name, target.Redacted(), raw, relayed)
	}
	return nil
}

// relayResponse strips the excluded headers and, since Content-Encoding is
// dropped, hands the caller the decoded body. The first decoded byte is
// read up front so a body that is corrupt from the start fails here, while
// a 502 can still be sent.
func relayResponse(res *http.Response, raw *trackedBody) error {
	if enc := strings.Join(res.Header.Values("Content-Encoding"), ","); enc != "" && hasBody(res) {
		body, err := decodeBody(enc, res.Body)
		if err == nil {
			body, err = primeBody(body)
		}
		if err != nil {
			if raw.err != nil {
				return raw.err
			}
			if errors.Is(err, ErrUnsupportedEncoding) || errors.Is(err, ErrBadResponse) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		res.Body = body
	}

	for _, h := range excludedResponseHeaders {
		res.Header.Del(h)
	}

	return nil
}

func hasBody(res *http.Response) bool {
	if res.Request != nil && res.Request.Method == http.MethodHead {
		return false
	}

	switch {
	case res.StatusCode >= 100 && res.StatusCode < 200,
		res.StatusCode == http.StatusNoContent,
		res.StatusCode == http.StatusNotModified:
		return false
	}

	return true
}
