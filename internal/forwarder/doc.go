// Package forwarder implements the gateway's request relay.
//
// A Forwarder takes an inbound request and a resolved router.Route and
// replays the request against the route's origin with
// net/http/httputil.ReverseProxy:
//
//   - the outbound URL is the origin followed by the inbound path and raw
//     query, and the Host header becomes the origin host
//   - every other header and the body travel unchanged, minus the
//     hop-by-hop headers the transport owns
//   - redirects are relayed to the caller, never followed
//   - Content-Encoding, Content-Length, Transfer-Encoding and Connection are
//     dropped from the response; encoded bodies (gzip, deflate, br, zstd)
//     are decoded so the relayed bytes match the remaining headers
//
// Each exchange is bounded by a timeout and canceled with the inbound
// request. Failures are written to the caller as JSON and reported as an
// *Error whose kind maps to a status code: unreachable 502, timeout 504.
// Nothing is retried.
package forwarder
