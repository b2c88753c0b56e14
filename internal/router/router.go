package router

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/angeloszaimis/book-gateway/config"
)

// ErrNoRoute is returned by Resolve when no configured prefix matches.
var ErrNoRoute = errors.New("no matching route")

// Route maps every path under Prefix to one backend Origin.
type Route struct {
	Name        string
	Prefix      string
	Origin      *url.URL
	StripPrefix bool
}

// Table is an immutable set of prefix routes.
type Table struct {
	ordered []Route // configuration order
	byLen   []Route // longest prefix first, stable for equal lengths
}

// New validates the routes and builds a Table. Prefixes are normalised by
// dropping a trailing slash.
func New(routes []Route) (*Table, error) {
	if len(routes) == 0 {
		return nil, errors.New("route table is empty")
	}

	seen := make(map[string]string, len(routes))
	ordered := make([]Route, 0, len(routes))

	for _, r := range routes {
		if r.Origin == nil || r.Origin.Scheme == "" || r.Origin.Host == "" {
			return nil, fmt.Errorf("route %q: origin must be an absolute URL", r.Name)
		}
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix %q must start with /", r.Name, r.Prefix)
		}

		r.Prefix = normalize(r.Prefix)
		if other, dup := seen[r.Prefix]; dup {
			return nil, fmt.Errorf("route %q: prefix %q already used by route %q", r.Name, r.Prefix, other)
		}
		seen[r.Prefix] = r.Name

		origin := *r.Origin
		r.Origin = &origin
		ordered = append(ordered, r)
	}

	byLen := make([]Route, len(ordered))
	copy(byLen, ordered)
	sort.SliceStable(byLen, func(i, j int) bool {
		return len(byLen[i].Prefix) > len(byLen[j].Prefix)
	})

	return &Table{ordered: ordered, byLen: byLen}, nil
}

// FromConfig builds a Table from the configured route entries.
func FromConfig(cfgs []config.RouteConfig) (*Table, error) {
	routes := make([]Route, 0, len(cfgs))

	for _, c := range cfgs {
		origin, err := url.Parse(c.Origin)
		if err != nil {
			return nil, fmt.Errorf("route %q: parse origin: %w", c.Name, err)
		}

		routes = append(routes, Route{
			Name:        c.Name,
			Prefix:      c.Prefix,
			Origin:      origin,
			StripPrefix: c.StripPrefix,
		})
	}

	return New(routes)
}

// Resolve returns the route serving path, or ErrNoRoute.
func (t *Table) Resolve(path string) (Route, error) {
	for _, r := range t.byLen {
		if r.Matches(path) {
			return r, nil
		}
	}

	return Route{}, ErrNoRoute
}

// Routes returns the routes in configuration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Matches reports whether path falls under the route prefix.
func (r Route) Matches(path string) bool {
	if r.Prefix == "/" {
		return strings.HasPrefix(path, "/")
	}

	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}

	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

// Target builds the outbound URL for an inbound request URL: the origin
// followed by the inbound path (minus the prefix when StripPrefix is set)
// and the unchanged raw query.
func (r Route) Target(in *url.URL) *url.URL {
	path, rawPath := in.Path, in.RawPath
	if r.StripPrefix && r.Prefix != "/" {
		path = ensureLeadingSlash(strings.TrimPrefix(path, r.Prefix))
		if rawPath != "" {
			rawPath = ensureLeadingSlash(strings.TrimPrefix(rawPath, r.Prefix))
		}
	}

	out := &url.URL{
		Scheme:   r.Origin.Scheme,
		Host:     r.Origin.Host,
		User:     r.Origin.User,
		Path:     joinPath(r.Origin.Path, path),
		RawQuery: in.RawQuery,
	}
	if rawPath != "" {
		out.RawPath = joinPath(r.Origin.EscapedPath(), rawPath)
	}

	return out
}

func normalize(prefix string) string {
	if len(prefix) > 1 {
		return strings.TrimSuffix(prefix, "/")
	}
	return prefix
}

func ensureLeadingSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		if p == "" {
			return "/"
		}
		return p
	}

	return strings.TrimSuffix(base, "/") + p
}
