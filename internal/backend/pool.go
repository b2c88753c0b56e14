package backend

import (
	"github.com/angeloszaimis/book-gateway/internal/router"
)

// Pool holds one Backend per route, keyed by route name. The set is fixed
// at construction.
type Pool struct {
	ordered []*Backend
	byName  map[string]*Backend
}

// NewPool creates a Backend for every route in the table.
func NewPool(table *router.Table) *Pool {
	routes := table.Routes()
	p := &Pool{
		ordered: make([]*Backend, 0, len(routes)),
		byName:  make(map[string]*Backend, len(routes)),
	}

	for _, r := range routes {
		b := New(r.Name, r.Origin)
		p.ordered = append(p.ordered, b)
		p.byName[r.Name] = b
	}

	return p
}

// Get returns the backend for a route name.
func (p *Pool) Get(name string) (*Backend, bool) {
	b, ok := p.byName[name]
	return b, ok
}

// All returns the backends in route order.
func (p *Pool) All() []*Backend {
	out := make([]*Backend, len(p.ordered))
	copy(out, p.ordered)
	return out
}

// Statuses snapshots every backend in route order.
func (p *Pool) Statuses() []Status {
	out := make([]Status, 0, len(p.ordered))
	for _, b := range p.ordered {
		out = append(out, b.Status())
	}
	return out
}
