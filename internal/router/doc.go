// Package router holds the gateway's immutable prefix route table.
//
// A Table is built once at startup from configuration and is safe for
// concurrent use without locking: it is never mutated after construction.
// Resolution picks the longest prefix that matches the inbound path on a
// segment boundary, so "/catalog" matches "/catalog" and "/catalog/items/42"
// but not "/catalogue". Among prefixes of equal length the one configured
// first wins.
//
// The matched prefix is kept in the forwarded path unless the route sets
// StripPrefix:
//
//	table, _ := router.New([]router.Route{{Name: "catalog", Prefix: "/catalog", Origin: origin}})
//	route, err := table.Resolve("/catalog/items/42")
//	target := route.Target(req.URL) // http://localhost:3001/catalog/items/42
package router
