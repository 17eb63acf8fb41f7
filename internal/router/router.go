// Package router resolves request paths to configured services.
package router

import (
	"errors"
	"sort"
	"strings"

	"github.com/rsinha488/ecommerce-gateway/internal/config"
)

// ErrNoRoute is returned when no service prefix matches the path.
var ErrNoRoute = errors.New("no matching route")

// Route binds a path prefix to a service name.
type Route struct {
	Prefix  string
	Service string
}

// Router matches request paths against service prefixes, longest
// prefix first.
type Router struct {
	routes []Route
}

// New builds a router from the configured services.
func New(services []config.Service) *Router {
	routes := make([]Route, 0, len(services))
	for _, svc := range services {
		routes = append(routes, Route{
			Prefix:  svc.Prefix,
			Service: svc.Name,
		})
	}

	// Longest prefix first so /products/featured beats /products.
	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})

	return &Router{routes: routes}
}

// Resolve returns the service owning the path.
func (rt *Router) Resolve(path string) (string, error) {
	for _, route := range rt.routes {
		if matchesPrefix(path, route.Prefix) {
			return route.Service, nil
		}
	}
	return "", ErrNoRoute
}

// Routes returns the routes in matching order.
func (rt *Router) Routes() []Route {
	out := make([]Route, len(rt.routes))
	copy(out, rt.routes)
	return out
}

// matchesPrefix reports whether the path lives under the prefix on a
// path segment boundary, so /products does not capture /productsearch.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return prefix == "/" || path[len(prefix)] == '/'
}
