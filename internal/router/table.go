package router

import (
	"path"
	"sort"
	"strings"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
)

// Table is an immutable set of routes indexed by method. Within a method,
// routes are ordered so that the first match is the winner.
type Table struct {
	byMethod map[string][]*Route
	routes   []*Route
}

// NewTable validates every route config and builds the lookup table. Each
// route's tier must be present in tiers.
func NewTable(configs []RouteConfig, tiers map[string]ratelimit.Tier) (*Table, error) {
	t := &Table{byMethod: make(map[string][]*Route)}

	order := 0
	for _, rc := range configs {
		routes, err := rc.build(tiers)
		if err != nil {
			return nil, err
		}
		for _, r := range routes {
			r.order = order
			order++
			t.byMethod[r.Method] = append(t.byMethod[r.Method], r)
			t.routes = append(t.routes, r)
		}
	}

	for _, routes := range t.byMethod {
		sort.SliceStable(routes, func(i, j int) bool {
			return precedes(routes[i], routes[j])
		})
	}
	return t, nil
}

// precedes orders by longest fixed prefix, then exact before wildcard on an
// equal prefix, then registration order.
func precedes(a, b *Route) bool {
	if len(a.prefix) != len(b.prefix) {
		return len(a.prefix) > len(b.prefix)
	}
	if a.exact != b.exact {
		return a.exact
	}
	return a.order < b.order
}

// Resolve returns the route for method and path. The path is cleaned first so
// dot segments can not reach around a more specific route.
func (t *Table) Resolve(method, rawPath string) (*Route, error) {
	p := CleanPath(rawPath)

	var best *Route
	bestLen, bestStrength := 0, 0
	for _, r := range t.byMethod[method] {
		// Routes are sorted by prefix length, so nothing further can beat best.
		if best != nil && len(r.prefix) < bestLen {
			break
		}
		n, strength, ok := r.match(p)
		if !ok {
			continue
		}
		if best == nil || n > bestLen || (n == bestLen && strength > bestStrength) {
			best, bestLen, bestStrength = r, n, strength
		}
	}
	if best == nil {
		return nil, gwerror.RouteNotFound(method, p)
	}
	return best, nil
}

// Routes returns every route in registration order.
func (t *Table) Routes() []*Route {
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

func (t *Table) Len() int {
	return len(t.routes)
}

// CleanPath applies path.Clean while keeping a trailing slash.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}
