// Package router maps request paths to upstream services by longest
// matching prefix. The matched prefix is stripped from the path before
// the request is forwarded.
package router

import (
	"sort"
	"strings"
	"sync"

	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/util"
)

// route is one compiled prefix rule.
type route struct {
	prefix  string
	service string
}

// Match is the result of resolving a request path.
type Match struct {
	// Service is the name of the upstream service the path routes to.
	Service string

	// Prefix is the route prefix that matched.
	Prefix string

	// StrippedPath is the request path with the matched prefix removed.
	// It always begins with "/".
	StrippedPath string
}

// Router resolves request paths against a set of prefix routes. The
// route table can be swapped atomically on config reload.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// New builds a Router from the configured routes. Routes are ordered
// by descending prefix length so the longest prefix wins.
func New(routes []config.RouteConfig) (*Router, error) {
	r := &Router{}
	if err := r.Update(routes); err != nil {
		return nil, err
	}
	return r, nil
}

// Update replaces the route table. The previous table stays in effect
// if validation fails.
func (r *Router) Update(routes []config.RouteConfig) error {
	compiled := make([]route, 0, len(routes))
	seen := make(map[string]bool, len(routes))
	for _, rc := range routes {
		if !strings.HasPrefix(rc.Prefix, "/") {
			return util.NewConfigError("routes.prefix", "prefix must start with /")
		}
		if rc.Service == "" {
			return util.NewConfigError("routes.service", "service is required")
		}
		prefix := normalizePrefix(rc.Prefix)
		if seen[prefix] {
			return util.NewConfigError("routes.prefix", "duplicate prefix "+prefix)
		}
		seen[prefix] = true
		compiled = append(compiled, route{prefix: prefix, service: rc.Service})
	}

	sort.Slice(compiled, func(i, j int) bool {
		return len(compiled[i].prefix) > len(compiled[j].prefix)
	})

	r.mu.Lock()
	r.routes = compiled
	r.mu.Unlock()
	return nil
}

// Resolve returns the longest-prefix match for path, or false when no
// route covers it.
func (r *Router) Resolve(path string) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if !matchesPrefix(path, rt.prefix) {
			continue
		}
		return Match{
			Service:      rt.service,
			Prefix:       rt.prefix,
			StrippedPath: stripPrefix(path, rt.prefix),
		}, true
	}
	return Match{}, false
}

// Len returns the number of routes in the table.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// normalizePrefix removes a trailing slash so "/letters/" and
// "/letters" compile to the same rule. The root prefix "/" is kept.
func normalizePrefix(prefix string) string {
	if prefix != "/" {
		prefix = strings.TrimSuffix(prefix, "/")
	}
	return prefix
}

// matchesPrefix reports whether path falls under prefix on a path
// segment boundary. "/lettersx" does not match the prefix "/letters".
func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// stripPrefix removes the matched prefix and guarantees the result is
// a rooted path.
func stripPrefix(path, prefix string) string {
	if prefix == "/" {
		return path
	}
	stripped := strings.TrimPrefix(path, prefix)
	if stripped == "" || stripped[0] != '/' {
		stripped = "/" + stripped
	}
	return stripped
}
