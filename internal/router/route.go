package router

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/loadbalancer"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
)

// MethodAny expands into one route per standard method.
const MethodAny = "ANY"

var standardMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
	http.MethodConnect,
	http.MethodTrace,
}

// RouteConfig is one route as written in the configuration file.
type RouteConfig struct {
	Name          string        `yaml:"name"`
	Method        string        `yaml:"method"`
	Path          string        `yaml:"path"`
	Backend       string        `yaml:"backend"`
	Backends      []string      `yaml:"backends"`
	LoadBalancer  string        `yaml:"load_balancer"`
	AuthRequired  bool          `yaml:"auth_required"`
	RateLimitTier string        `yaml:"rate_limit_tier"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Route is a resolved, immutable routing rule. Routes built from one
// RouteConfig share their targets and load balancer.
type Route struct {
	Name         string
	Method       string
	Pattern      string
	Targets      []*url.URL
	Balancer     loadbalancer.Strategy
	AuthRequired bool
	Tier         *ratelimit.Tier // nil when the route is not rate limited
	Timeout      time.Duration   // zero means the forwarder default

	prefix string
	exact  bool
	order  int
}

// TargetFrom picks among candidates, normally a subset of r.Targets.
func (r *Route) TargetFrom(candidates []*url.URL) *url.URL {
	if len(candidates) == 1 || r.Balancer == nil {
		if len(candidates) == 0 {
			return nil
		}
		return candidates[0]
	}
	return r.Balancer.Next(candidates)
}

// Match strength on an equal matched length: an exact pattern beats a
// wildcard, and a wildcard covering the path by prefix beats one that only
// covers its bare parent.
const (
	matchParent = iota
	matchPrefix
	matchExact
)

// match reports whether path is covered by r, how many characters of the
// path the fixed prefix accounts for, and the strength of the match.
func (r *Route) match(path string) (n, strength int, ok bool) {
	if r.exact {
		return len(r.prefix), matchExact, path == r.prefix
	}
	if strings.HasPrefix(path, r.prefix) {
		return len(r.prefix), matchPrefix, true
	}
	// "/api/*" also covers "/api" itself, but only as far as "/api" goes.
	if strings.HasSuffix(r.prefix, "/") && path == strings.TrimSuffix(r.prefix, "/") {
		return len(path), matchParent, true
	}
	return 0, 0, false
}

// build validates rc and expands it into one Route per method.
func (rc RouteConfig) build(tiers map[string]ratelimit.Tier) ([]*Route, error) {
	name := rc.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", rc.Method, rc.Path)
	}

	methods, err := expandMethod(rc.Method)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", name, err)
	}

	prefix, exact, err := parsePattern(rc.Path)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", name, err)
	}

	targets, err := parseTargets(rc.Backend, rc.Backends)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", name, err)
	}

	var balancer loadbalancer.Strategy
	if len(targets) > 1 || rc.LoadBalancer != "" {
		balancer, err = loadbalancer.NewStrategy(rc.LoadBalancer)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", name, err)
		}
	}

	var tier *ratelimit.Tier
	if rc.RateLimitTier != "" {
		t, ok := tiers[rc.RateLimitTier]
		if !ok {
			return nil, fmt.Errorf("route %s: unknown rate limit tier %q", name, rc.RateLimitTier)
		}
		tier = &t
	}

	if rc.Timeout < 0 {
		return nil, fmt.Errorf("route %s: timeout must not be negative", name)
	}

	routes := make([]*Route, 0, len(methods))
	for _, m := range methods {
		routes = append(routes, &Route{
			Name:         name,
			Method:       m,
			Pattern:      rc.Path,
			Targets:      targets,
			Balancer:     balancer,
			AuthRequired: rc.AuthRequired,
			Tier:         tier,
			Timeout:      rc.Timeout,
			prefix:       prefix,
			exact:        exact,
		})
	}
	return routes, nil
}

func expandMethod(method string) ([]string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		return nil, fmt.Errorf("method is required")
	}
	if m == MethodAny {
		return standardMethods, nil
	}
	for _, std := range standardMethods {
		if m == std {
			return []string{m}, nil
		}
	}
	return nil, fmt.Errorf("unknown method %q", method)
}

// parsePattern splits a pattern into its fixed prefix. A pattern is exact
// unless it ends in a single "*".
func parsePattern(pattern string) (prefix string, exact bool, err error) {
	if !strings.HasPrefix(pattern, "/") {
		return "", false, fmt.Errorf("path %q must start with /", pattern)
	}
	star := strings.IndexByte(pattern, '*')
	if star == -1 {
		return pattern, true, nil
	}
	if star != len(pattern)-1 {
		return "", false, fmt.Errorf("path %q: wildcard is only allowed as the last character", pattern)
	}
	return pattern[:star], false, nil
}

func parseTargets(backend string, backends []string) ([]*url.URL, error) {
	raw := backends
	if backend != "" {
		raw = append([]string{backend}, backends...)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("backend is required")
	}

	targets := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid backend %q: %w", r, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("backend %q must use http or https", r)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("backend %q has no host", r)
		}
		targets = append(targets, u)
	}
	return targets, nil
}
