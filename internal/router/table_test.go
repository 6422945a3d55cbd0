package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/ratelimit"
)

var testTiers = map[string]ratelimit.Tier{
	"basic": {Name: "basic", Window: time.Minute, MaxRequests: 60, Algorithm: ratelimit.AlgorithmFixedWindow},
}

func mustTable(t *testing.T, configs ...RouteConfig) *Table {
	t.Helper()
	table, err := NewTable(configs, testTiers)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Name: "api", Method: "GET", Path: "/api/*", Backend: "http://api:8080"},
		RouteConfig{Name: "api-v2", Method: "GET", Path: "/api/v2/*", Backend: "http://v2:8080"},
		RouteConfig{Name: "root", Method: "GET", Path: "/*", Backend: "http://web:8080"},
	)

	tests := []struct {
		path string
		want string
	}{
		{"/api/v2/x", "api-v2"},
		{"/api/v2", "api-v2"},
		{"/api/v1/x", "api"},
		{"/api", "api"},
		{"/api/", "api"},
		{"/apiary", "root"},
		{"/", "root"},
		{"/static/app.js", "root"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, err := table.Resolve("GET", tt.path)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if r.Name != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.path, r.Name, tt.want)
			}
		})
	}
}

func TestResolve_TieGoesToFirstRegistered(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Name: "first", Method: "GET", Path: "/api/*", Backend: "http://a:1"},
		RouteConfig{Name: "second", Method: "GET", Path: "/api/*", Backend: "http://b:1"},
		RouteConfig{Name: "third", Method: "ANY", Path: "/api/*", Backend: "http://c:1"},
	)

	for i := 0; i < 10; i++ {
		r, err := table.Resolve("GET", "/api/users")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if r.Name != "first" {
			t.Fatalf("Resolve() = %s, want first", r.Name)
		}
	}

	r, err := table.Resolve("POST", "/api/users")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.Name != "third" {
		t.Errorf("POST resolved to %s, want third", r.Name)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Method: "GET", Path: "/a/*", Backend: "http://a:1"},
		RouteConfig{Method: "GET", Path: "/a/b/*", Backend: "http://b:1"},
		RouteConfig{Method: "GET", Path: "/a/b/c", Backend: "http://c:1"},
	)

	first, err := table.Resolve("GET", "/a/b/c")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 100; i++ {
		r, _ := table.Resolve("GET", "/a/b/c")
		if r != first {
			t.Fatalf("iteration %d resolved to %s, want %s", i, r.Name, first.Name)
		}
	}
}

func TestResolve_ExactPatterns(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Name: "health", Method: "GET", Path: "/health", Backend: "http://h:1"},
		RouteConfig{Name: "dir-wild", Method: "GET", Path: "/docs/*", Backend: "http://d:1"},
		RouteConfig{Name: "dir-exact", Method: "GET", Path: "/docs/", Backend: "http://e:1"},
	)

	if r, err := table.Resolve("GET", "/health"); err != nil || r.Name != "health" {
		t.Errorf("Resolve(/health) = %v, %v", r, err)
	}
	if _, err := table.Resolve("GET", "/health/deep"); !errors.Is(err, gwerror.ErrRouteNotFound) {
		t.Errorf("exact pattern should not match deeper paths, err = %v", err)
	}
	// Exact beats a wildcard with the same fixed prefix.
	if r, _ := table.Resolve("GET", "/docs/"); r == nil || r.Name != "dir-exact" {
		t.Errorf("Resolve(/docs/) = %v, want dir-exact", r)
	}
	if r, _ := table.Resolve("GET", "/docs/intro"); r == nil || r.Name != "dir-wild" {
		t.Errorf("Resolve(/docs/intro) = %v, want dir-wild", r)
	}

	// A wildcard reaches its bare parent only when nothing matches it directly.
	collection := mustTable(t,
		RouteConfig{Name: "collection", Method: "GET", Path: "/api", Backend: "http://c:1"},
		RouteConfig{Name: "subtree", Method: "GET", Path: "/api/*", Backend: "http://s:1", AuthRequired: true},
	)
	if r, _ := collection.Resolve("GET", "/api"); r == nil || r.Name != "collection" || r.AuthRequired {
		t.Errorf("Resolve(/api) = %v, want collection", r)
	}
	if r, _ := collection.Resolve("GET", "/api/items"); r == nil || r.Name != "subtree" {
		t.Errorf("Resolve(/api/items) = %v, want subtree", r)
	}

	glob := mustTable(t,
		RouteConfig{Name: "subtree", Method: "GET", Path: "/api/*", Backend: "http://s:1"},
		RouteConfig{Name: "glob", Method: "GET", Path: "/api*", Backend: "http://g:1"},
	)
	if r, _ := glob.Resolve("GET", "/api"); r == nil || r.Name != "glob" {
		t.Errorf("Resolve(/api) = %v, want glob", r)
	}
	if r, _ := glob.Resolve("GET", "/api/x"); r == nil || r.Name != "subtree" {
		t.Errorf("Resolve(/api/x) = %v, want subtree", r)
	}
}

func TestResolve_MethodMustMatch(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Method: "GET", Path: "/items/*", Backend: "http://a:1"},
	)

	_, err := table.Resolve("DELETE", "/items/1")
	var gwErr *gwerror.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != gwerror.KindRouteNotFound {
		t.Fatalf("Resolve() error = %v, want route not found", err)
	}
	if gwErr.StatusCode() != 404 {
		t.Errorf("StatusCode() = %d, want 404", gwErr.StatusCode())
	}
}

func TestResolve_MethodAny(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Name: "all", Method: "any", Path: "/*", Backend: "http://a:1"},
	)

	for _, m := range standardMethods {
		r, err := table.Resolve(m, "/x")
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", m, err)
		}
		if r.Method != m {
			t.Errorf("route method = %s, want %s", r.Method, m)
		}
	}
	if table.Len() != len(standardMethods) {
		t.Errorf("Len() = %d, want %d", table.Len(), len(standardMethods))
	}
}

func TestResolve_DotSegments(t *testing.T) {
	table := mustTable(t,
		RouteConfig{Name: "public", Method: "GET", Path: "/public/*", Backend: "http://a:1"},
		RouteConfig{Name: "admin", Method: "GET", Path: "/admin/*", Backend: "http://b:1", AuthRequired: true},
	)

	r, err := table.Resolve("GET", "/public/../admin/users")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.Name != "admin" || !r.AuthRequired {
		t.Errorf("dot segments resolved to %s, want admin", r.Name)
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"api", "/api"},
		{"/api//users", "/api/users"},
		{"/api/./users/", "/api/users/"},
		{"/a/b/../c", "/a/c"},
		{"/../../etc/passwd", "/etc/passwd"},
		{"/docs/", "/docs/"},
	}

	for _, tt := range tests {
		if got := CleanPath(tt.in); got != tt.want {
			t.Errorf("CleanPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name string
		rc   RouteConfig
	}{
		{"missing method", RouteConfig{Path: "/a", Backend: "http://a:1"}},
		{"unknown method", RouteConfig{Method: "FETCH", Path: "/a", Backend: "http://a:1"}},
		{"relative path", RouteConfig{Method: "GET", Path: "a/*", Backend: "http://a:1"}},
		{"inner wildcard", RouteConfig{Method: "GET", Path: "/a/*/b", Backend: "http://a:1"}},
		{"missing backend", RouteConfig{Method: "GET", Path: "/a"}},
		{"backend without scheme", RouteConfig{Method: "GET", Path: "/a", Backend: "backend:8080"}},
		{"backend bad scheme", RouteConfig{Method: "GET", Path: "/a", Backend: "ftp://a:21"}},
		{"unknown tier", RouteConfig{Method: "GET", Path: "/a", Backend: "http://a:1", RateLimitTier: "gold"}},
		{"negative timeout", RouteConfig{Method: "GET", Path: "/a", Backend: "http://a:1", Timeout: -time.Second}},
		{"unknown balancer", RouteConfig{Method: "GET", Path: "/a", Backends: []string{"http://a:1", "http://b:1"}, LoadBalancer: "weighted"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable([]RouteConfig{tt.rc}, testTiers); err == nil {
				t.Error("NewTable() expected an error")
			}
		})
	}
}

func TestNewTable_RoutePolicy(t *testing.T) {
	table := mustTable(t, RouteConfig{
		Name:          "orders",
		Method:        "POST",
		Path:          "/orders/*",
		Backend:       "http://orders:8080",
		Backends:      []string{"http://orders-2:8080"},
		LoadBalancer:  "round_robin",
		AuthRequired:  true,
		RateLimitTier: "basic",
		Timeout:       3 * time.Second,
	})

	r, err := table.Resolve("POST", "/orders/42")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !r.AuthRequired || r.Tier == nil || r.Tier.Name != "basic" || r.Timeout != 3*time.Second {
		t.Errorf("route policy = %+v", r)
	}
	if len(r.Targets) != 2 || r.Targets[0].Host != "orders:8080" {
		t.Fatalf("Targets = %v", r.Targets)
	}
	a, b := r.TargetFrom(r.Targets), r.TargetFrom(r.Targets)
	if a.Host == b.Host {
		t.Errorf("round robin returned %s twice", a.Host)
	}

	single := mustTable(t, RouteConfig{Method: "GET", Path: "/", Backend: "http://only:1"})
	sr, _ := single.Resolve("GET", "/")
	if sr.Tier != nil || sr.Balancer != nil {
		t.Errorf("single target route should have no tier or balancer: %+v", sr)
	}
	if got := sr.TargetFrom(sr.Targets); got.Host != "only:1" {
		t.Errorf("TargetFrom() = %v", got)
	}
	if got := sr.TargetFrom(nil); got != nil {
		t.Errorf("TargetFrom(nil) = %v, want nil", got)
	}
}

func TestResolver_Swap(t *testing.T) {
	resolver := NewResolver(nil)
	if _, err := resolver.Resolve("GET", "/x"); !errors.Is(err, gwerror.ErrRouteNotFound) {
		t.Fatalf("empty resolver error = %v", err)
	}

	resolver.Swap(mustTable(t, RouteConfig{Name: "v1", Method: "GET", Path: "/*", Backend: "http://v1:1"}))
	snapshot := resolver.Snapshot()

	prev := resolver.Swap(mustTable(t, RouteConfig{Name: "v2", Method: "GET", Path: "/*", Backend: "http://v2:1"}))
	if prev != snapshot {
		t.Error("Swap() should return the table it replaced")
	}

	// A snapshot taken before the reload keeps answering from the old table.
	if r, _ := snapshot.Resolve("GET", "/x"); r.Name != "v1" {
		t.Errorf("old snapshot resolved to %s, want v1", r.Name)
	}
	if r, _ := resolver.Resolve("GET", "/x"); r.Name != "v2" {
		t.Errorf("resolver resolved to %s, want v2", r.Name)
	}
}

func TestResolver_ConcurrentSwap(t *testing.T) {
	tables := make([]*Table, 4)
	for i := range tables {
		tables[i] = mustTable(t,
			RouteConfig{Name: fmt.Sprintf("gen%d-api", i), Method: "GET", Path: "/api/*", Backend: "http://a:1"},
			RouteConfig{Name: fmt.Sprintf("gen%d-root", i), Method: "GET", Path: "/*", Backend: "http://b:1"},
		)
	}
	resolver := NewResolver(tables[0])

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				resolver.Swap(tables[i%len(tables)])
			}
		}
	}()

	var readers sync.WaitGroup
	for g := 0; g < 8; g++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 1000; i++ {
				snap := resolver.Snapshot()
				api, err1 := snap.Resolve("GET", "/api/x")
				root, err2 := snap.Resolve("GET", "/other")
				if err1 != nil || err2 != nil {
					t.Errorf("Resolve() errors = %v, %v", err1, err2)
					return
				}
				// Both answers come from the same generation.
				if api.Name[:4] != root.Name[:4] {
					t.Errorf("mixed generations: %s and %s", api.Name, root.Name)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}
