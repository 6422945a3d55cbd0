package loadbalancer

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw ...string) []*url.URL {
	t.Helper()
	out := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(r)
		if err != nil {
			t.Fatalf("url.Parse(%q) error = %v", r, err)
		}
		out = append(out, u)
	}
	return out
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", RoundRobinName, false},
		{"round-robin", RoundRobinName, false},
		{"round_robin", RoundRobinName, false},
		{"random", RandomName, false},
		{"least_connections", LeastConnectionsName, false},
		{"least-connections", LeastConnectionsName, false},
		{"weighted", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStrategy(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStrategy(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err == nil && s.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.want)
			}
		})
	}
}

func TestRoundRobin(t *testing.T) {
	targets := mustParse(t, "http://a:1", "http://b:1", "http://c:1")
	rr := NewRoundRobin()

	want := []string{"a:1", "b:1", "c:1", "a:1", "b:1"}
	for i, w := range want {
		if got := rr.Next(targets).Host; got != w {
			t.Errorf("call %d: Next() = %s, want %s", i, got, w)
		}
	}

	if rr.Next(nil) != nil {
		t.Error("Next(nil) should return nil")
	}
}

func TestRandom(t *testing.T) {
	targets := mustParse(t, "http://a:1", "http://b:1")
	r := NewRandom()
	for i := 0; i < 50; i++ {
		got := r.Next(targets)
		if got != targets[0] && got != targets[1] {
			t.Fatalf("Next() = %v, not one of the targets", got)
		}
	}
	if r.Next(nil) != nil {
		t.Error("Next(nil) should return nil")
	}
}

func TestLeastConnections(t *testing.T) {
	targets := mustParse(t, "http://a:1", "http://b:1", "http://c:1")
	lc := NewLeastConnections()

	if got := lc.Next(targets); got != targets[0] {
		t.Errorf("tie should pick the first target, got %v", got)
	}

	lc.Acquire(targets[0])
	lc.Acquire(targets[1])
	if got := lc.Next(targets); got != targets[2] {
		t.Errorf("Next() = %v, want %v", got, targets[2])
	}

	lc.Acquire(targets[2])
	lc.Acquire(targets[2])
	lc.Release(targets[0])
	if got := lc.Next(targets); got != targets[0] {
		t.Errorf("Next() = %v, want %v", got, targets[0])
	}

	lc.Release(targets[0])
	if n := lc.Active(targets[0]); n != 0 {
		t.Errorf("Active() after extra release = %d, want 0", n)
	}

	var _ Tracker = lc
}
