package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("probe path = %s, want /healthz", r.URL.Path)
		}
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	c := NewChecker(Config{Endpoint: "/healthz", MaxFailures: 2}, backend.Client(), nil)
	c.SetTargets([]string{backend.URL})
	ctx := context.Background()

	c.CheckAll(ctx)
	if !c.IsHealthy(backend.URL) || c.OverallHealth() != Healthy {
		t.Fatal("target should be healthy")
	}

	healthy.Store(false)
	c.CheckAll(ctx)
	if !c.IsHealthy(backend.URL) {
		t.Fatal("one failure should not mark the target unhealthy")
	}
	c.CheckAll(ctx)
	if c.IsHealthy(backend.URL) {
		t.Fatal("target should be unhealthy after max failures")
	}
	if c.OverallHealth() != Unhealthy {
		t.Errorf("OverallHealth() = %s, want unhealthy", c.OverallHealth())
	}

	healthy.Store(true)
	c.CheckAll(ctx)
	if !c.IsHealthy(backend.URL) {
		t.Error("one success should restore the target")
	}
}

func TestChecker_UnreachableAndDegraded(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downURL := down.URL
	down.Close()

	c := NewChecker(Config{MaxFailures: 1, Timeout: time.Second}, nil, nil)
	c.SetTargets([]string{up.URL, downURL})
	c.CheckAll(context.Background())

	if c.IsHealthy(downURL) {
		t.Error("closed server should be unhealthy")
	}
	if c.OverallHealth() != Degraded {
		t.Errorf("OverallHealth() = %s, want degraded", c.OverallHealth())
	}

	statuses := c.GetAllStatus()
	if len(statuses) != 2 {
		t.Fatalf("GetAllStatus() returned %d entries", len(statuses))
	}

	// Dropping the target forgets it; unknown targets count as healthy.
	c.SetTargets([]string{up.URL})
	if !c.IsHealthy(downURL) || c.OverallHealth() != Healthy {
		t.Error("removed target should no longer affect health")
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	var probes atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
	}))
	defer backend.Close()

	c := NewChecker(Config{Interval: 10 * time.Millisecond}, backend.Client(), nil)
	c.SetTargets([]string{backend.URL})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for probes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if probes.Load() < 2 {
		t.Errorf("probes = %d, want at least 2", probes.Load())
	}
}
