package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Performs health checks on backend targets
type Checker struct {
	mu           sync.RWMutex
	healthStatus map[string]*Status
	endpoint     string
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	client       *http.Client
	logger       *slog.Logger

	// OnTransition, when set before Run, is called whenever a target is
	// added or flips between healthy and unhealthy.
	OnTransition func(target string, healthy bool)
}

// Holds health checker configuration
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"`     // Health check path (default: "/health")
	Interval    time.Duration `yaml:"interval"`     // How often to check (default: 10s)
	Timeout     time.Duration `yaml:"timeout"`      // Request timeout (default: 5s)
	MaxFailures int           `yaml:"max_failures"` // Failures before marking unhealthy (default: 3)
}

func NewChecker(cfg Config, client *http.Client, logger *slog.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Checker{
		healthStatus: make(map[string]*Status),
		endpoint:     cfg.Endpoint,
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		client:       client,
		logger:       logger.With("component", "healthcheck"),
	}
}

// SetTargets replaces the probed set. Known targets keep their status, new
// ones start out healthy.
func (c *Checker) SetTargets(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]*Status, len(targets))
	for _, target := range targets {
		if status, ok := c.healthStatus[target]; ok {
			next[target] = status
			continue
		}
		next[target] = &Status{
			Target:    target,
			IsHealthy: true, // Assume healthy initially
			LastCheck: time.Now(),
		}
		c.notify(target, true)
	}
	c.healthStatus = next
}

// Run probes every target immediately and then on each interval until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.logger.Info("Starting health checks", "targets", len(c.targets()), "interval", c.interval)

	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health checker stopped")
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

func (c *Checker) targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, 0, len(c.healthStatus))
	for target := range c.healthStatus {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Performs health check on all targets
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, target := range c.targets() {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}

	wg.Wait()
}

// Performs health check on a single target
func (c *Checker) checkTarget(ctx context.Context, target string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.recordFailure(target)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(target)
		return
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(target)
	} else {
		c.recordFailure(target)
	}
}

// Records a successful health check
func (c *Checker) recordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.healthStatus[target]
	if !ok {
		return
	}
	status.LastCheck = time.Now()
	status.LastSuccess = status.LastCheck
	status.FailureCount = 0

	if !status.IsHealthy {
		c.logger.Info("Target is now healthy", "target", target)
		status.IsHealthy = true
		c.notify(target, true)
	}
}

// Records a failed health check
func (c *Checker) recordFailure(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.healthStatus[target]
	if !ok {
		return
	}
	status.LastCheck = time.Now()
	status.LastFailure = status.LastCheck
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("Target is now unhealthy", "target", target, "failures", status.FailureCount)
		status.IsHealthy = false
		c.notify(target, false)
	}
}

func (c *Checker) notify(target string, healthy bool) {
	if c.OnTransition != nil {
		c.OnTransition(target, healthy)
	}
}

// IsHealthy reports the last known health of target. Targets the checker
// does not know about are treated as healthy.
func (c *Checker) IsHealthy(target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, ok := c.healthStatus[target]
	return !ok || status.IsHealthy
}

// Returns health status of all targets sorted by target
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.healthStatus))
	for _, status := range c.healthStatus {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Returns the overall health status
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthyCount := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthyCount++
		}
	}

	if len(c.healthStatus) > 0 && healthyCount == 0 {
		return Unhealthy
	}
	if healthyCount < len(c.healthStatus) {
		return Degraded
	}

	return Healthy
}
