package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/proxy"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/router"
	"github.com/gin-gonic/gin"
)

const Version = "1.0.0"

// Pinger is a dependency the health endpoint reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handles system-related endpoints
type SystemHandler struct {
	resolver  *router.Resolver
	forwarder *proxy.Forwarder
	reload    func() error
	checks    map[string]Pinger
	started   time.Time
	now       func() time.Time
}

// NewSystemHandler builds the handler. reload may be nil when the gateway
// was started without a configuration file.
func NewSystemHandler(resolver *router.Resolver, forwarder *proxy.Forwarder, reload func() error) *SystemHandler {
	return &SystemHandler{
		resolver:  resolver,
		forwarder: forwarder,
		reload:    reload,
		checks:    make(map[string]Pinger),
		started:   time.Now(),
		now:       time.Now,
	}
}

// AddCheck reports p under name in the health endpoint.
func (h *SystemHandler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

// Health reports liveness plus the state of configured dependencies. Any
// failed dependency turns the answer into a 503.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(gin.H, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		ok := p.Ping(ctx) == nil
		checks[name] = ok
		healthy = healthy && ok
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":    status,
		"service":   "api-gateway",
		"version":   Version,
		"timestamp": h.now().Unix(),
		"checks":    checks,
	}
	if hc := h.forwarder.Health(); hc != nil {
		body["backends"] = hc.OverallHealth()
	}

	c.JSON(statusCode, body)
}

type routeView struct {
	Name          string   `json:"name"`
	Method        string   `json:"method"`
	Pattern       string   `json:"pattern"`
	Targets       []string `json:"targets"`
	AuthRequired  bool     `json:"auth_required"`
	RateLimitTier string   `json:"rate_limit_tier,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
}

// Status describes the active routing table and backend health.
func (h *SystemHandler) Status(c *gin.Context) {
	routes := h.resolver.Snapshot().Routes()
	views := make([]routeView, 0, len(routes))
	for _, r := range routes {
		v := routeView{
			Name:         r.Name,
			Method:       r.Method,
			Pattern:      r.Pattern,
			AuthRequired: r.AuthRequired,
		}
		for _, t := range r.Targets {
			v.Targets = append(v.Targets, t.String())
		}
		if r.Tier != nil {
			v.RateLimitTier = r.Tier.Name
		}
		if r.Timeout > 0 {
			v.Timeout = r.Timeout.String()
		}
		views = append(views, v)
	}

	body := gin.H{
		"gateway":   "running",
		"version":   Version,
		"routes":    views,
		"uptime":    h.now().Sub(h.started).Seconds(),
		"timestamp": h.now().Unix(),
	}
	if hc := h.forwarder.Health(); hc != nil {
		body["backends"] = hc.GetAllStatus()
	}

	c.JSON(http.StatusOK, body)
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.forwarder.Breakers().Snapshot())
}

// Manually resets circuit breakers. Without a backend query parameter every
// breaker is closed.
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	backend := c.Query("backend")

	n := h.forwarder.Breakers().Reset(backend)
	if backend != "" && n == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Circuit breaker not found",
			"backend": backend,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"reset":   n,
	})
}

// Reload re-reads the configuration file and swaps in the new routes.
func (h *SystemHandler) Reload(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload is not available"})
		return
	}
	if err := h.reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Configuration reloaded",
		"routes":  h.resolver.Snapshot().Len(),
	})
}
