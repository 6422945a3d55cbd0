package proxy

import (
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/healthcheck"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultDialTimeout = 5 * time.Second
)

// Config tunes the outbound half of the gateway.
type Config struct {
	DefaultTimeout      time.Duration         `yaml:"default_timeout"`
	DialTimeout         time.Duration         `yaml:"dial_timeout"`
	MaxIdleConnsPerHost int                   `yaml:"max_idle_conns_per_host"`
	DisableRetry        bool                  `yaml:"disable_retry"`
	CircuitBreaker      circuitbreaker.Config `yaml:"circuit_breaker"`
	HealthCheck         healthcheck.Config    `yaml:"health_check"`
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 32
	}
	return c
}
