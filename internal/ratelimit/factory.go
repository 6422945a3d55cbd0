package ratelimit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/storage"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects the limiter backend and declares the tiers routes refer to.
type Config struct {
	Backend       string        `yaml:"backend"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IdleWindows   int           `yaml:"idle_windows"`
	Tiers         []Tier        `yaml:"tiers"`
}

// TierMap indexes tiers by name, rejecting invalid or duplicate tiers.
func (c Config) TierMap() (map[string]Tier, error) {
	tiers := make(map[string]Tier, len(c.Tiers))
	for _, tier := range c.Tiers {
		if err := tier.Validate(); err != nil {
			return nil, err
		}
		if _, dup := tiers[tier.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", tier.Name)
		}
		if tier.Algorithm == "" {
			tier.Algorithm = AlgorithmFixedWindow
		}
		if c.Backend == BackendRedis && tier.Algorithm == AlgorithmTokenBucket {
			return nil, fmt.Errorf("tier %s: token_bucket requires the memory backend", tier.Name)
		}
		if c.Backend == BackendRedis && tier.Window < MinRedisWindow {
			return nil, fmt.Errorf("tier %s: window must be at least %s with the redis backend", tier.Name, MinRedisWindow)
		}
		tiers[tier.Name] = tier
	}
	return tiers, nil
}

// NewLimiter builds the configured backend. The redis client is only
// required for the redis backend.
func NewLimiter(cfg Config, redis *storage.RedisClient, logger *slog.Logger) (Limiter, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryLimiter(cfg.IdleWindows, logger), nil
	case BackendRedis:
		if redis == nil {
			return nil, fmt.Errorf("redis rate limit backend requires a redis connection")
		}
		return NewRedisLimiter(redis), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s", cfg.Backend)
	}
}
