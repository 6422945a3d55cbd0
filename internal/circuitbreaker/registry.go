package circuitbreaker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry keeps one breaker per backend, created on first use. Breakers
// survive route reloads so a flapping backend stays open across them.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*CircuitBreaker
	logger   *slog.Logger
	now      func() time.Time

	// OnStateChange, when set before first use, is called with the backend
	// name on every transition.
	OnStateChange func(backend string, from, to State)
}

func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger.With("component", "circuitbreaker"),
		now:      time.Now,
	}
}

// Get returns the breaker for backend, creating it if needed.
func (r *Registry) Get(backend string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[backend]; ok {
		return cb
	}
	cb := newNamed(backend, r.cfg, r.now, r.stateChanged)
	r.breakers[backend] = cb
	return cb
}

func (r *Registry) stateChanged(backend string, from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "Circuit breaker state changed", "backend", backend, "from", from.String(), "to", to.String())
	if r.OnStateChange != nil {
		r.OnStateChange(backend, from, to)
	}
}

// Snapshot returns the metrics of every known breaker sorted by backend.
func (r *Registry) Snapshot() []Metrics {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]Metrics, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes every breaker, or only the named backend when given.
func (r *Registry) Reset(backend string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if backend != "" {
		cb, ok := r.breakers[backend]
		if !ok {
			return 0
		}
		cb.Reset()
		return 1
	}
	for _, cb := range r.breakers {
		cb.Reset()
	}
	return len(r.breakers)
}
