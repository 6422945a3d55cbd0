package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const shardCount = 64

// DefaultIdleWindows is how many window durations a key may stay idle
// before the sweeper reclaims it.
const DefaultIdleWindows = 2

type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
	span     time.Duration
	bucket   *rate.Limiter // token_bucket tiers only
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryLimiter keeps per-key windows in process memory. Keys are spread
// across shards so unrelated keys never contend on the same lock, while all
// calls for one key serialize on its shard.
type MemoryLimiter struct {
	shards      [shardCount]shard
	idleWindows int
	logger      *slog.Logger
}

func NewMemoryLimiter(idleWindows int, logger *slog.Logger) *MemoryLimiter {
	if idleWindows <= 0 {
		idleWindows = DefaultIdleWindows
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &MemoryLimiter{
		idleWindows: idleWindows,
		logger:      logger.With("component", "ratelimit"),
	}
	for i := range m.shards {
		m.shards[i].windows = make(map[string]*window)
	}
	return m
}

func (m *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, tier Tier, now time.Time) (Decision, error) {
	if err := tier.Validate(); err != nil {
		return Decision{}, err
	}

	k := tier.Name + "\x00" + key
	s := m.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if tier.Algorithm == AlgorithmTokenBucket {
		return s.allowBucket(k, tier, now), nil
	}
	return s.allowFixed(k, tier, now), nil
}

// allowFixed applies the fixed window rule. Must be called with s.mu held.
func (s *shard) allowFixed(key string, tier Tier, now time.Time) Decision {
	w := s.windows[key]
	if w == nil || w.bucket != nil || !now.Before(w.start.Add(tier.Window)) {
		w = &window{start: now, count: 1, lastSeen: now, span: tier.Window}
		s.windows[key] = w
		return Decision{
			Allowed:   true,
			Limit:     tier.MaxRequests,
			Remaining: tier.MaxRequests - 1,
			ResetAt:   now.Add(tier.Window),
		}
	}

	w.lastSeen = now
	w.span = tier.Window
	resetAt := w.start.Add(tier.Window)

	if w.count < tier.MaxRequests {
		w.count++
		return Decision{
			Allowed:   true,
			Limit:     tier.MaxRequests,
			Remaining: tier.MaxRequests - w.count,
			ResetAt:   resetAt,
		}
	}

	// Cap at max+1 so sustained abuse does not grow the counter.
	w.count = tier.MaxRequests + 1
	return Decision{
		Allowed:    false,
		Limit:      tier.MaxRequests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: resetAt.Sub(now),
	}
}

// allowBucket refills max_requests tokens per window with a burst of
// max_requests. Must be called with s.mu held.
func (s *shard) allowBucket(key string, tier Tier, now time.Time) Decision {
	limit := rate.Limit(float64(tier.MaxRequests) / tier.Window.Seconds())

	w := s.windows[key]
	if w == nil || w.bucket == nil || w.bucket.Burst() != tier.MaxRequests || w.bucket.Limit() != limit {
		w = &window{start: now, bucket: rate.NewLimiter(limit, tier.MaxRequests)}
		s.windows[key] = w
	}
	w.lastSeen = now
	w.span = tier.Window

	r := w.bucket.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, Limit: tier.MaxRequests, ResetAt: now.Add(tier.Window), RetryAfter: tier.Window}
	}

	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{
			Allowed:    false,
			Limit:      tier.MaxRequests,
			Remaining:  0,
			ResetAt:    now.Add(delay),
			RetryAfter: delay,
		}
	}

	remaining := int(w.bucket.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     tier.MaxRequests,
		Remaining: remaining,
		ResetAt:   now.Add(tier.Window),
	}
}

// Sweep drops keys that have been idle for idleWindows window durations and
// returns how many were removed. A key reclaimed here and touched again
// simply starts a fresh window.
func (m *MemoryLimiter) Sweep(now time.Time) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, w := range s.windows {
			if now.Sub(w.lastSeen) >= time.Duration(m.idleWindows)*w.span {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps on every interval tick until ctx is cancelled.
func (m *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := m.Sweep(now); removed > 0 {
				m.logger.Debug("Reclaimed idle rate limit windows", "removed", removed, "remaining", m.Len())
			}
		}
	}
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}
