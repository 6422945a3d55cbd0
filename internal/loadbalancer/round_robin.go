package loadbalancer

import (
	"net/url"
	"sync/atomic"
)

type RoundRobin struct {
	current atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Returns the next target in round-robin order
func (r *RoundRobin) Next(targets []*url.URL) *url.URL {
	if len(targets) == 0 {
		return nil
	}

	n := r.current.Add(1) - 1
	return targets[n%uint64(len(targets))]
}

func (r *RoundRobin) Name() string {
	return RoundRobinName
}
