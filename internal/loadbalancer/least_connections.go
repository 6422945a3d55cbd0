package loadbalancer

import (
	"net/url"
	"sync"
)

// LeastConnections sends each request to the target with the fewest
// in-flight requests, preferring the earliest target on a tie.
type LeastConnections struct {
	mu          sync.RWMutex
	connections map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		connections: make(map[string]int),
	}
}

// Returns the target with least connections
func (l *LeastConnections) Next(targets []*url.URL) *url.URL {
	if len(targets) == 0 {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	selected := targets[0]
	minConn := l.connections[selected.Host]

	for _, target := range targets[1:] {
		if conn := l.connections[target.Host]; conn < minConn {
			minConn = conn
			selected = target
		}
	}

	return selected
}

// Increments the connection count for a target
func (l *LeastConnections) Acquire(target *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connections[target.Host]++
}

// Decrements the connection count for a target
func (l *LeastConnections) Release(target *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[target.Host] > 1 {
		l.connections[target.Host]--
		return
	}
	delete(l.connections, target.Host)
}

// Returns the number of in-flight requests for a target
func (l *LeastConnections) Active(target *url.URL) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connections[target.Host]
}

func (l *LeastConnections) Name() string {
	return LeastConnectionsName
}
