package loadbalancer

import "net/url"

// Strategy picks one backend target for a route with several targets.
type Strategy interface {
	// Selects the next target from available targets, nil when there are none
	Next(targets []*url.URL) *url.URL

	// Returns the strategy name
	Name() string
}

// Tracker is implemented by strategies that need to observe in-flight
// requests. The forwarder calls Acquire before dialing and Release when the
// response has been relayed.
type Tracker interface {
	Acquire(target *url.URL)
	Release(target *url.URL)
}
