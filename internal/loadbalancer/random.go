package loadbalancer

import (
	"math/rand/v2"
	"net/url"
)

type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

// Returns a random target
func (r *Random) Next(targets []*url.URL) *url.URL {
	if len(targets) == 0 {
		return nil
	}

	return targets[rand.IntN(len(targets))]
}

func (r *Random) Name() string {
	return RandomName
}
