package loadbalance

import (
	"math/rand/v2"

	"e-router/registry"
)

// WeightedRandom picks an endpoint with probability proportional to its
// weight. It only reads the registry and never rotates it.
type WeightedRandom struct {
	reg registry.Registry
}

func NewWeightedRandom(reg registry.Registry) *WeightedRandom {
	return &WeightedRandom{reg: reg}
}

func (b *WeightedRandom) Select(req Request) (registry.Endpoint, bool) {
	endpoints, _ := b.reg.Endpoints(req.Function)
	return pickWeighted(endpoints, rand.IntN)
}

// pickWeighted walks the cumulative weights until the random draw is used up.
func pickWeighted(endpoints []registry.Endpoint, intn func(int) int) (registry.Endpoint, bool) {
	if len(endpoints) == 0 {
		return registry.Endpoint{}, false
	}

	total := 0
	for _, ep := range endpoints {
		total += ep.EffectiveWeight()
	}

	r := intn(total)
	for _, ep := range endpoints {
		r -= ep.EffectiveWeight()
		if r < 0 {
			return ep, true
		}
	}
	return endpoints[len(endpoints)-1], true
}
