package loadbalance

import "e-router/registry"

// RoundRobin serves a function's endpoints in registration order, cycling
// forever. The rotation state lives in the registry itself, so concurrent
// callers see one serialized order of rotations per function.
type RoundRobin struct {
	reg registry.Registry
}

func NewRoundRobin(reg registry.Registry) *RoundRobin {
	return &RoundRobin{reg: reg}
}

func (b *RoundRobin) Select(req Request) (registry.Endpoint, bool) {
	return b.reg.RotateAndPeek(req.Function)
}
