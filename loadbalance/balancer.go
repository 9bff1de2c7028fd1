// Package loadbalance provides the selection policies that pick an endpoint
// for each routed request.
//
// Three policies are implemented:
//   - RoundRobin:      the default; rotates the function's endpoint list in the registry
//   - WeightedRandom:  heterogeneous e-computers, picked proportionally to weight
//   - ConsistentHash:  pins a client to one endpoint while the endpoint set is stable
package loadbalance

import (
	"fmt"

	"e-router/registry"
)

// Request is what a Selector sees of a routed request.
type Request struct {
	ClientID string
	Function string
}

// Selector picks the destination for a request.
// ok is false when no destination is available; it is never an error.
// Called on every request, so implementations must be goroutine-safe.
type Selector interface {
	Select(req Request) (endpoint registry.Endpoint, ok bool)
}

// Policy names accepted by NewSelector.
const (
	PolicyRoundRobin     = "round_robin"
	PolicyWeightedRandom = "weighted_random"
	PolicyConsistentHash = "consistent_hash"
)

// NewSelector builds the Selector for the named policy over reg.
func NewSelector(policy string, reg registry.Registry) (Selector, error) {
	switch policy {
	case "", PolicyRoundRobin:
		return NewRoundRobin(reg), nil
	case PolicyWeightedRandom:
		return NewWeightedRandom(reg), nil
	case PolicyConsistentHash:
		return NewConsistentHash(reg), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown policy %q", policy)
	}
}
