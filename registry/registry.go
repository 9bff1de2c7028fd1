// Package registry holds the e-table: the mapping from function name to the
// ordered list of endpoints (e-computers) that can serve it.
//
// The order of a function's list is its round-robin state. The head is the
// endpoint served least recently, and every selection rotates the head to the
// tail, so the length of a list never changes because of selection.
//
//	sum: [e1 e2 e3]  --RotateAndPeek-->  e1,  sum: [e2 e3 e1]
package registry

import "errors"

// ErrUnknownFunction is returned when an endpoint is registered against a
// function that was never created. The registry is left unchanged.
var ErrUnknownFunction = errors.New("registry: unknown function")

// Endpoint is a worker able to execute invocations of a function.
type Endpoint struct {
	ID     string `json:"id" yaml:"id"`                             // Opaque id; the dialable address in TCP deployments
	Weight int    `json:"weight,omitempty" yaml:"weight,omitempty"` // Only read by weighted selectors
}

// EffectiveWeight returns the endpoint weight, treating non-positive values as 1.
func (e Endpoint) EffectiveWeight() int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}

// Registry is the contract shared by the selectors, the bootstrap code, the
// admin API and the etcd watcher. All methods must be goroutine-safe.
type Registry interface {
	// CreateFunction ensures name has an entry. It never resets an existing one.
	CreateFunction(name string)

	// RegisterEndpoint appends endpoint to the list of name.
	// Returns ErrUnknownFunction if name was never created.
	RegisterEndpoint(name string, endpoint Endpoint) error

	// RotateAndPeek returns the head endpoint of name and moves it to the tail
	// in one step. ok is false when name is unknown or has no endpoints.
	RotateAndPeek(name string) (endpoint Endpoint, ok bool)

	// DeregisterEndpoint removes every occurrence of id from name's list and
	// returns how many were removed.
	DeregisterEndpoint(name string, id string) int

	// DeregisterEndpointN removes at most n occurrences of id, the most
	// recently registered first, and returns how many were removed.
	DeregisterEndpointN(name string, id string, n int) int

	// RemoveFunction drops the entry for name. Reports whether it existed.
	RemoveFunction(name string) bool

	// Endpoints returns a copy of name's list in rotation order.
	Endpoints(name string) ([]Endpoint, bool)

	// Functions returns the sorted function names.
	Functions() []string
}
