package registry

import (
	"sort"
	"sync"
)

// MemoryRegistry is the in-process Registry.
//
// A single mutex guards the whole table. Critical sections are a map lookup
// plus a bounded slice append or rotate, so contention stays short even with
// many request goroutines. RotateAndPeek holds the lock across both the read
// of the head and the rotation, so no two callers can ever observe the same
// rotation position.
type MemoryRegistry struct {
	mu    sync.Mutex
	table map[string][]Endpoint // function -> endpoints, head = next to serve
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{table: make(map[string][]Endpoint)}
}

func (r *MemoryRegistry) CreateFunction(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[name]; !ok {
		r.table[name] = []Endpoint{}
	}
}

func (r *MemoryRegistry) RegisterEndpoint(name string, endpoint Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.table[name]
	if !ok {
		return ErrUnknownFunction
	}
	r.table[name] = append(list, endpoint)
	return nil
}

func (r *MemoryRegistry) RotateAndPeek(name string) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.table[name]
	if len(list) == 0 {
		return Endpoint{}, false
	}
	head := list[0]
	// Rotate in place; the backing array never grows.
	copy(list, list[1:])
	list[len(list)-1] = head
	return head, true
}

func (r *MemoryRegistry) DeregisterEndpoint(name string, id string) int {
	return r.DeregisterEndpointN(name, id, -1)
}

// DeregisterEndpointN removes all occurrences when n is negative.
func (r *MemoryRegistry) DeregisterEndpointN(name string, id string, n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.table[name]
	if !ok || n == 0 {
		return 0
	}

	// Mark from the tail so the oldest registrations survive a partial removal.
	drop := make([]bool, len(list))
	removed := 0
	for i := len(list) - 1; i >= 0 && (n < 0 || removed < n); i-- {
		if list[i].ID == id {
			drop[i] = true
			removed++
		}
	}

	kept := list[:0]
	for i, ep := range list {
		if !drop[i] {
			kept = append(kept, ep)
		}
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = Endpoint{}
	}
	r.table[name] = kept
	return removed
}

func (r *MemoryRegistry) RemoveFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[name]; !ok {
		return false
	}
	delete(r.table, name)
	return true
}

func (r *MemoryRegistry) Endpoints(name string) ([]Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.table[name]
	if !ok {
		return nil, false
	}
	out := make([]Endpoint, len(list))
	copy(out, list)
	return out, true
}

func (r *MemoryRegistry) Functions() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.table))
	for name := range r.table {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}
