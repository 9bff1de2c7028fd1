package loadbalance

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"e-router/registry"
)

// DefaultReplicas is the number of virtual nodes per endpoint on a ring.
const DefaultReplicas = 100

// ConsistentHash maps each client to an endpoint using one hash ring per
// function. The same client keeps hitting the same e-computer until the
// function's endpoint set changes, which suits workers holding a warm local
// cache for their clients.
//
// Virtual nodes: each endpoint is hashed onto the ring Replicas times
// ("{id}#{i}") so a handful of endpoints still split the ring evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         e2 ●           ● e1
//	           │  client ◆──►  │   (clockwise to nearest node → e1)
//	         e3 ●           ● e1'  (virtual node of e1)
//	                ╲   ╱
type ConsistentHash struct {
	reg      registry.Registry
	replicas int

	mu    sync.Mutex
	rings map[string]*ring // function -> ring for its current endpoint set
}

type ring struct {
	signature string                       // endpoint ids the ring was built from
	hashes    []uint64                     // sorted points
	nodes     map[uint64]registry.Endpoint // point -> endpoint
}

func NewConsistentHash(reg registry.Registry) *ConsistentHash {
	return &ConsistentHash{
		reg:      reg,
		replicas: DefaultReplicas,
		rings:    make(map[string]*ring),
	}
}

func (b *ConsistentHash) Select(req Request) (registry.Endpoint, bool) {
	endpoints, _ := b.reg.Endpoints(req.Function)
	if len(endpoints) == 0 {
		b.forget(req.Function)
		return registry.Endpoint{}, false
	}

	r := b.ringFor(req.Function, endpoints)
	hash := xxhash.Sum64String(req.ClientID)

	// First point clockwise from the key, wrapping past the end.
	idx := sort.Search(len(r.hashes), func(i int) bool {
		return r.hashes[i] >= hash
	})
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.nodes[r.hashes[idx]], true
}

// ringFor returns the cached ring for function, rebuilding it when the
// endpoint set differs from the one it was built from.
func (b *ConsistentHash) ringFor(function string, endpoints []registry.Endpoint) *ring {
	sig := signature(endpoints)

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rings[function]; ok && r.signature == sig {
		return r
	}
	r := buildRing(sig, endpoints, b.replicas)
	b.rings[function] = r
	return r
}

// forget drops the ring of a function that is gone or has no endpoints.
func (b *ConsistentHash) forget(function string) {
	b.mu.Lock()
	delete(b.rings, function)
	b.mu.Unlock()
}

// signature is order-independent: rotations of the same set share a ring.
func signature(endpoints []registry.Endpoint) string {
	ids := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ids = append(ids, ep.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

func buildRing(sig string, endpoints []registry.Endpoint, replicas int) *ring {
	r := &ring{
		signature: sig,
		nodes:     make(map[uint64]registry.Endpoint, len(endpoints)*replicas),
	}
	for _, ep := range endpoints {
		if _, dup := r.nodes[xxhash.Sum64String(ep.ID+"#0")]; dup {
			continue
		}
		for i := 0; i < replicas; i++ {
			h := xxhash.Sum64String(ep.ID + "#" + strconv.Itoa(i))
			if _, taken := r.nodes[h]; taken {
				continue
			}
			r.hashes = append(r.hashes, h)
			r.nodes[h] = ep
		}
	}
	sort.Slice(r.hashes, func(i, j int) bool {
		return r.hashes[i] < r.hashes[j]
	})
	return r
}
