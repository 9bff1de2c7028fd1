// etcd is used as a discovery source for the e-table, never as its storage.
// E-computers announce themselves under a leased key:
//
//	Key:   /e-router/{function}/{endpointID}
//	Value: JSON-encoded Endpoint
//
// The router runs an EtcdWatcher that mirrors the prefix into its in-memory
// Registry. If an e-computer crashes, its lease expires, the key disappears
// and the watcher deregisters the endpoint. Rotation state is never written
// back to etcd; a restarted router rebuilds it from the announcements.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultPrefix is the key prefix under which endpoints are announced.
const DefaultPrefix = "/e-router/"

func endpointKey(prefix, function, id string) string {
	return prefix + function + "/" + id
}

// parseKey splits "{prefix}{function}/{id}". The id may itself contain '/'.
func parseKey(prefix, key string) (function, id string, ok bool) {
	rest, found := strings.CutPrefix(key, prefix)
	if !found {
		return "", "", false
	}
	function, id, found = strings.Cut(rest, "/")
	if !found || function == "" || id == "" {
		return "", "", false
	}
	return function, id, true
}

// NewEtcdClient connects to the given etcd endpoints.
func NewEtcdClient(endpoints []string) (*clientv3.Client, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return c, nil
}

// EtcdAnnouncer publishes e-computer endpoints to etcd.
type EtcdAnnouncer struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
}

func NewEtcdAnnouncer(client *clientv3.Client) *EtcdAnnouncer {
	return &EtcdAnnouncer{client: client, prefix: DefaultPrefix}
}

// Announce registers endpoint under function with a TTL lease and keeps the
// lease alive until ctx is cancelled.
//
// The lease id stays local to the call so one announcer can be shared by
// several workers.
func (a *EtcdAnnouncer) Announce(ctx context.Context, function string, endpoint Endpoint, ttl int64) error {
	lease, err := a.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}

	key := endpointKey(a.prefix, function, endpoint.ID)
	if _, err := a.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	ch, err := a.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Withdraw removes an announcement. Called on graceful shutdown of a worker.
func (a *EtcdAnnouncer) Withdraw(ctx context.Context, function string, id string) error {
	if _, err := a.client.Delete(ctx, endpointKey(a.prefix, function, id)); err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}

// EtcdWatcher mirrors etcd announcements into a Registry.
type EtcdWatcher struct {
	client *clientv3.Client
	prefix string
	log    zerolog.Logger
}

func NewEtcdWatcher(client *clientv3.Client, log zerolog.Logger) *EtcdWatcher {
	return &EtcdWatcher{client: client, prefix: DefaultPrefix, log: log}
}

// Snapshot returns the announced endpoints grouped by function.
func (w *EtcdWatcher) Snapshot(ctx context.Context) (map[string][]Endpoint, error) {
	resp, err := w.client.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", w.prefix, err)
	}
	out := make(map[string][]Endpoint)
	for _, kv := range resp.Kvs {
		function, id, ok := parseKey(w.prefix, string(kv.Key))
		if !ok {
			continue
		}
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			w.log.Warn().Err(err).Str("key", string(kv.Key)).Msg("skip malformed announcement")
			continue
		}
		ep.ID = id
		out[function] = append(out[function], ep)
	}
	return out, nil
}

// Sync applies the current announcements to reg and then re-applies them on
// every change under the prefix, until ctx is done.
//
// Only endpoints the watcher itself added are ever deregistered, so endpoints
// registered from the config file or the admin API are left alone.
func (w *EtcdWatcher) Sync(ctx context.Context, reg Registry) error {
	owned := make(map[string]map[string]bool) // function -> endpoint ids added by the watcher

	apply := func() error {
		snap, err := w.Snapshot(ctx)
		if err != nil {
			return err
		}
		ApplySnapshot(reg, owned, snap, w.log)
		return nil
	}

	if err := apply(); err != nil {
		return err
	}

	watchChan := w.client.Watch(ctx, w.prefix, clientv3.WithPrefix())
	for resp := range watchChan {
		if err := resp.Err(); err != nil {
			w.log.Warn().Err(err).Msg("etcd watch error")
			continue
		}
		// Re-list instead of replaying individual events.
		if err := apply(); err != nil {
			w.log.Warn().Err(err).Msg("etcd resync failed")
		}
	}
	return ctx.Err()
}

// ApplySnapshot reconciles reg with snap. owned tracks which endpoints came
// from earlier snapshots and is updated in place.
func ApplySnapshot(reg Registry, owned map[string]map[string]bool, snap map[string][]Endpoint, log zerolog.Logger) {
	for function, endpoints := range snap {
		reg.CreateFunction(function)
		seen := owned[function]
		if seen == nil {
			seen = make(map[string]bool)
			owned[function] = seen
		}
		for _, ep := range endpoints {
			if seen[ep.ID] {
				continue
			}
			if err := reg.RegisterEndpoint(function, ep); err != nil {
				log.Warn().Err(err).Str("function", function).Str("endpoint", ep.ID).Msg("register announced endpoint")
				continue
			}
			seen[ep.ID] = true
			log.Info().Str("function", function).Str("endpoint", ep.ID).Msg("endpoint announced")
		}
	}

	for function, ids := range owned {
		current := make(map[string]bool)
		for _, ep := range snap[function] {
			current[ep.ID] = true
		}
		for id := range ids {
			if current[id] {
				continue
			}
			// The watcher added exactly one copy; copies from the function
			// table or the admin API stay.
			reg.DeregisterEndpointN(function, id, 1)
			delete(ids, id)
			log.Info().Str("function", function).Str("endpoint", id).Msg("endpoint withdrawn")
		}
	}
}
