// Package store provides the engine's shared in-memory state: a bounded TTL'd map and a
// single-use nonce service. Both sit on ttlcache with a background expiration goroutine
// (started on construction, stopped explicitly) rather than a bare sync.Map, so
// abandoned protocol runs cannot grow state without bound.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL bounds how long an entry survives without being consumed.
const DefaultTTL = 10 * time.Minute

// Map is a bounded concurrent map with per-entry TTL eviction. Writes are serialized per
// key by the underlying cache; readers observe a consistent snapshot per key.
type Map[K comparable, V any] struct {
	cache *ttlcache.Cache[K, V]
}

// NewMap builds and starts a Map whose entries expire after ttl (DefaultTTL if zero).
func NewMap[K comparable, V any](ttl time.Duration) *Map[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := ttlcache.New(
		ttlcache.WithTTL[K, V](ttl),
	)
	go c.Start()
	return &Map[K, V]{cache: c}
}

// Put stores v under k, resetting its TTL.
func (m *Map[K, V]) Put(k K, v V) {
	m.cache.Set(k, v, ttlcache.DefaultTTL)
}

// Get returns the value under k, if present and unexpired.
func (m *Map[K, V]) Get(k K) (V, bool) {
	item := m.cache.Get(k)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Remove deletes k.
func (m *Map[K, V]) Remove(k K) {
	m.cache.Delete(k)
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int { return m.cache.Len() }

// Stop halts the background expiration goroutine. The map remains usable but no longer
// evicts.
func (m *Map[K, V]) Stop() { m.cache.Stop() }

// NonceService issues single-use nonces: New records a fresh UUIDv4, VerifyAndRemove
// consumes it. After the first successful VerifyAndRemove for a nonce, every later call
// returns false. The mutex makes check-and-delete one atomic step; two racing consumers
// of the same nonce must not both see it as outstanding.
type NonceService struct {
	mu     sync.Mutex
	nonces *Map[string, struct{}]
}

// NewNonceService builds a NonceService whose unconsumed nonces expire after ttl.
func NewNonceService(ttl time.Duration) *NonceService {
	return &NonceService{nonces: NewMap[string, struct{}](ttl)}
}

// New returns a fresh nonce and records it.
func (n *NonceService) New() string {
	nonce := uuid.NewString()
	n.nonces.Put(nonce, struct{}{})
	return nonce
}

// Record registers an externally supplied nonce, for protocol runs where the nonce
// arrives with the request rather than being drawn here.
func (n *NonceService) Record(nonce string) {
	n.nonces.Put(nonce, struct{}{})
}

// VerifyAndRemove reports whether nonce was outstanding, and consumes it.
func (n *NonceService) VerifyAndRemove(nonce string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.nonces.Get(nonce)
	if ok {
		n.nonces.Remove(nonce)
	}
	return ok
}

// Stop halts the underlying eviction goroutine.
func (n *NonceService) Stop() { n.nonces.Stop() }
