package openid4vp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/sunet/vcengine/internal/errs"
)

// DefaultEphemeralKeyTTL bounds how long an unconsumed response-encryption key survives.
const DefaultEphemeralKeyTTL = 10 * time.Minute

// EphemeralKeyCache holds the short-lived ECDH keys offered through client_metadata.jwks
// for encrypted direct_post.jwt responses. One key per request; consumed at decryption.
type EphemeralKeyCache struct {
	cache *ttlcache.Cache[string, *ecdsa.PrivateKey]
}

// NewEphemeralKeyCache builds and starts a cache whose keys expire after ttl.
func NewEphemeralKeyCache(ttl time.Duration) *EphemeralKeyCache {
	if ttl <= 0 {
		ttl = DefaultEphemeralKeyTTL
	}
	c := ttlcache.New(
		ttlcache.WithTTL[string, *ecdsa.PrivateKey](ttl),
	)
	go c.Start()
	return &EphemeralKeyCache{cache: c}
}

// GenerateAndStore draws a fresh P-256 key, stores the private half under a new kid, and
// returns the kid plus the public half as a JWK map ready for client_metadata.jwks.
func (e *EphemeralKeyCache) GenerateAndStore() (kid string, publicJWK map[string]any, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", nil, errs.Wrap(errs.UsageError, err, "generate ephemeral key")
	}

	kid = uuid.NewString()
	e.cache.Set(kid, priv, ttlcache.DefaultTTL)

	key, err := jwk.Import(priv.Public())
	if err != nil {
		return "", nil, errs.Wrap(errs.UsageError, err, "ephemeral key to jwk")
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return "", nil, errs.Wrap(errs.UsageError, err, "set jwk kid")
	}
	if err := key.Set(jwk.KeyUsageKey, "enc"); err != nil {
		return "", nil, errs.Wrap(errs.UsageError, err, "set jwk use")
	}

	raw, err := json.Marshal(key)
	if err != nil {
		return "", nil, errs.Wrap(errs.UsageError, err, "marshal jwk")
	}
	if err := json.Unmarshal(raw, &publicJWK); err != nil {
		return "", nil, errs.Wrap(errs.UsageError, err, "jwk to map")
	}
	return kid, publicJWK, nil
}

// Take returns and removes the private key under kid: each ephemeral key decrypts at
// most one response.
func (e *EphemeralKeyCache) Take(kid string) (*ecdsa.PrivateKey, bool) {
	item := e.cache.Get(kid)
	if item == nil {
		return nil, false
	}
	e.cache.Delete(kid)
	return item.Value(), true
}

// Any returns and removes an arbitrary cached key, for responses whose JWE header omits
// the kid; only safe when at most one request with encryption is outstanding.
func (e *EphemeralKeyCache) Any() (*ecdsa.PrivateKey, bool) {
	var out *ecdsa.PrivateKey
	var kid string
	e.cache.Range(func(item *ttlcache.Item[string, *ecdsa.PrivateKey]) bool {
		kid = item.Key()
		out = item.Value()
		return false
	})
	if out == nil {
		return nil, false
	}
	e.cache.Delete(kid)
	return out, true
}

// Len reports how many ephemeral keys are outstanding.
func (e *EphemeralKeyCache) Len() int { return e.cache.Len() }

// Stop halts the eviction goroutine.
func (e *EphemeralKeyCache) Stop() { e.cache.Stop() }
