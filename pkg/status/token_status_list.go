package status

import (
	"crypto"
	"encoding/json"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// TokenClaims is the Token Status List alternative's JWT payload: `iss` matching
// the credential issuer, `sub` matching the status URI, `iat` in the past, `ttl` bounding
// caching.
type TokenClaims struct {
	Issuer     string               `json:"iss"`
	Subject    string               `json:"sub"`
	IssuedAt   timeutil.NumericDate `json:"iat"`
	ExpiresAt  timeutil.NumericDate `json:"exp,omitempty"`
	TTL        int64                `json:"ttl,omitempty"`
	StatusList TokenStatusListClaim `json:"status_list"`
}

// TokenStatusListClaim is the `status_list = {bits, lst}` object.
type TokenStatusListClaim struct {
	Bits int    `json:"bits"`
	Lst  string `json:"lst"`
}

// IssueToken builds and signs a Token Status List JWT.
func IssueToken(provider cryptoprovider.Provider, issuer, subjectURI string, list *BitList, now time.Time, ttl time.Duration) (string, error) {
	encoded, err := list.Encode()
	if err != nil {
		return "", err
	}
	claims := TokenClaims{
		Issuer:    issuer,
		Subject:   subjectURI,
		IssuedAt:  timeutil.NewNumericDate(now),
		ExpiresAt: timeutil.NewNumericDate(now.Add(ttl)),
		TTL:       int64(ttl.Seconds()),
		StatusList: TokenStatusListClaim{
			Bits: list.n,
			Lst:  encoded,
		},
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal status list token claims")
	}
	signed, err := jws.Build(provider, payload, jws.RefNone, nil, map[string]any{"typ": "statuslist+jwt"})
	if err != nil {
		return "", err
	}
	return signed.Compact()
}

// Cache bounds repeated decode work for status lists fetched over the network, keyed by
// the raw token so a rotated list is never served stale.
type Cache struct {
	inner *cache.Cache
}

// NewCache builds a Cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{inner: cache.New(ttl, ttl*2)}
}

// VerifyAndCheckToken verifies token as a JWS, validates iss/sub/iat, decodes its status
// list (from cache when available), and reports whether index is revoked.
func (c *Cache) VerifyAndCheckToken(provider cryptoprovider.Provider, token string, issuerPub crypto.PublicKey, expectIssuer, expectSubjectURI string, now time.Time, index int) (bool, error) {
	if c != nil {
		if v, ok := c.inner.Get(token); ok {
			list := v.(*BitList)
			return list.Get(index), nil
		}
	}

	signed, err := jws.Parse(token)
	if err != nil {
		return false, err
	}
	if err := jws.Verify(signed, provider, nil, nil, nil, issuerPub); err != nil {
		return false, err
	}

	var claims TokenClaims
	if err := json.Unmarshal(signed.Payload, &claims); err != nil {
		return false, errs.Wrap(errs.ParseError, err, "unmarshal status list token claims")
	}
	if claims.Issuer != expectIssuer {
		return false, errs.New(errs.InvalidStructure, "status list token iss mismatch")
	}
	if claims.Subject != expectSubjectURI {
		return false, errs.New(errs.InvalidStructure, "status list token sub mismatch")
	}
	if claims.IssuedAt.Time().After(now) {
		return false, errs.New(errs.InvalidStructure, "status list token iat is in the future")
	}

	list, err := DecodeBitList(claims.StatusList.Lst, claims.StatusList.Bits)
	if err != nil {
		return false, err
	}
	if c != nil {
		ttl := time.Duration(claims.TTL) * time.Second
		if ttl <= 0 {
			ttl = cache.DefaultExpiration
		}
		c.inner.Set(token, list, ttl)
	}
	return list.Get(index), nil
}
