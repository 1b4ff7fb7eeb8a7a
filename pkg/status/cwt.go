package status

import (
	"crypto"
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/mdoc"
)

// CWT claim keys (RFC 8392 §4) plus the status-list claims of
// draft-ietf-oauth-status-list §6.1.
const (
	cwtClaimIss        int64 = 1
	cwtClaimSub        int64 = 2
	cwtClaimExp        int64 = 4
	cwtClaimIat        int64 = 6
	cwtClaimStatusList int64 = 65534
	cwtClaimTTL        int64 = 65535
)

// CWTTyp is the protected-header content type of a Status List Token CWT.
const CWTTyp = "statuslist+cwt"

// cwtStatusList is the status_list claim in CWT form: lst carries raw zlib bytes, not
// base64.
type cwtStatusList struct {
	Bits int    `cbor:"1,keyasint"`
	Lst  []byte `cbor:"2,keyasint"`
}

type cwtClaims struct {
	Issuer     string        `cbor:"1,keyasint"`
	Subject    string        `cbor:"2,keyasint"`
	ExpiresAt  int64         `cbor:"4,keyasint,omitempty"`
	IssuedAt   int64         `cbor:"6,keyasint"`
	StatusList cwtStatusList `cbor:"65534,keyasint"`
	TTL        int64         `cbor:"65535,keyasint,omitempty"`
}

// IssueCWT builds and signs a Token Status List CWT: a COSE_Sign1 whose payload carries
// the same iss/sub/iat/ttl claims as the JWT form, with the compressed list as raw bytes.
func IssueCWT(provider cryptoprovider.Provider, issuer, subjectURI string, list *BitList, now time.Time, ttl time.Duration) ([]byte, error) {
	compressed, err := list.Compress()
	if err != nil {
		return nil, err
	}
	claims := cwtClaims{
		Issuer:     issuer,
		Subject:    subjectURI,
		ExpiresAt:  now.Add(ttl).Unix(),
		IssuedAt:   now.Unix(),
		TTL:        int64(ttl.Seconds()),
		StatusList: cwtStatusList{Bits: list.n, Lst: compressed},
	}
	payload, err := mdoc.Marshal(claims)
	if err != nil {
		return nil, err
	}

	signed, err := mdoc.SignCOSEWithProtected(provider, payload, map[int64]any{mdoc.HeaderContentType: CWTTyp}, nil, nil, false)
	if err != nil {
		return nil, err
	}
	return mdoc.Marshal(signed)
}

// VerifyAndCheckCWT verifies token as a COSE_Sign1, validates iss/sub/iat, decodes its
// status list (from cache when available), and reports whether index is revoked.
func (c *Cache) VerifyAndCheckCWT(provider cryptoprovider.Provider, token []byte, issuerPub crypto.PublicKey, expectIssuer, expectSubjectURI string, now time.Time, index int) (bool, error) {
	key := string(token)
	if c != nil {
		if v, ok := c.inner.Get(key); ok {
			list := v.(*BitList)
			return list.Get(index), nil
		}
	}

	var signed mdoc.COSESign1
	if err := mdoc.Unmarshal(token, &signed); err != nil {
		return false, err
	}
	if err := mdoc.VerifyCOSE(provider, &signed, nil, issuerPub, nil); err != nil {
		return false, err
	}

	var claims cwtClaims
	if err := mdoc.Unmarshal(signed.Payload, &claims); err != nil {
		return false, err
	}
	if claims.Issuer != expectIssuer {
		return false, errs.New(errs.InvalidStructure, "status list cwt iss mismatch")
	}
	if claims.Subject != expectSubjectURI {
		return false, errs.New(errs.InvalidStructure, "status list cwt sub mismatch")
	}
	if time.Unix(claims.IssuedAt, 0).After(now) {
		return false, errs.New(errs.InvalidStructure, "status list cwt iat is in the future")
	}

	list, err := DecompressBitList(claims.StatusList.Lst, claims.StatusList.Bits)
	if err != nil {
		return false, err
	}
	if c != nil {
		ttl := time.Duration(claims.TTL) * time.Second
		c.inner.Set(key, list, ttl)
	}
	return list.Get(index), nil
}
