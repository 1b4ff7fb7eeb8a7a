// Package keymaterial manages an agent identity key: one signature key, owned by exactly one
// agent, projected on demand into the four views an agent needs (raw key, JWK, COSE_Key,
// did:key string) instead of being stored redundantly in each form.
//
// JWK projection goes through lestrrat-go/jwx and re-encodes coordinates as base64url,
// the only encoding RFC 7517 §3 permits.
package keymaterial

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/multiformats/go-multibase"

	"github.com/sunet/vcengine/internal/errs"
)

// JWK is the subset of RFC 7517 fields the engine's signature keys ever need.
type JWK struct {
	KTY string `json:"kty"`
	CRV string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// Map renders j as the generic map form JOSE structures embed (cnf.jwk, epk, sub_jwk).
func (j *JWK) Map() map[string]any {
	m := map[string]any{"kty": j.KTY}
	if j.CRV != "" {
		m["crv"] = j.CRV
	}
	if j.X != "" {
		m["x"] = j.X
	}
	if j.Y != "" {
		m["y"] = j.Y
	}
	if j.Kid != "" {
		m["kid"] = j.Kid
	}
	if j.Use != "" {
		m["use"] = j.Use
	}
	if j.Alg != "" {
		m["alg"] = j.Alg
	}
	return m
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint over the required members in
// lexicographic order, base64url-encoded.
func (j *JWK) Thumbprint() (string, error) {
	var canonical string
	switch j.KTY {
	case "EC":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`, j.CRV, j.X, j.Y)
	case "OKP":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"OKP","x":%q}`, j.CRV, j.X)
	default:
		return "", errs.Newf(errs.UsageError, "no thumbprint form for kty %q", j.KTY)
	}
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// KeyMaterial owns a signature private key plus its public form, for exactly one agent
// role. Create one per role; rotation is out of scope.
type KeyMaterial struct {
	ID      string // stable self-identifier derived from the key: did:key, or JWK thumbprint
	Private crypto.Signer
	Cert    *x509.Certificate // optional self-signed certificate
}

// Generate creates a fresh KeyMaterial. curve selects an ECDSA curve ("P-256", "P-384",
// "P-521"); pass "Ed25519" for an EdDSA key. The self-identifier is derived from the
// public key: did:key where the curve has a multicodec entry, the RFC 7638 JWK
// thumbprint otherwise.
func Generate(curve string) (*KeyMaterial, error) {
	var signer crypto.Signer
	var err error

	switch curve {
	case "P-256":
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "P-384":
		signer, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "P-521":
		signer, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case "Ed25519":
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		signer, err = priv, genErr
	default:
		return nil, errs.Newf(errs.UsageError, "unsupported curve %q", curve)
	}
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "generate key")
	}

	km := &KeyMaterial{Private: signer}
	id, err := km.DIDKey()
	if err != nil {
		projected, err := km.JWK()
		if err != nil {
			return nil, err
		}
		id, err = projected.Thumbprint()
		if err != nil {
			return nil, err
		}
	}
	km.ID = id
	return km, nil
}

// Public returns the public key view.
func (k *KeyMaterial) Public() crypto.PublicKey { return k.Private.Public() }

// ProjectJWK projects any public key the engine handles as a JWK.
func ProjectJWK(pub crypto.PublicKey) (*JWK, error) {
	if edPub, ok := pub.(ed25519.PublicKey); ok {
		return &JWK{
			KTY: "OKP",
			CRV: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(edPub),
		}, nil
	}

	key, err := jwk.New(pub)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "jwk projection")
	}
	out := &JWK{}
	m, err := key.AsMap(nil) //nolint:staticcheck // context unused by this projection
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "jwk as map")
	}
	for name, v := range m {
		switch name {
		case "x":
			out.X = base64.RawURLEncoding.EncodeToString(v.([]byte))
		case "y":
			out.Y = base64.RawURLEncoding.EncodeToString(v.([]byte))
		case "crv":
			out.CRV = v.(jwa.EllipticCurveAlgorithm).String()
		case "kty":
			out.KTY = v.(jwa.KeyType).String()
		}
	}
	return out, nil
}

// JWK projects the public key as a JWK carrying the key id.
func (k *KeyMaterial) JWK() (*JWK, error) {
	out, err := ProjectJWK(k.Public())
	if err != nil {
		return nil, err
	}
	out.Kid = k.ID
	return out, nil
}

// DIDKey projects the public key as a did:key identifier (multicodec + multibase
// base58-btc), per the W3C did:key method. Only P-256 and Ed25519 are supported.
func (k *KeyMaterial) DIDKey() (string, error) {
	var multicodecPrefix []byte
	var keyBytes []byte

	switch pub := k.Public().(type) {
	case ed25519.PublicKey:
		multicodecPrefix = []byte{0xed, 0x01}
		keyBytes = pub
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return "", errs.Newf(errs.UsageError, "did:key only supports P-256 and Ed25519, got curve %s", pub.Curve.Params().Name)
		}
		multicodecPrefix = []byte{0x80, 0x24} // p256-pub
		keyBytes = elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y)
	default:
		return "", errs.Newf(errs.UsageError, "did:key unsupported key type %T", pub)
	}

	encoded, err := multibase.Encode(multibase.Base58BTC, append(multicodecPrefix, keyBytes...))
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "multibase encode")
	}
	return "did:key:" + encoded, nil
}
