package openid4vp

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/keymaterial"
)

// JWKToPublicKey converts a parsed JWK object into a Go public key; the exported entry
// point agents use when resolving cnf.jwk and sub_jwk values.
func JWKToPublicKey(m map[string]any) (crypto.PublicKey, error) {
	return jwkMapToPublicKey(m)
}

// PublicKeyToJWK projects a Go public key as a JWK map, for embedding in cnf.jwk,
// sub_jwk, or client_metadata.jwks.
func PublicKeyToJWK(pub crypto.PublicKey) (map[string]any, error) {
	return publicKeyToJWKMap(pub)
}

// jwkMapToPublicKey converts a parsed JWK object into a Go public key. EC P-256/P-384/
// P-521 and Ed25519 cover every key this protocol layer meets.
func jwkMapToPublicKey(m map[string]any) (crypto.PublicKey, error) {
	kty, _ := m["kty"].(string)
	switch kty {
	case "EC":
		crv, _ := m["crv"].(string)
		var curve elliptic.Curve
		switch crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, errs.Newf(errs.ParseError, "unsupported EC curve %q", crv)
		}
		x, err := b64Field(m, "x")
		if err != nil {
			return nil, err
		}
		y, err := b64Field(m, "y")
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	case "OKP":
		x, err := b64Field(m, "x")
		if err != nil {
			return nil, err
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, errs.New(errs.ParseError, "ed25519 jwk x has wrong length")
		}
		return ed25519.PublicKey(x), nil
	default:
		return nil, errs.Newf(errs.ParseError, "unsupported jwk kty %q", kty)
	}
}

func b64Field(m map[string]any, name string) ([]byte, error) {
	s, _ := m[name].(string)
	if s == "" {
		return nil, errs.Newf(errs.ParseError, "jwk missing %q", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jwk "+name)
	}
	return b, nil
}

// publicKeyToJWKMap is the inverse projection, delegating to the key-material JWK view
// so every key the engine embeds (cnf.jwk, epk, sub_jwk) serializes the same way.
func publicKeyToJWKMap(pub crypto.PublicKey) (map[string]any, error) {
	projected, err := keymaterial.ProjectJWK(pub)
	if err != nil {
		return nil, err
	}
	return projected.Map(), nil
}

// jwkThumbprint computes the RFC 7638 SHA-256 thumbprint over the JWK's required
// members in lexicographic order, base64url-encoded — the SIOPv2 `sub` value.
func jwkThumbprint(m map[string]any) (string, error) {
	kty, _ := m["kty"].(string)
	var canonical string
	switch kty {
	case "EC":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`, m["crv"], m["x"], m["y"])
	case "OKP":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"OKP","x":%q}`, m["crv"], m["x"])
	case "RSA":
		canonical = fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, m["e"], m["n"])
	default:
		return "", errs.Newf(errs.ParseError, "unsupported jwk kty %q for thumbprint", kty)
	}
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
