// Package jws implements the JOSE layer: build/parse/verify compact JWS, and ECDH-ES
// JWE encrypt/decrypt with Concat-KDF, over the raw bytes produced by pkg/cryptoprovider.
//
// The engine composes the compact serialization itself rather than delegating to a JWT
// library, because the signing input ("base64url(header_json) || '.' ||
// base64url(payload_bytes)") is part of the JwsSigned object model, not an
// implementation detail to hide.
package jws

import (
	"crypto"
	"encoding/base64"
	"encoding/json"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

// Header is the subset of RFC 7515 JOSE header fields this engine ever sets or reads.
type Header struct {
	Alg string         `json:"alg"`
	Typ string         `json:"typ,omitempty"`
	Kid string         `json:"kid,omitempty"`
	JWK map[string]any `json:"jwk,omitempty"`
	X5c []string       `json:"x5c,omitempty"`
	Jku string         `json:"jku,omitempty"`
	Cty string         `json:"cty,omitempty"`
	Ext map[string]any `json:"-"`
}

// MarshalJSON flattens Ext alongside the named fields, matching how a caller-supplied
// "extra" header bag (e.g. the signed-JAR's embedded "jwt" field carrying a
// verifier-attestation token) is expected to appear at the top level of the JOSE header.
func (h Header) MarshalJSON() ([]byte, error) {
	m := map[string]any{"alg": h.Alg}
	if h.Typ != "" {
		m["typ"] = h.Typ
	}
	if h.Kid != "" {
		m["kid"] = h.Kid
	}
	if h.JWK != nil {
		m["jwk"] = h.JWK
	}
	if len(h.X5c) > 0 {
		m["x5c"] = h.X5c
	}
	if h.Jku != "" {
		m["jku"] = h.Jku
	}
	if h.Cty != "" {
		m["cty"] = h.Cty
	}
	for k, v := range h.Ext {
		m[k] = v
	}
	return json.Marshal(m)
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	h.Ext = map[string]any{}
	for k, v := range m {
		switch k {
		case "alg":
			h.Alg, _ = v.(string)
		case "typ":
			h.Typ, _ = v.(string)
		case "kid":
			h.Kid, _ = v.(string)
		case "jwk":
			h.JWK, _ = v.(map[string]any)
		case "jku":
			h.Jku, _ = v.(string)
		case "cty":
			h.Cty, _ = v.(string)
		case "x5c":
			if arr, ok := v.([]any); ok {
				for _, e := range arr {
					if s, ok := e.(string); ok {
						h.X5c = append(h.X5c, s)
					}
				}
			}
		default:
			h.Ext[k] = v
		}
	}
	return nil
}

// Signed is the JwsSigned object model: header, payload, signature, and the exact
// signing_input bytes the invariant is defined over.
type Signed struct {
	Header        Header
	Payload       []byte
	Signature     []byte
	SigningInputB []byte
}

// KeyRefMode selects which key reference the
// builder embeds in the header.
type KeyRefMode int

const (
	RefNone KeyRefMode = iota
	RefJWK
	RefKid
	RefX5c
	RefJku
)

// Build composes and signs a compact JWS over payload using provider. ref selects which
// key-reference field is populated; refValue is the JWK map / kid string / x5c chain /
// jku URL as appropriate for ref.
func Build(provider cryptoprovider.Provider, payload []byte, ref KeyRefMode, refValue any, extraHeader map[string]any) (*Signed, error) {
	h := Header{Alg: string(provider.Alg()), Typ: "JWT", Ext: map[string]any{}}
	for k, v := range extraHeader {
		h.Ext[k] = v
	}
	switch ref {
	case RefJWK:
		m, ok := refValue.(map[string]any)
		if !ok {
			return nil, errs.New(errs.UsageError, "RefJWK requires a map[string]any JWK")
		}
		h.JWK = m
	case RefKid:
		s, ok := refValue.(string)
		if !ok {
			return nil, errs.New(errs.UsageError, "RefKid requires a string kid")
		}
		h.Kid = s
	case RefX5c:
		chain, ok := refValue.([]string)
		if !ok {
			return nil, errs.New(errs.UsageError, "RefX5c requires a []string certificate chain")
		}
		h.X5c = chain
	case RefJku:
		s, ok := refValue.(string)
		if !ok {
			return nil, errs.New(errs.UsageError, "RefJku requires a string URL")
		}
		h.Jku = s
	}

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "marshal jws header")
	}

	signingInput := []byte(b64u(headerJSON) + "." + b64u(payload))
	sig, err := provider.Sign(signingInput)
	if err != nil {
		return nil, err
	}

	return &Signed{Header: h, Payload: payload, Signature: sig, SigningInputB: signingInput}, nil
}

// Compact serializes s as b64u(header).b64u(payload).b64u(sig).
func (s *Signed) Compact() (string, error) {
	headerJSON, err := json.Marshal(s.Header)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal jws header")
	}
	return b64u(headerJSON) + "." + b64u(s.Payload) + "." + b64u(s.Signature), nil
}

// Parse splits a compact JWS into its three parts without verifying the signature.
func Parse(compact string) (*Signed, error) {
	parts, err := splitCompact(compact, 3)
	if err != nil {
		return nil, err
	}
	headerJSON, err := b64uDecode(parts[0])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jws header")
	}
	var h Header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal jws header")
	}
	payload, err := b64uDecode(parts[1])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jws payload")
	}
	sig, err := b64uDecode(parts[2])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jws signature")
	}
	return &Signed{
		Header:        h,
		Payload:       payload,
		Signature:     sig,
		SigningInputB: []byte(parts[0] + "." + parts[1]),
	}, nil
}

// PublicKeyLookup resolves a kid to a public key, for the (c) priority-order step of
// verification.
type PublicKeyLookup func(kid string) (crypto.PublicKey, bool)

// Verify resolves the signer's public key in the priority order (a) embedded jwk,
// (b) x5c leaf certificate, (c) kid via lookup, (d) caller-provided fallback pub, and
// checks the signature. A jku header is not resolved. jwkToPub/x5cLeafToPub/lookup may
// be nil if that resolution path is unused.
func Verify(s *Signed, provider cryptoprovider.Provider, lookup PublicKeyLookup,
	jwkToPub func(map[string]any) (crypto.PublicKey, error),
	x5cLeafToPub func([]string) (crypto.PublicKey, error),
	fallback crypto.PublicKey,
) error {
	alg := cryptoprovider.Alg(s.Header.Alg)

	var pub crypto.PublicKey
	var err error
	switch {
	case s.Header.JWK != nil && jwkToPub != nil:
		pub, err = jwkToPub(s.Header.JWK)
	case len(s.Header.X5c) > 0 && x5cLeafToPub != nil:
		pub, err = x5cLeafToPub(s.Header.X5c)
	case s.Header.Kid != "" && lookup != nil:
		var ok bool
		pub, ok = lookup(s.Header.Kid)
		if !ok {
			return errs.Newf(errs.UnknownKey, "kid %q not resolved", s.Header.Kid)
		}
	case fallback != nil:
		pub = fallback
	default:
		return errs.New(errs.UnknownKey, "no key reference resolvable in jws header")
	}
	if err != nil {
		return errs.Wrap(errs.UnknownKey, err, "resolve jws signer key")
	}

	if err := provider.Verify(alg, s.SigningInputB, s.Signature, pub); err != nil {
		return err
	}
	return nil
}

func b64u(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func b64uDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
