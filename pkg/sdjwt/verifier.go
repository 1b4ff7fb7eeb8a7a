package sdjwt

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// VerifyOptions configures Verify.
type VerifyOptions struct {
	Provider       cryptoprovider.Provider // verifier's crypto engine (alg-agnostic verify)
	IssuerLookup   jws.PublicKeyLookup
	IssuerFallback crypto.PublicKey
	JWKToPub       func(map[string]any) (crypto.PublicKey, error)

	ExpectedAud   string
	ExpectedNonce string
	Now           timeutil.NumericDate
	Leeway        time.Duration
}

// Result is the outcome of a successful Verify: the reconstructed cleartext payload
// (digests replaced by their claim values) and the set of disclosures that were actually
// presented.
type Result struct {
	Claims    map[string]any
	Disclosed []Disclosure
	CnfJWK    map[string]any
}

// Verify runs full SD-JWT verification: parse, verify issuer JWS, recompute and check
// digest membership for each presented disclosure, reconstruct cleartext, and, when a
// KB-JWT is present, verify it (signature against cnf.jwk, nonce, aud, iat leeway, sd_hash
// over the exact presented-disclosure concatenation). A presentation without a KB-JWT is
// accepted without any nonce or aud check.
func Verify(presentation string, opt VerifyOptions) (*Result, error) {
	p, err := Parse(presentation)
	if err != nil {
		return nil, err
	}

	issuerSigned, err := jws.Parse(p.IssuerJWT)
	if err != nil {
		return nil, err
	}
	if err := jws.Verify(issuerSigned, opt.Provider, opt.IssuerLookup, opt.JWKToPub, nil, opt.IssuerFallback); err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(issuerSigned.Payload, &payload); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal sd-jwt issuer payload")
	}

	digestToDisclosure := map[string]Disclosure{}
	var disclosed []Disclosure
	seen := map[string]bool{}
	for _, enc := range p.Disclosures {
		d, digest, err := ParseDisclosure(enc)
		if err != nil {
			return nil, err
		}
		if seen[digest] {
			return nil, errs.Newf(errs.InvalidStructure, "duplicate disclosure digest %s", digest)
		}
		seen[digest] = true
		digestToDisclosure[digest] = d
		disclosed = append(disclosed, d)
	}

	claims, used := reconstruct(payload, digestToDisclosure)
	// Every presented disclosure's digest MUST appear in the issuer JWT's _sd arrays
	//; unused ones mean the holder presented a disclosure the issuer never
	// committed to.
	for digest := range digestToDisclosure {
		if !used[digest] {
			return nil, errs.Newf(errs.InvalidStructure, "presented disclosure digest %s not found in any _sd array", digest)
		}
	}

	var cnfJWK map[string]any
	if cnf, ok := payload["cnf"].(map[string]any); ok {
		cnfJWK, _ = cnf["jwk"].(map[string]any)
	}

	if p.KeyBinding != "" {
		if err := verifyKeyBinding(p, cnfJWK, opt); err != nil {
			return nil, err
		}
	}

	return &Result{Claims: claims, Disclosed: disclosed, CnfJWK: cnfJWK}, nil
}

// reconstruct rebuilds the cleartext object from payload, replacing every digest in an
// `_sd` array whose disclosure was presented, recursing into nested objects/arrays so
// selective disclosure at any nesting level is honored. Digests with no matching
// presented disclosure are silently dropped (unknown digests MUST be silently
// ignored").
func reconstruct(node any, byDigest map[string]Disclosure) (map[string]any, map[string]bool) {
	used := map[string]bool{}
	out := walk(node, byDigest, used)
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, used
}

func walk(node any, byDigest map[string]Disclosure, used map[string]bool) any {
	switch v := node.(type) {
	case map[string]any:
		result := map[string]any{}
		for k, val := range v {
			switch k {
			case "_sd":
				digests, _ := val.([]any)
				for _, dAny := range digests {
					digest, _ := dAny.(string)
					d, ok := byDigest[digest]
					if !ok || d.IsArray {
						continue
					}
					used[digest] = true
					result[d.ClaimName] = walk(d.Value, byDigest, used)
				}
			case "_sd_alg":
				// algorithm identifier, not a cleartext claim
			default:
				result[k] = walk(val, byDigest, used)
			}
		}
		return result
	case []any:
		result := make([]any, 0, len(v))
		for _, elem := range v {
			if m, ok := elem.(map[string]any); ok && len(m) == 1 {
				if digest, ok := m["..."].(string); ok {
					d, found := byDigest[digest]
					if !found || !d.IsArray {
						continue // unpresented array-element digest: drop silently
					}
					used[digest] = true
					result = append(result, walk(d.Value, byDigest, used))
					continue
				}
			}
			result = append(result, walk(elem, byDigest, used))
		}
		return result
	default:
		return v
	}
}

func verifyKeyBinding(p Presentation, cnfJWK map[string]any, opt VerifyOptions) error {
	if cnfJWK == nil {
		return errs.New(errs.InvalidStructure, "sd-jwt has no cnf.jwk to verify key binding against")
	}

	kb, err := jws.Parse(p.KeyBinding)
	if err != nil {
		return err
	}
	pub, err := opt.JWKToPub(cnfJWK)
	if err != nil {
		return errs.Wrap(errs.UnknownKey, err, "resolve cnf.jwk")
	}
	if err := opt.Provider.Verify(cryptoprovider.Alg(kb.Header.Alg), kb.SigningInputB, kb.Signature, pub); err != nil {
		return err
	}

	var claims KeyBindingClaims
	if err := json.Unmarshal(kb.Payload, &claims); err != nil {
		return errs.Wrap(errs.ParseError, err, "unmarshal kb-jwt claims")
	}

	if opt.ExpectedNonce != "" && claims.Nonce != opt.ExpectedNonce {
		return errs.New(errs.InvalidStructure, "kb-jwt nonce mismatch").WithField("nonce")
	}
	if opt.ExpectedAud != "" && claims.Audience != opt.ExpectedAud {
		return errs.New(errs.InvalidStructure, "kb-jwt aud mismatch").WithField("aud")
	}
	// iat within leeway: the nonce's single-use semantics already bound freshness,
	// so the only iat check that matters is rejecting a KB-JWT claiming to be from the
	// future.
	if claims.IssuedAt.Time().After(opt.Now.Time().Add(opt.Leeway)) {
		return errs.New(errs.ExpiredOrNotYetValid, "kb-jwt iat is in the future").WithField("iat")
	}

	prefix := p.PresentedPrefix()
	sum := sha256.Sum256([]byte(prefix))
	expected := base64.RawURLEncoding.EncodeToString(sum[:])
	if claims.SDHash != expected {
		return errs.New(errs.InvalidStructure, "kb-jwt sd_hash mismatch").WithField("vpToken")
	}
	return nil
}
