// Package sdjwt implements the IETF SD-JWT VC representation: disclosure/digest
// computation, issuer-JWT construction with nested _sd arrays, key-binding JWTs, and the
// tilde-separated wire format.
//
// Disclosures follow draft-ietf-oauth-selective-disclosure-jwt: base64url over the
// ASCII JSON array, SHA-256 digests into _sd arrays, and an order-sensitive sd_hash
// over the exact presented prefix.
package sdjwt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/MichaelFraser99/go-sd-jwt/disclosure"

	"github.com/sunet/vcengine/internal/errs"
)

// Disclosure is one `[salt, claim_name, value]` (object claim) or `[salt, value]` (array
// element) triple or pair.
type Disclosure struct {
	Salt      string
	ClaimName string // empty for an array-element disclosure
	Value     any
	IsArray   bool
}

// Encoded returns the disclosure's base64url-ASCII wire form.
func (d Disclosure) Encoded() (string, error) {
	var arr []any
	if d.IsArray {
		arr = []any{d.Salt, d.Value}
	} else {
		arr = []any{d.Salt, d.ClaimName, d.Value}
	}
	raw, err := json.Marshal(arr)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal disclosure")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Digest returns `h = b64u(sha256(disclosure_ascii_bytes))`, the value inserted into
// an issuer JWT's `_sd` array. Object disclosures go through go-sd-jwt's disclosure
// hashing; array-element disclosures (which it does not model the same way) are hashed
// locally over the identical encoding.
func (d Disclosure) Digest() (string, error) {
	if !d.IsArray {
		sd, err := disclosure.NewFromObject(d.ClaimName, d.Value, &d.Salt)
		if err != nil {
			return "", errs.Wrap(errs.UsageError, err, "build disclosure")
		}
		return string(sd.Hash(sha256.New())), nil
	}
	enc, err := d.Encoded()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(enc))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ParseDisclosure decodes one wire-form disclosure string back into its triple/pair and
// recomputes its digest for _sd membership checking.
func ParseDisclosure(encoded string) (Disclosure, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Disclosure{}, "", errs.Wrap(errs.ParseError, err, "decode disclosure")
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return Disclosure{}, "", errs.Wrap(errs.ParseError, err, "unmarshal disclosure")
	}

	var d Disclosure
	switch len(arr) {
	case 2:
		salt, ok1 := arr[0].(string)
		if !ok1 {
			return Disclosure{}, "", errs.New(errs.ParseError, "disclosure salt not a string")
		}
		d = Disclosure{Salt: salt, Value: arr[1], IsArray: true}
	case 3:
		salt, ok1 := arr[0].(string)
		name, ok2 := arr[1].(string)
		if !ok1 || !ok2 {
			return Disclosure{}, "", errs.New(errs.ParseError, "disclosure salt/name not strings")
		}
		d = Disclosure{Salt: salt, ClaimName: name, Value: arr[2]}
	default:
		return Disclosure{}, "", errs.Newf(errs.ParseError, "disclosure array has %d elements, want 2 or 3", len(arr))
	}

	sum := sha256.Sum256([]byte(encoded))
	return d, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
