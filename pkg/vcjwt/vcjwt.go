// Package vcjwt implements the W3C VC-JWT representation: build/parse/validate a
// Verifiable Credential serialized as a compact JWS, for any caller-supplied
// `model.CredentialMeta` rather than a fixed document-type set.
package vcjwt

import (
	"encoding/json"
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// VC is the `vc` claim of a VC-JWT payload.
type VC struct {
	Context           []string               `json:"@context,omitempty"`
	Type              []string               `json:"type"`
	ID                string                 `json:"id"`
	Issuer            string                 `json:"issuer"`
	IssuanceDate      timeutil.NumericDate   `json:"issuanceDate"`
	ExpirationDate    timeutil.NumericDate   `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any         `json:"credentialSubject"`
	CredentialStatus  *model.CredentialStatus `json:"credentialStatus,omitempty"`
}

// Claims is the full VC-JWT payload: `iss, sub, nbf, exp, jti, vc`.
type Claims struct {
	Issuer    string               `json:"iss"`
	Subject   string               `json:"sub"`
	NotBefore timeutil.NumericDate `json:"nbf"`
	ExpiresAt timeutil.NumericDate `json:"exp,omitempty"`
	JTI       string               `json:"jti"`
	VC        VC                   `json:"vc"`
}

// Issue builds and signs a VC-JWT from meta/subject, enforcing the structural invariants at
// construction time (jti==vc.id, iss==vc.issuer, nbf==vc.issuanceDate,
// exp==vc.expirationDate) so a caller cannot produce a structurally inconsistent one.
func Issue(provider cryptoprovider.Provider, meta model.CredentialMeta, subject model.CredentialSubject) (string, error) {
	claims := Claims{
		Issuer:    meta.Issuer,
		Subject:   meta.Subject,
		NotBefore: meta.NotBefore,
		ExpiresAt: meta.ExpiresAt,
		JTI:       meta.ID,
		VC: VC{
			Type:              []string{"VerifiableCredential", meta.Type},
			ID:                meta.ID,
			Issuer:            meta.Issuer,
			IssuanceDate:      meta.NotBefore,
			ExpirationDate:    meta.ExpiresAt,
			CredentialSubject: claimMapWithID(subject),
			CredentialStatus:  meta.Status,
		},
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal vc-jwt payload")
	}
	signed, err := jws.Build(provider, payload, jws.RefNone, nil, map[string]any{"typ": "JWT"})
	if err != nil {
		return "", err
	}
	return signed.Compact()
}

func claimMapWithID(subject model.CredentialSubject) map[string]any {
	m := map[string]any{}
	for k, v := range subject.Claims {
		m[k] = v
	}
	if subject.ID != "" {
		m["id"] = subject.ID
	}
	return m
}

// VerifyOptions configures Verify.
type VerifyOptions struct {
	Provider     cryptoprovider.Provider
	IssuerLookup jws.PublicKeyLookup
	Fallback     interface{} // crypto.PublicKey; used when Lookup/embedded refs are absent
	HolderKeyID  string      // expected `sub`
	Now          time.Time
	Leeway       time.Duration
}

// Result is the outcome of a successful Verify.
type Result struct {
	Claims Claims
}

// Verify checks the JWS signature, `iss==vc.issuer`, `jti==vc.id`,
// `nbf==vc.issuanceDate`, `exp==vc.expirationDate` (if present), `sub` equals the expected
// holder key id, and `now` within `[nbf-leeway, exp+leeway]`.
func Verify(compact string, opt VerifyOptions) (*Result, error) {
	signed, err := jws.Parse(compact)
	if err != nil {
		return nil, err
	}

	if err := jws.Verify(signed, opt.Provider, opt.IssuerLookup, nil, nil, opt.Fallback); err != nil {
		return nil, err
	}

	var claims Claims
	if err := json.Unmarshal(signed.Payload, &claims); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal vc-jwt payload")
	}

	if claims.JTI != claims.VC.ID {
		return nil, errs.New(errs.InvalidStructure, "jti != vc.id")
	}
	if claims.Issuer != claims.VC.Issuer {
		return nil, errs.New(errs.InvalidStructure, "iss != vc.issuer")
	}
	if claims.NotBefore != claims.VC.IssuanceDate {
		return nil, errs.New(errs.InvalidStructure, "nbf != vc.issuanceDate")
	}
	if claims.VC.ExpirationDate != 0 && claims.ExpiresAt != claims.VC.ExpirationDate {
		return nil, errs.New(errs.InvalidStructure, "exp != vc.expirationDate")
	}
	if opt.HolderKeyID != "" && claims.Subject != opt.HolderKeyID {
		return nil, errs.New(errs.InvalidStructure, "sub does not match holder key id")
	}

	var notAfter time.Time
	if claims.ExpiresAt != 0 {
		notAfter = claims.ExpiresAt.Time()
	}
	if !timeutil.Valid(opt.Now, claims.NotBefore.Time(), notAfter, opt.Leeway) {
		return nil, errs.New(errs.ExpiredOrNotYetValid, "vc-jwt outside validity window")
	}

	return &Result{Claims: claims}, nil
}

// PeekClaims parses a compact VC-JWT's payload without verifying the signature, for
// callers that need the issuer to pick a trust anchor before the real Verify runs.
func PeekClaims(compact string) (*Claims, error) {
	signed, err := jws.Parse(compact)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := json.Unmarshal(signed.Payload, &claims); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal vc-jwt payload")
	}
	return &claims, nil
}
