package sdjwt

import (
	"encoding/base64"
	"encoding/json"

	"go.step.sm/crypto/randutil"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
	"github.com/sunet/vcengine/pkg/model"
)

// IssuedSDJWT is the result of issuing an SD-JWT credential: the signed issuer JWT plus
// every disclosure the holder may later choose from.
type IssuedSDJWT struct {
	IssuerJWT   string
	Disclosures map[string]Disclosure // keyed by claim name, for the holder's later selection
}

// IssueParams configures Issue.
type IssueParams struct {
	Meta      model.CredentialMeta
	Claims    model.ClaimSet
	Selective model.SelectiveDisclosureHint // claims in here become _sd digests
	HolderCnf map[string]any                // holder's public key as a JWK, for cnf.jwk
	VCT       string                        // credential type, carried as the `vct` claim
}

// Issue builds and signs an SD-JWT issuer JWT: for each selectively
// disclosable claim, draw a salt, build and digest its disclosure, and replace the claim
// with its digest in an `_sd` array; non-selective claims stay inline.
func Issue(provider cryptoprovider.Provider, p IssueParams) (*IssuedSDJWT, error) {
	disclosures := make(map[string]Disclosure, len(p.Claims))
	var sd []string
	payload := map[string]any{
		"iss":     p.Meta.Issuer,
		"iat":     int64(p.Meta.IssuedAt),
		"_sd_alg": "sha-256",
	}
	if p.VCT != "" {
		payload["vct"] = p.VCT
	}
	if p.Meta.ExpiresAt != 0 {
		payload["exp"] = int64(p.Meta.ExpiresAt)
	}
	if p.HolderCnf != nil {
		payload["cnf"] = map[string]any{"jwk": p.HolderCnf}
	}
	if p.Meta.Status != nil {
		payload["status"] = map[string]any{"status_list": map[string]any{
			"idx": p.Meta.Status.Index,
			"uri": p.Meta.Status.RevocationListURL,
		}}
	}

	for _, name := range p.Claims.Names() {
		value := p.Claims[name]
		if !p.Selective[name] {
			payload[name] = value
			continue
		}
		// 16 random bytes, carried base64url-encoded in the disclosure array.
		saltBytes, err := randutil.Salt(16)
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "generate disclosure salt")
		}
		d := Disclosure{Salt: base64.RawURLEncoding.EncodeToString(saltBytes), ClaimName: name, Value: value}
		digest, err := d.Digest()
		if err != nil {
			return nil, err
		}
		disclosures[name] = d
		sd = append(sd, digest)
	}
	if len(sd) > 0 {
		payload["_sd"] = sd
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "marshal sd-jwt payload")
	}

	signed, err := jws.Build(provider, payloadJSON, jws.RefNone, nil, map[string]any{"typ": "vc+sd-jwt"})
	if err != nil {
		return nil, err
	}
	compact, err := signed.Compact()
	if err != nil {
		return nil, err
	}

	return &IssuedSDJWT{IssuerJWT: compact, Disclosures: disclosures}, nil
}
