package openid4vp

import (
	"crypto"
	"crypto/x509"
	"encoding/json"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/x5c"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
)

// VerifyRequestObjectOptions configures the wallet-side checks of a signed JAR.
type VerifyRequestObjectOptions struct {
	Provider cryptoprovider.Provider

	// TrustAnchors validate x5c chains for x509_san_dns requests. Empty trusts the
	// chain as presented (tests with self-signed verifier certificates).
	TrustAnchors []*x509.Certificate

	// PreRegisteredKeys resolves a pre-registered client_id to its known request
	// signing key.
	PreRegisteredKeys func(clientID string) (crypto.PublicKey, bool)

	// JWKToPub converts a JWK map (the attestation's cnf.jwk) into a public key.
	JWKToPub func(map[string]any) (crypto.PublicKey, error)

	// AttestationIssuerKey verifies the Verifier-Attestation JWT itself, when set.
	AttestationIssuerKey crypto.PublicKey
}

// VerifyRequestObject parses a signed JAR, resolves its client-identifier scheme, and
// verifies the signature against the scheme's proof:
//
//   - x509_san_dns: x5c leaf key signs; the leaf SAN dNSName MUST equal client_id and
//     redirect_uri delivery is rejected.
//   - verifier_attestation: the attestation travels in the JOSE header "jwt"; client_id
//     MUST equal its `sub`, and the request is verified against the attestation's
//     cnf.jwk key.
//   - pre-registered: the key comes from the caller's registry.
func VerifyRequestObject(jar string, opt VerifyRequestObjectOptions) (*AuthenticationRequestParameters, error) {
	signed, err := jws.Parse(jar)
	if err != nil {
		return nil, err
	}

	var params AuthenticationRequestParameters
	if err := json.Unmarshal(signed.Payload, &params); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal request object claims")
	}

	kind, clientID := ParseClientID(params.ClientID, params.ClientIDScheme)

	switch kind {
	case SchemeCertificateSanDns:
		if err := verifySanDnsRequest(signed, clientID, &params, opt); err != nil {
			return nil, err
		}
	case SchemeVerifierAttestation:
		if err := verifyAttestedRequest(signed, clientID, opt); err != nil {
			return nil, err
		}
	default:
		pub, ok := crypto.PublicKey(nil), false
		if opt.PreRegisteredKeys != nil {
			pub, ok = opt.PreRegisteredKeys(clientID)
		}
		if !ok {
			return nil, errs.Newf(errs.UnknownKey, "no registered key for client %q", clientID)
		}
		if err := opt.Provider.Verify(cryptoprovider.Alg(signed.Header.Alg), signed.SigningInputB, signed.Signature, pub); err != nil {
			return nil, err
		}
	}

	return &params, nil
}

func verifySanDnsRequest(signed *jws.Signed, clientID string, params *AuthenticationRequestParameters, opt VerifyRequestObjectOptions) error {
	if len(signed.Header.X5c) == 0 {
		return errs.New(errs.InvalidStructure, "x509_san_dns request carries no x5c chain")
	}
	chain, err := x5c.ParseChain(signed.Header.X5c)
	if err != nil {
		return err
	}
	if err := x5c.Verify(chain, opt.TrustAnchors); err != nil {
		return err
	}
	if err := x5c.MatchSANDNS(chain[0], clientID); err != nil {
		return err
	}
	if params.RedirectURI != "" {
		return errs.New(errs.InvalidStructure, "x509_san_dns does not permit redirect_uri")
	}
	return opt.Provider.Verify(cryptoprovider.Alg(signed.Header.Alg), signed.SigningInputB, signed.Signature, chain[0].PublicKey)
}

func verifyAttestedRequest(signed *jws.Signed, clientID string, opt VerifyRequestObjectOptions) error {
	attestationCompact, _ := signed.Header.Ext["jwt"].(string)
	if attestationCompact == "" {
		return errs.New(errs.InvalidStructure, "verifier_attestation request carries no attestation jwt")
	}

	attestation, err := jws.Parse(attestationCompact)
	if err != nil {
		return err
	}
	if opt.AttestationIssuerKey != nil {
		if err := opt.Provider.Verify(cryptoprovider.Alg(attestation.Header.Alg), attestation.SigningInputB, attestation.Signature, opt.AttestationIssuerKey); err != nil {
			return err
		}
	}

	var claims struct {
		Sub string `json:"sub"`
		Cnf struct {
			JWK map[string]any `json:"jwk"`
		} `json:"cnf"`
	}
	if err := json.Unmarshal(attestation.Payload, &claims); err != nil {
		return errs.Wrap(errs.ParseError, err, "unmarshal attestation claims")
	}
	if claims.Sub != clientID {
		return errs.New(errs.InvalidStructure, "client_id does not equal attestation sub")
	}
	if claims.Cnf.JWK == nil || opt.JWKToPub == nil {
		return errs.New(errs.InvalidStructure, "attestation carries no cnf.jwk")
	}
	pub, err := opt.JWKToPub(claims.Cnf.JWK)
	if err != nil {
		return errs.Wrap(errs.UnknownKey, err, "resolve attestation cnf.jwk")
	}
	return opt.Provider.Verify(cryptoprovider.Alg(signed.Header.Alg), signed.SigningInputB, signed.Signature, pub)
}
