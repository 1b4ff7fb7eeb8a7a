package openid4vp

import (
	"crypto/x509"
	"strings"

	"github.com/sunet/vcengine/internal/errs"
)

// ClientIDSchemeKind tags the client-identifier scheme variants
type ClientIDSchemeKind string

const (
	SchemePreRegistered       ClientIDSchemeKind = "pre-registered"
	SchemeRedirectURI         ClientIDSchemeKind = "redirect_uri"
	SchemeCertificateSanDns   ClientIDSchemeKind = "x509_san_dns"
	SchemeVerifierAttestation ClientIDSchemeKind = "verifier_attestation"
)

// ClientIDScheme is the tagged variant picked at verifier construction. Exactly
// the fields its Kind needs are set.
type ClientIDScheme struct {
	Kind     ClientIDSchemeKind
	ClientID string

	// IssuerURI is the optional trusted-issuer hint of PreRegistered.
	IssuerURI string

	// Chain is the verifier's X.509 chain for CertificateSanDns; the leaf's SAN
	// dNSName entries must include ClientID.
	Chain []*x509.Certificate

	// AttestationJWT is the compact Verifier-Attestation JWT for VerifierAttestation;
	// ClientID must equal its `sub`.
	AttestationJWT string
}

// PreRegistered builds the pre-registered scheme.
func PreRegistered(clientID, issuerURI string) ClientIDScheme {
	return ClientIDScheme{Kind: SchemePreRegistered, ClientID: clientID, IssuerURI: issuerURI}
}

// RedirectURI builds the redirect_uri scheme: the client identifier is the redirect URI
// itself.
func RedirectURI(redirectURI string) ClientIDScheme {
	return ClientIDScheme{Kind: SchemeRedirectURI, ClientID: redirectURI}
}

// CertificateSanDns builds the x509_san_dns scheme.
func CertificateSanDns(clientID string, chain []*x509.Certificate) ClientIDScheme {
	return ClientIDScheme{Kind: SchemeCertificateSanDns, ClientID: clientID, Chain: chain}
}

// VerifierAttestation builds the verifier_attestation scheme.
func VerifierAttestation(clientID, attestationJWT string) ClientIDScheme {
	return ClientIDScheme{Kind: SchemeVerifierAttestation, ClientID: clientID, AttestationJWT: attestationJWT}
}

// RequiresSignedRequest reports whether this scheme's requests MUST be signed JARs
//.
func (s ClientIDScheme) RequiresSignedRequest() bool {
	return s.Kind == SchemeCertificateSanDns || s.Kind == SchemeVerifierAttestation
}

// PrefixedClientID renders the newer embedded form "scheme:identifier" emitted on output
//. PreRegistered stays bare for backwards compatibility with
// wallets that treat an unprefixed client_id as pre-registered.
func (s ClientIDScheme) PrefixedClientID() string {
	if s.Kind == SchemePreRegistered {
		return s.ClientID
	}
	return string(s.Kind) + ":" + s.ClientID
}

// ParseClientID splits a possibly scheme-prefixed client_id, also consulting the older
// top-level client_id_scheme parameter; both drafts MUST be accepted on input.
func ParseClientID(clientID, topLevelScheme string) (ClientIDSchemeKind, string) {
	for _, kind := range []ClientIDSchemeKind{SchemeRedirectURI, SchemeCertificateSanDns, SchemeVerifierAttestation, SchemePreRegistered} {
		prefix := string(kind) + ":"
		if strings.HasPrefix(clientID, prefix) {
			return kind, clientID[len(prefix):]
		}
	}
	if topLevelScheme != "" {
		return ClientIDSchemeKind(topLevelScheme), clientID
	}
	return SchemePreRegistered, clientID
}

// checkModeCompatibility enforces the scheme/mode rules: schemes whose requests must be
// signed JARs reject both unsigned delivery modes (plain query parameters and the
// unsigned request_uri), and CertificateSanDns additionally forbids redirect_uri
// response delivery.
func (s ClientIDScheme) checkModeCompatibility(mode RequestMode, responseMode string) error {
	if s.RequiresSignedRequest() && (mode == ModeQuery || mode == ModeByReference) {
		return errs.Newf(errs.UsageError, "%s requests must be signed; use a signed request mode", s.Kind)
	}
	if s.Kind == SchemeCertificateSanDns &&
		(responseMode == ResponseModeFragment || responseMode == ResponseModeQuery) {
		return errs.New(errs.UsageError, "x509_san_dns does not permit redirect_uri response delivery")
	}
	return nil
}
