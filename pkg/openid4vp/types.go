// Package openid4vp implements the OpenID4VP/SIOPv2 verifier protocol core:
// authentication-request construction in four modes, response-mode handling including
// encrypted direct_post.jwt, and the response-validation state machine dispatching each
// presentation-submission descriptor to the matching credential engine.
package openid4vp

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// Response types.
const (
	ResponseTypeVPToken        = "vp_token"
	ResponseTypeIDToken        = "id_token"
	ResponseTypeVPTokenIDToken = "vp_token id_token"
)

// Response modes.
const (
	ResponseModeFragment      = "fragment"
	ResponseModeQuery         = "query"
	ResponseModeDirectPost    = "direct_post"
	ResponseModeDirectPostJWT = "direct_post.jwt"
)

// Credential format identifiers dispatched per descriptor.
const (
	FormatJWTVC   = "jwt_vc"
	FormatJWTVP   = "jwt_vp"
	FormatJWTSD   = "jwt_sd"
	FormatSDJWTVC = "vc+sd-jwt"
	FormatMsoMdoc = "mso_mdoc"
)

// AuthenticationRequestParameters is the request object the verifier produces and the
// wallet consumes, whichever of the four construction modes carried it.
type AuthenticationRequestParameters struct {
	// ResponseType is "vp_token", "id_token", or both space-separated.
	ResponseType string `json:"response_type" uri:"response_type" validate:"required"`

	// ClientID identifies the verifier. With the newer client_id_scheme drafts the
	// scheme travels embedded as a "scheme:identifier" prefix; ParseClientID splits it.
	ClientID string `json:"client_id" uri:"client_id" validate:"required"`

	// ClientIDScheme is the older top-level scheme parameter. Accepted on input for
	// draft compatibility; output always embeds the scheme in client_id instead.
	ClientIDScheme string `json:"client_id_scheme,omitempty" uri:"client_id_scheme"`

	// Nonce binds the presentation to this request. Fresh per request, recorded in the
	// verifier's NonceService.
	Nonce string `json:"nonce" uri:"nonce" validate:"required,ascii"`

	// State keys the verifier's state_to_request map.
	State string `json:"state,omitempty" uri:"state"`

	ResponseMode string `json:"response_mode,omitempty" uri:"response_mode" validate:"omitempty,oneof=fragment query direct_post direct_post.jwt"`

	// RedirectURI receives fragment/query responses; ResponseURI receives direct_post
	// ones. At most one is set, depending on ResponseMode.
	RedirectURI string `json:"redirect_uri,omitempty" uri:"redirect_uri"`
	ResponseURI string `json:"response_uri,omitempty" uri:"response_uri"`

	PresentationDefinition    *PresentationDefinition `json:"presentation_definition,omitempty"`
	PresentationDefinitionURI string                  `json:"presentation_definition_uri,omitempty" uri:"presentation_definition_uri"`

	ClientMetadata    *ClientMetadata `json:"client_metadata,omitempty"`
	ClientMetadataURI string          `json:"client_metadata_uri,omitempty" uri:"client_metadata_uri"`

	// Scope carries "openid" when an id_token is requested alongside the vp_token.
	Scope string `json:"scope,omitempty" uri:"scope"`

	// Audience for signed request objects.
	Audience string `json:"aud,omitempty"`
	Issuer   string `json:"iss,omitempty"`
	IssuedAt int64  `json:"iat,omitempty"`
}

// Validate checks the parameter set against its declared struct-tag constraints;
// scheme/mode compatibility is not checked here.
func (a *AuthenticationRequestParameters) Validate() error {
	return paramValidator.Struct(a)
}

var paramValidator = validator.New()

// PresentationDefinition is the DIF PEX v2 container.
type PresentationDefinition struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Purpose          string            `json:"purpose,omitempty"`
	InputDescriptors []InputDescriptor `json:"input_descriptors"`
	Format           map[string]Format `json:"format,omitempty"`
}

// InputDescriptor names one requested credential with its format container and
// constraints.
type InputDescriptor struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Purpose     string            `json:"purpose,omitempty"`
	Format      map[string]Format `json:"format,omitempty"`
	Constraints Constraints       `json:"constraints"`
}

// Format carries the accepted algorithms for one format identifier.
type Format struct {
	Alg       []string `json:"alg,omitempty"`
	ProofType []string `json:"proof_type,omitempty"`
}

// Constraints holds the JSONPath field constraints of an input descriptor.
type Constraints struct {
	LimitDisclosure string  `json:"limit_disclosure,omitempty"`
	Fields          []Field `json:"fields,omitempty"`
}

// Field is one constrained claim: JSONPath alternatives plus an optional filter.
type Field struct {
	Path   []string `json:"path"`
	Filter *Filter  `json:"filter,omitempty"`
	Name   string   `json:"name,omitempty"`
}

// Filter is the JSON-Schema-subset value filter of PEX v2.
type Filter struct {
	Type    string   `json:"type,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Const   any      `json:"const,omitempty"`
	Enum    []string `json:"enum,omitempty"`
}

// PresentationSubmission maps the wallet's response back onto the definition's
// descriptors.
type PresentationSubmission struct {
	ID            string                             `json:"id"`
	DefinitionID  string                             `json:"definition_id"`
	DescriptorMap []PresentationSubmissionDescriptor `json:"descriptor_map"`
}

// PresentationSubmissionDescriptor locates one presented credential inside the vp_token
// by JSONPath, possibly nested.
type PresentationSubmissionDescriptor struct {
	ID         string                            `json:"id"`
	Format     string                            `json:"format"`
	Path       string                            `json:"path"`
	PathNested *PresentationSubmissionDescriptor `json:"path_nested,omitempty"`
}

// CumulativePath concatenates this descriptor's path with every nested path, dropping
// each nested path's leading "$".
func (d *PresentationSubmissionDescriptor) CumulativePath() string {
	path := d.Path
	for nested := d.PathNested; nested != nil; nested = nested.PathNested {
		if len(nested.Path) > 1 {
			path += nested.Path[1:]
		}
	}
	return path
}

// ClientMetadata is the verifier metadata passed inline or by URI. The encrypted-response
// algorithm fields went through a draft rename; both spellings are accepted on parse and
// only the newer is emitted.
type ClientMetadata struct {
	JWKS                              *JWKSet                        `json:"jwks,omitempty"`
	VPFormats                         map[string]map[string][]string `json:"vp_formats,omitempty"`
	AuthorizationSignedResponseAlg    string                         `json:"authorization_signed_response_alg,omitempty"`
	AuthorizationEncryptedResponseAlg string                         `json:"authorization_encrypted_response_alg,omitempty"`
	AuthorizationEncryptedResponseEnc string                         `json:"authorization_encrypted_response_enc,omitempty"`
	RedirectURIs                      []string                       `json:"redirect_uris,omitempty"`
	ClientName                        string                         `json:"client_name,omitempty"`
}

// UnmarshalJSON accepts both the current field names and the deprecated
// "...AlgString"/"...EncString" spellings older drafts emitted.
func (c *ClientMetadata) UnmarshalJSON(data []byte) error {
	type alias ClientMetadata
	aux := struct {
		*alias
		DeprecatedAlg string `json:"authorizationEncryptedResponseAlgString,omitempty"`
		DeprecatedEnc string `json:"authorizationEncryptedResponseEncString,omitempty"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.AuthorizationEncryptedResponseAlg == "" {
		c.AuthorizationEncryptedResponseAlg = aux.DeprecatedAlg
	}
	if c.AuthorizationEncryptedResponseEnc == "" {
		c.AuthorizationEncryptedResponseEnc = aux.DeprecatedEnc
	}
	return nil
}

// JWKSet is a JWK set as carried in client_metadata.jwks.
type JWKSet struct {
	Keys []map[string]any `json:"keys"`
}

// ResponseParameters is the flattened parameter set of an authorization response, after
// whichever response-mode envelope carried it has been removed.
type ResponseParameters struct {
	VPToken                json.RawMessage         `json:"vp_token,omitempty"`
	IDToken                string                  `json:"id_token,omitempty"`
	PresentationSubmission *PresentationSubmission `json:"presentation_submission,omitempty"`
	State                  string                  `json:"state,omitempty"`
	Error                  string                  `json:"error,omitempty"`
	ErrorDescription       string                  `json:"error_description,omitempty"`

	// MdocGeneratedNonce is the apu of the outer JWE when the response was encrypted
	//; empty otherwise.
	MdocGeneratedNonce string `json:"-"`
}
