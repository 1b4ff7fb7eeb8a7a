package openid4vp

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
)

// ResponseBuilder assembles the wallet side of an authorization response: the vp_token,
// its presentation_submission, and whichever envelope the request's response_mode asks
// for. It lives here so the verifier's tests and the reference wallet agent share one
// wire-faithful implementation.
type ResponseBuilder struct {
	params     *ResponseParameters
	submission PresentationSubmission
	tokens     []string
}

// NewResponseBuilder starts a response for the given request.
func NewResponseBuilder(request *AuthenticationRequestParameters, definitionID string) *ResponseBuilder {
	return &ResponseBuilder{
		params: &ResponseParameters{State: request.State},
		submission: PresentationSubmission{
			ID:           "submission-" + request.State,
			DefinitionID: definitionID,
		},
	}
}

// AddPresentation appends one presented credential under descriptorID with the given
// format. Tokens land in the vp_token array in call order; the descriptor path points at
// the matching index (or at the root for a single token).
func (b *ResponseBuilder) AddPresentation(descriptorID, format, token string) *ResponseBuilder {
	b.tokens = append(b.tokens, token)
	b.submission.DescriptorMap = append(b.submission.DescriptorMap, PresentationSubmissionDescriptor{
		ID:     descriptorID,
		Format: format,
		Path:   "$", // rewritten to an indexed path on Build when multiple tokens exist
	})
	return b
}

// AddIDToken attaches a SIOPv2 id_token.
func (b *ResponseBuilder) AddIDToken(idToken string) *ResponseBuilder {
	b.params.IDToken = idToken
	return b
}

// Build finalizes the flat parameter set.
func (b *ResponseBuilder) Build() (*ResponseParameters, error) {
	switch len(b.tokens) {
	case 0:
		// id_token-only responses carry no vp_token
	case 1:
		raw, err := json.Marshal(b.tokens[0])
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "marshal vp_token")
		}
		b.params.VPToken = raw
	default:
		for i := range b.submission.DescriptorMap {
			b.submission.DescriptorMap[i].Path = "$[" + strconv.Itoa(i) + "]"
		}
		raw, err := json.Marshal(b.tokens)
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "marshal vp_token array")
		}
		b.params.VPToken = raw
	}
	if len(b.submission.DescriptorMap) > 0 {
		b.params.PresentationSubmission = &b.submission
	}
	return b.params, nil
}

// EncodeForMode renders params into the wire form the response mode asks for: a
// redirect-back URL for fragment/query and a form body for direct_post. direct_post.jwt
// is rejected here; EncryptResponse produces the compact JWE for its `response` parameter.
func EncodeForMode(params *ResponseParameters, request *AuthenticationRequestParameters) (string, error) {
	values := url.Values{}
	if len(params.VPToken) > 0 {
		var single string
		if err := json.Unmarshal(params.VPToken, &single); err == nil {
			values.Set("vp_token", single)
		} else {
			values.Set("vp_token", string(params.VPToken))
		}
	}
	if params.IDToken != "" {
		values.Set("id_token", params.IDToken)
	}
	if params.PresentationSubmission != nil {
		ps, err := json.Marshal(params.PresentationSubmission)
		if err != nil {
			return "", errs.Wrap(errs.UsageError, err, "marshal presentation_submission")
		}
		values.Set("presentation_submission", string(ps))
	}
	if params.State != "" {
		values.Set("state", params.State)
	}

	encoded := values.Encode()
	switch request.ResponseMode {
	case ResponseModeFragment, "":
		return request.RedirectURI + "#" + encoded, nil
	case ResponseModeQuery:
		return request.RedirectURI + "?" + encoded, nil
	case ResponseModeDirectPost:
		return encoded, nil
	default:
		return "", errs.Newf(errs.UsageError, "EncodeForMode does not handle %q; use EncryptResponse", request.ResponseMode)
	}
}

// EncryptResponse builds the encrypted direct_post.jwt envelope: the flat parameters as
// JWE plaintext, encrypted to the verifier's ephemeral key from client_metadata.jwks,
// with the mdoc_generated_nonce carried as apu and the verifier nonce as apv.
func EncryptResponse(provider cryptoprovider.Provider, params *ResponseParameters, request *AuthenticationRequestParameters, mdocGeneratedNonce string) (string, error) {
	if request.ClientMetadata == nil || request.ClientMetadata.JWKS == nil || len(request.ClientMetadata.JWKS.Keys) == 0 {
		return "", errs.New(errs.UsageError, "request offers no encryption key in client_metadata.jwks")
	}
	recipientJWK := request.ClientMetadata.JWKS.Keys[0]
	recipientPub, err := jwkMapToPublicKey(recipientJWK)
	if err != nil {
		return "", err
	}
	recipientEC, ok := recipientPub.(*ecdsa.PublicKey)
	if !ok {
		return "", errs.New(errs.UsageError, "response encryption requires an EC recipient key")
	}

	enc := request.ClientMetadata.AuthorizationEncryptedResponseEnc
	if enc == "" {
		enc = "A256GCM"
	}

	plaintext, err := json.Marshal(params)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal response parameters")
	}

	ephemeral, err := ecdsa.GenerateKey(recipientEC.Curve, rand.Reader)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "generate ephemeral key")
	}

	var apu []byte
	if mdocGeneratedNonce != "" {
		apu = []byte(mdocGeneratedNonce)
	}
	kid, _ := recipientJWK["kid"].(string)
	encrypted, err := jws.Encrypt(provider, ephemeral, recipientEC, enc, kid, apu, []byte(request.Nonce), plaintext, publicKeyToJWKMap)
	if err != nil {
		return "", err
	}
	return encrypted.Compact()
}
