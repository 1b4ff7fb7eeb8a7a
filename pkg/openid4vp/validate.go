package openid4vp

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/sdjwt"
	"github.com/sunet/vcengine/pkg/timeutil"
	"github.com/sunet/vcengine/pkg/vcjwt"
)

// ValidateDeps injects the credential engines and trust material response validation
// dispatches into. The protocol layer owns none of them.
type ValidateDeps struct {
	// IssuerKeys resolves credential issuer kids; IssuerFallback applies when a
	// presentation carries no resolvable key reference.
	IssuerKeys     jws.PublicKeyLookup
	IssuerFallback crypto.PublicKey

	// HolderKeyID is the expected VC-JWT `sub` when known.
	HolderKeyID string

	// Mdoc verifies mso_mdoc descriptors.
	Mdoc        *mdoc.Engine
	MdocOptions mdoc.VerifyOptions

	// CheckStatus consults the revocation subsystem; nil skips status checks. Status is
	// orthogonal to cryptographic validity: a revoked credential still verifies, with
	// IsRevoked set on the result.
	CheckStatus func(status *model.CredentialStatus) (bool, error)
}

// ValidateResponse runs the response-validation state machine: look the state up
// (consuming the run),
// branch on response type, verify every descriptor independently, and aggregate. All
// failures surface as result variants, never as errors.
func (v *Verifier) ValidateResponse(params *ResponseParameters, deps ValidateDeps) AuthnResponseResult {
	if params == nil {
		return Error{Reason: "no response parameters"}
	}
	if params.Error != "" {
		return Error{State: params.State, Reason: "wallet returned error: " + params.Error}
	}

	// [STATE-LOOKUP]
	request, ok := v.requests.Get(params.State)
	if !ok {
		return ValidationError{State: params.State, Field: "state"}
	}
	v.requests.Remove(params.State)

	// The paired nonce is single-use for the whole run, whatever the response type
	//.
	if !v.nonces.VerifyAndRemove(request.Nonce) {
		return ValidationError{State: params.State, Field: "nonce"}
	}

	// [RESP-TYPE-BRANCH]
	wantsVP := strings.Contains(request.ResponseType, ResponseTypeVPToken)
	wantsIDT := strings.Contains(request.ResponseType, ResponseTypeIDToken)

	var results []AuthnResponseResult

	if wantsIDT {
		results = append(results, v.validateIDToken(params, &request))
	}
	if wantsVP {
		vpResults := v.validateVPToken(params, &request, deps)
		results = append(results, vpResults...)
	}

	switch len(results) {
	case 0:
		return ValidationError{State: params.State, Field: "response_type"}
	case 1:
		return results[0]
	default:
		return Aggregate{State: params.State, Results: results}
	}
}

// validateVPToken walks the presentation submission, evaluating each descriptor's
// cumulative JSONPath against the vp_token and dispatching on its format. A failing
// descriptor contributes a ValidationError without stopping the others.
func (v *Verifier) validateVPToken(params *ResponseParameters, request *AuthenticationRequestParameters, deps ValidateDeps) []AuthnResponseResult {
	state := params.State

	if params.PresentationSubmission == nil || len(params.PresentationSubmission.DescriptorMap) == 0 {
		return []AuthnResponseResult{ValidationError{State: state, Field: "presentation_submission"}}
	}
	if len(params.VPToken) == 0 {
		return []AuthnResponseResult{ValidationError{State: state, Field: "vpToken"}}
	}

	var vpToken any
	if err := json.Unmarshal(params.VPToken, &vpToken); err != nil {
		return []AuthnResponseResult{ValidationError{State: state, Field: "vpToken"}}
	}

	var results []AuthnResponseResult
	for _, descriptor := range params.PresentationSubmission.DescriptorMap {
		results = append(results, v.validateDescriptor(descriptor, vpToken, params, request, deps))
	}
	return results
}

func (v *Verifier) validateDescriptor(descriptor PresentationSubmissionDescriptor, vpToken any, params *ResponseParameters, request *AuthenticationRequestParameters, deps ValidateDeps) AuthnResponseResult {
	state := params.State

	located, err := jsonpath.Get(descriptor.CumulativePath(), vpToken)
	if err != nil {
		return ValidationError{State: state, Field: "descriptor_map." + descriptor.ID + ".path"}
	}
	presentation, ok := located.(string)
	if !ok {
		return ValidationError{State: state, Field: "descriptor_map." + descriptor.ID + ".path"}
	}

	clientID := clientIDForAudience(request)

	switch descriptor.Format {
	case FormatJWTVC, FormatJWTVP:
		return v.validateVCJWT(presentation, state, deps)
	case FormatJWTSD, FormatSDJWTVC:
		return v.validateSDJWT(presentation, state, clientID, request.Nonce, deps)
	case FormatMsoMdoc:
		return v.validateMdoc(presentation, state, request, params.MdocGeneratedNonce, deps)
	default:
		return ValidationError{State: state, Field: "descriptor_map." + descriptor.ID + ".format"}
	}
}

// clientIDForAudience strips a scheme prefix so aud comparisons see the bare identifier
// whichever draft form the request carried.
func clientIDForAudience(request *AuthenticationRequestParameters) string {
	_, clientID := ParseClientID(request.ClientID, request.ClientIDScheme)
	return clientID
}

func (v *Verifier) validateVCJWT(presentation, state string, deps ValidateDeps) AuthnResponseResult {
	result, err := vcjwt.Verify(presentation, vcjwt.VerifyOptions{
		Provider:     v.provider,
		IssuerLookup: deps.IssuerKeys,
		Fallback:     deps.IssuerFallback,
		HolderKeyID:  deps.HolderKeyID,
		Now:          v.clock.Now(),
		Leeway:       v.leeway,
	})
	if err != nil {
		return ValidationError{State: state, Field: "vpToken"}
	}

	revoked := v.checkStatus(result.Claims.VC.CredentialStatus, deps)
	return Success{State: state, VC: result, IsRevoked: revoked}
}

func (v *Verifier) validateSDJWT(presentation, state, clientID, nonce string, deps ValidateDeps) AuthnResponseResult {
	result, err := sdjwt.Verify(presentation, sdjwt.VerifyOptions{
		Provider:       v.provider,
		IssuerLookup:   deps.IssuerKeys,
		IssuerFallback: deps.IssuerFallback,
		JWKToPub:       jwkMapToPublicKey,
		ExpectedAud:    clientID,
		ExpectedNonce:  nonce,
		Now:            timeutil.NewNumericDate(v.clock.Now()),
		Leeway:         v.leeway,
	})
	if err != nil {
		return ValidationError{State: state, Field: "vpToken"}
	}

	revoked := v.checkStatus(statusFromSDClaims(result.Claims), deps)
	return SuccessSdJwt{State: state, Disclosures: result.Disclosed, Claims: result.Claims, IsRevoked: revoked}
}

func (v *Verifier) validateMdoc(presentation, state string, request *AuthenticationRequestParameters, mdocGeneratedNonce string, deps ValidateDeps) AuthnResponseResult {
	if deps.Mdoc == nil {
		return ValidationError{State: state, Field: "vpToken"}
	}

	raw, err := base64.RawURLEncoding.DecodeString(presentation)
	if err != nil {
		// Some wallets pad; accept standard-with-padding as the fallback.
		raw, err = base64.URLEncoding.DecodeString(presentation)
		if err != nil {
			return ValidationError{State: state, Field: "vpToken"}
		}
	}
	response, err := mdoc.DecodeDeviceResponse(raw)
	if err != nil {
		return ValidationError{State: state, Field: "vpToken"}
	}

	opts := deps.MdocOptions
	if opts.Now.IsZero() {
		opts.Now = v.clock.Now()
		opts.Leeway = v.leeway
	}
	docs, err := deps.Mdoc.VerifyDeviceResponse(response, mdoc.SessionBinding{
		ClientID:           clientIDForAudience(request),
		ResponseURI:        request.ResponseURI,
		Nonce:              request.Nonce,
		MdocGeneratedNonce: mdocGeneratedNonce,
	}, opts)
	if err != nil {
		return ValidationError{State: state, Field: "vpToken"}
	}

	revoked := false
	for i := range docs {
		if v.checkStatus(statusFromMdocClaims(docs[i].Claims), deps) {
			revoked = true
		}
	}
	return SuccessIso{State: state, Documents: docs, IsRevoked: revoked}
}

func (v *Verifier) checkStatus(status *model.CredentialStatus, deps ValidateDeps) bool {
	if status == nil || deps.CheckStatus == nil {
		return false
	}
	revoked, err := deps.CheckStatus(status)
	if err != nil {
		if v.log != nil {
			v.log.Info("status check failed", "url", status.RevocationListURL, "err", err.Error())
		}
		return false
	}
	return revoked
}

// statusFromSDClaims reads the `status.status_list` claim an SD-JWT issuer embedded.
func statusFromSDClaims(claims map[string]any) *model.CredentialStatus {
	status, _ := claims["status"].(map[string]any)
	list, _ := status["status_list"].(map[string]any)
	if list == nil {
		return nil
	}
	uri, _ := list["uri"].(string)
	idx, _ := list["idx"].(float64)
	if uri == "" {
		return nil
	}
	return &model.CredentialStatus{RevocationListURL: uri, Index: int(idx)}
}

// statusFromMdocClaims reads a `status` element from any presented namespace.
func statusFromMdocClaims(claims map[string]map[string]any) *model.CredentialStatus {
	for _, ns := range claims {
		statusAny, ok := ns["status"]
		if !ok {
			continue
		}
		status, _ := statusAny.(map[any]any)
		if status == nil {
			continue
		}
		list, _ := status["status_list"].(map[any]any)
		if list == nil {
			continue
		}
		uri, _ := list["uri"].(string)
		var idx int
		switch v := list["idx"].(type) {
		case uint64:
			idx = int(v)
		case int64:
			idx = int(v)
		}
		if uri != "" {
			return &model.CredentialStatus{RevocationListURL: uri, Index: idx}
		}
	}
	return nil
}

// validateIDToken runs the SIOPv2 checks: iss==sub, aud==client_id, nonce
// outstanding, iat/exp within leeway, sub equals thumbprint(sub_jwk), signature under
// sub_jwk.
func (v *Verifier) validateIDToken(params *ResponseParameters, request *AuthenticationRequestParameters) AuthnResponseResult {
	state := params.State
	if params.IDToken == "" {
		return ValidationError{State: state, Field: "id_token"}
	}

	signed, err := jws.Parse(params.IDToken)
	if err != nil {
		return ValidationError{State: state, Field: "id_token"}
	}

	var claims struct {
		Iss    string         `json:"iss"`
		Sub    string         `json:"sub"`
		Aud    string         `json:"aud"`
		Iat    int64          `json:"iat"`
		Exp    int64          `json:"exp"`
		Nonce  string         `json:"nonce"`
		SubJWK map[string]any `json:"sub_jwk"`
	}
	if err := json.Unmarshal(signed.Payload, &claims); err != nil {
		return ValidationError{State: state, Field: "id_token"}
	}

	if claims.Iss != claims.Sub {
		return ValidationError{State: state, Field: "iss"}
	}
	if claims.Aud != clientIDForAudience(request) {
		return ValidationError{State: state, Field: "aud"}
	}
	if claims.Nonce != request.Nonce {
		return ValidationError{State: state, Field: "nonce"}
	}

	now := v.clock.Now()
	iat := timeutil.NumericDate(claims.Iat).Time()
	exp := timeutil.NumericDate(claims.Exp).Time()
	if iat.After(now.Add(v.leeway)) {
		return ValidationError{State: state, Field: "iat"}
	}
	if claims.Exp != 0 && exp.Before(now.Add(-v.leeway)) {
		return ValidationError{State: state, Field: "exp"}
	}

	if claims.SubJWK == nil {
		return ValidationError{State: state, Field: "sub_jwk"}
	}
	thumbprint, err := jwkThumbprint(claims.SubJWK)
	if err != nil || claims.Sub != thumbprint {
		return ValidationError{State: state, Field: "sub"}
	}

	pub, err := jwkMapToPublicKey(claims.SubJWK)
	if err != nil {
		return ValidationError{State: state, Field: "sub_jwk"}
	}
	if err := v.provider.Verify(cryptoprovider.Alg(signed.Header.Alg), signed.SigningInputB, signed.Signature, pub); err != nil {
		return ValidationError{State: state, Field: "id_token"}
	}

	var allClaims map[string]any
	_ = json.Unmarshal(signed.Payload, &allClaims)
	return SuccessIDToken{State: state, Subject: claims.Sub, Claims: allClaims}
}
