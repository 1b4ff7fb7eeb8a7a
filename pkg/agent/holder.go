package agent

import (
	"crypto/x509"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/telemetry"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/keymaterial"
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/openid4vp"
	"github.com/sunet/vcengine/pkg/sdjwt"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// Holder is the wallet role: it stores credentials and answers authentication requests
// with presentations bound to its device key.
type Holder struct {
	Keys     *keymaterial.KeyMaterial
	Provider cryptoprovider.Provider
	Store    *CredentialStore
	Clock    timeutil.TimeProvider
	Log      *telemetry.Log

	// TrustAnchors validate signed request objects' x5c chains; empty trusts as
	// presented.
	TrustAnchors []*x509.Certificate
}

// NewHolder builds a Holder with a fresh key on the given curve.
func NewHolder(curve string) (*Holder, error) {
	keys, err := keymaterial.Generate(curve)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "generate holder key")
	}
	provider, err := cryptoprovider.NewSoftware(keys.Private)
	if err != nil {
		return nil, err
	}
	return &Holder{
		Keys:     keys,
		Provider: provider,
		Store:    NewCredentialStore(),
		Clock:    timeutil.SystemClock{},
	}, nil
}

// ResolveRequest turns whatever the verifier sent — a signed JAR — into validated
// request parameters, running the scheme checks (SAN dNSName equality for
// x509_san_dns, attestation sub binding for verifier_attestation).
func (h *Holder) ResolveRequest(jar string, opts openid4vp.VerifyRequestObjectOptions) (*openid4vp.AuthenticationRequestParameters, error) {
	if opts.Provider == nil {
		opts.Provider = h.Provider
	}
	if opts.TrustAnchors == nil {
		opts.TrustAnchors = h.TrustAnchors
	}
	if opts.JWKToPub == nil {
		opts.JWKToPub = openid4vp.JWKToPublicKey
	}
	return openid4vp.VerifyRequestObject(jar, opts)
}

// PresentationInput selects what to disclose in response to a request.
type PresentationInput struct {
	// CredentialID picks a stored credential; empty picks the first matching the
	// request's format.
	CredentialID string

	// DisclosedClaims restricts SD-JWT disclosures / mdoc elements to these claim
	// names; nil discloses everything the credential can.
	DisclosedClaims []string

	// DescriptorID labels the submission descriptor; defaults to the credential type.
	DescriptorID string
}

// Presentation is the holder's reply, ready for the wire.
type Presentation struct {
	// Params is the flat response parameter set.
	Params *openid4vp.ResponseParameters

	// Encoded is the response in the request's wire form: a redirect-back URL
	// (fragment/query), a form body (direct_post), or a `response` JWE
	// (direct_post.jwt with encryption).
	Encoded string

	// MdocGeneratedNonce is non-empty when an mdoc was presented over an encrypted
	// response; it rode in the JWE apu.
	MdocGeneratedNonce string
}

// CreatePresentation answers request with a presentation of the selected stored
// credential, building the format-appropriate proof of possession: a KB-JWT for SD-JWT,
// a device signature over the session transcript (or the bare nonce) for mdoc.
func (h *Holder) CreatePresentation(request *openid4vp.AuthenticationRequestParameters, in PresentationInput) (*Presentation, error) {
	cred, err := h.pickCredential(request, in)
	if err != nil {
		return nil, err
	}
	descriptorID := in.DescriptorID
	if descriptorID == "" {
		descriptorID = cred.Type
	}

	encrypt := request.ResponseMode == openid4vp.ResponseModeDirectPostJWT &&
		request.ClientMetadata != nil && request.ClientMetadata.JWKS != nil

	builder := openid4vp.NewResponseBuilder(request, definitionID(request))

	var mdocGeneratedNonce string
	switch cred.Format {
	case FormatVCJWT:
		builder.AddPresentation(descriptorID, openid4vp.FormatJWTVC, cred.Compact)

	case FormatSDJWT:
		token, err := h.presentSDJWT(cred, request, in.DisclosedClaims)
		if err != nil {
			return nil, err
		}
		builder.AddPresentation(descriptorID, openid4vp.FormatSDJWTVC, token)

	case FormatMdoc:
		var token string
		token, mdocGeneratedNonce, err = h.presentMdoc(cred, request, in.DisclosedClaims, encrypt)
		if err != nil {
			return nil, err
		}
		builder.AddPresentation(descriptorID, openid4vp.FormatMsoMdoc, token)

	default:
		return nil, errs.Newf(errs.UsageError, "cannot present format %q", cred.Format)
	}

	params, err := builder.Build()
	if err != nil {
		return nil, err
	}

	out := &Presentation{Params: params, MdocGeneratedNonce: mdocGeneratedNonce}
	if encrypt {
		out.Encoded, err = openid4vp.EncryptResponse(h.Provider, params, request, mdocGeneratedNonce)
	} else {
		out.Encoded, err = openid4vp.EncodeForMode(params, request)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Holder) pickCredential(request *openid4vp.AuthenticationRequestParameters, in PresentationInput) (*StoredCredential, error) {
	if in.CredentialID != "" {
		cred, ok := h.Store.Get(in.CredentialID)
		if !ok {
			return nil, errs.Newf(errs.UsageError, "no stored credential %q", in.CredentialID)
		}
		return cred, nil
	}
	for _, format := range requestedFormats(request) {
		if cred, ok := h.Store.FindByFormat(format); ok {
			return cred, nil
		}
	}
	return nil, errs.New(errs.UsageError, "no stored credential matches the request")
}

// requestedFormats reads the format containers out of the presentation definition, in
// descriptor order; an absent definition accepts anything.
func requestedFormats(request *openid4vp.AuthenticationRequestParameters) []Format {
	pd := request.PresentationDefinition
	if pd == nil {
		return []Format{FormatVCJWT, FormatSDJWT, FormatMdoc}
	}
	var out []Format
	for _, descriptor := range pd.InputDescriptors {
		for name := range descriptor.Format {
			switch name {
			case openid4vp.FormatJWTVC, openid4vp.FormatJWTVP:
				out = append(out, FormatVCJWT)
			case openid4vp.FormatJWTSD, openid4vp.FormatSDJWTVC:
				out = append(out, FormatSDJWT)
			case openid4vp.FormatMsoMdoc:
				out = append(out, FormatMdoc)
			}
		}
	}
	if len(out) == 0 {
		out = []Format{FormatVCJWT, FormatSDJWT, FormatMdoc}
	}
	return out
}

func definitionID(request *openid4vp.AuthenticationRequestParameters) string {
	if request.PresentationDefinition != nil {
		return request.PresentationDefinition.ID
	}
	return "definition"
}

func (h *Holder) presentSDJWT(cred *StoredCredential, request *openid4vp.AuthenticationRequestParameters, disclosed []string) (string, error) {
	presentation := sdjwt.Presentation{IssuerJWT: cred.Compact}
	if disclosed == nil {
		for _, enc := range cred.Disclosures {
			presentation.Disclosures = append(presentation.Disclosures, enc)
		}
	} else {
		for _, name := range disclosed {
			enc, ok := cred.Disclosures[name]
			if !ok {
				return "", errs.Newf(errs.UsageError, "no disclosure for claim %q", name)
			}
			presentation.Disclosures = append(presentation.Disclosures, enc)
		}
	}

	aud := audienceOf(request)
	kb, err := sdjwt.BuildKeyBinding(h.Provider, presentation, request.Nonce, aud, timeutil.NewNumericDate(h.Clock.Now()))
	if err != nil {
		return "", err
	}
	presentation.KeyBinding = kb
	return presentation.Serialize(), nil
}

func audienceOf(request *openid4vp.AuthenticationRequestParameters) string {
	_, clientID := openid4vp.ParseClientID(request.ClientID, request.ClientIDScheme)
	return clientID
}

func (h *Holder) presentMdoc(cred *StoredCredential, request *openid4vp.AuthenticationRequestParameters, disclosed []string, encrypt bool) (token, mdocGeneratedNonce string, err error) {
	var issuerSigned mdoc.IssuerSigned
	if err := mdoc.Unmarshal(cred.MdocIssuerSigned, &issuerSigned); err != nil {
		return "", "", err
	}

	selected := &issuerSigned
	if disclosed != nil {
		requested := map[string][]string{}
		available, err := mdoc.AvailableElements(&issuerSigned)
		if err != nil {
			return "", "", err
		}
		for ns := range available {
			requested[ns] = disclosed
		}
		selected, err = mdoc.SelectItems(&issuerSigned, requested)
		if err != nil {
			return "", "", err
		}
	}

	params := mdoc.PresentParams{DocType: cred.Type, IssuerSigned: selected}
	if encrypt {
		// Encrypted responses carry the generated nonce in the JWE apu; the device
		// signature binds the full session transcript.
		mdocGeneratedNonce = uuid.NewString()
		transcript, err := mdoc.OID4VPSessionTranscript(audienceOf(request), request.ResponseURI, request.Nonce, mdocGeneratedNonce)
		if err != nil {
			return "", "", err
		}
		params.Transcript = transcript
	} else {
		// Legacy path: no apu is available, the device signs the bare nonce.
		params.Nonce = request.Nonce
	}

	response, err := mdoc.BuildDeviceResponse(h.Provider, params)
	if err != nil {
		return "", "", err
	}
	encoded, err := mdoc.EncodeDeviceResponse(response)
	if err != nil {
		return "", "", err
	}
	return base64.RawURLEncoding.EncodeToString(encoded), mdocGeneratedNonce, nil
}
