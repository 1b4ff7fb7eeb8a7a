package openid4vp

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/telemetry"
	"github.com/sunet/vcengine/internal/x5c"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/keymaterial"
	"github.com/sunet/vcengine/pkg/store"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// RequestMode selects how the authentication request reaches the wallet.
type RequestMode int

const (
	// ModeQuery carries the plain parameters on the URL. Forbidden for schemes that
	// require signed requests.
	ModeQuery RequestMode = iota

	// ModeByReference puts client_id and request_uri on the URL; the URI serves the
	// plain request JSON.
	ModeByReference

	// ModeSignedByValue carries the signed JAR in the `request` URL parameter.
	ModeSignedByValue

	// ModeSignedByReference puts client_id and request_uri on the URL; the URI serves
	// the signed JAR.
	ModeSignedByReference
)

// Verifier is the relying-party protocol core: it constructs authentication requests,
// tracks state→request and outstanding nonces, and validates authorization responses.
// Safe for concurrent protocol runs; each run is keyed by its own state.
type Verifier struct {
	provider cryptoprovider.Provider
	keys     *keymaterial.KeyMaterial
	scheme   ClientIDScheme
	metadata *ClientMetadata

	requests       *store.Map[string, AuthenticationRequestParameters]
	nonces         *store.NonceService
	requestObjects *store.Map[string, servedRequestObject]
	ephemeralKeys  *EphemeralKeyCache

	requestURIBase string
	clock          timeutil.TimeProvider
	leeway         time.Duration
	log            *telemetry.Log
}

// servedRequestObject is one entry behind GET request_uri: either a signed JAR or plain
// request JSON, with its media type.
type servedRequestObject struct {
	ContentType string
	Body        string
}

// Media types served from request_uri.
const (
	ContentTypeJAR         = "application/oauth-authz-req+jwt"
	ContentTypeRequestJSON = "application/json"
)

// VerifierConfig configures New.
type VerifierConfig struct {
	Provider cryptoprovider.Provider
	Keys     *keymaterial.KeyMaterial
	Scheme   ClientIDScheme
	Metadata *ClientMetadata

	// RequestURIBase prefixes generated request_uri values, e.g.
	// "https://verifier.example/request".
	RequestURIBase string

	StateTTL time.Duration
	NonceTTL time.Duration
	Leeway   time.Duration
	Clock    timeutil.TimeProvider
	Log      *telemetry.Log
}

// New builds a Verifier and starts its stores.
func New(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Provider == nil || cfg.Keys == nil {
		return nil, errs.New(errs.UsageError, "provider and keys are required")
	}
	if cfg.Scheme.ClientID == "" {
		return nil, errs.New(errs.UsageError, "client identifier scheme is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Verifier{
		provider:       cfg.Provider,
		keys:           cfg.Keys,
		scheme:         cfg.Scheme,
		metadata:       cfg.Metadata,
		requests:       store.NewMap[string, AuthenticationRequestParameters](cfg.StateTTL),
		nonces:         store.NewNonceService(cfg.NonceTTL),
		requestObjects: store.NewMap[string, servedRequestObject](cfg.StateTTL),
		ephemeralKeys:  NewEphemeralKeyCache(cfg.StateTTL),
		requestURIBase: cfg.RequestURIBase,
		clock:          clock,
		leeway:         cfg.Leeway,
		log:            cfg.Log,
	}, nil
}

// Close stops the verifier's background eviction.
func (v *Verifier) Close() {
	v.requests.Stop()
	v.nonces.Stop()
	v.requestObjects.Stop()
	v.ephemeralKeys.Stop()
}

// CreateRequestInput configures one authentication request.
type CreateRequestInput struct {
	Mode         RequestMode
	ResponseType string // defaults to vp_token
	ResponseMode string // defaults to fragment
	RedirectURI  string
	ResponseURI  string

	PresentationDefinition *PresentationDefinition

	// Encrypt asks for an encrypted direct_post.jwt response: a fresh ephemeral ECDH
	// key is generated and offered through client_metadata.jwks.
	Encrypt       bool
	EncryptionAlg string // content encryption, defaults to A256GCM
}

// CreatedRequest is the outcome of CreateRequest: the wallet-facing URL plus everything
// the verifier recorded for the run.
type CreatedRequest struct {
	// URL is the authorization request URL handed to the wallet (rendered as a QR code
	// for cross-device flows).
	URL string

	// Params is the full request parameter set, also recorded under State.
	Params AuthenticationRequestParameters

	// RequestObjectJWS is the signed JAR for the signed modes, empty otherwise.
	RequestObjectJWS string

	// RequestURI is where the request object is served for the by-reference modes.
	RequestURI string

	State string
	Nonce string
}

// CreateRequest constructs an authentication request in the selected mode,
// drawing a fresh nonce and state and recording both before anything leaves the
// verifier (request creation happens-before response validation).
func (v *Verifier) CreateRequest(in CreateRequestInput) (*CreatedRequest, error) {
	responseType := in.ResponseType
	if responseType == "" {
		responseType = ResponseTypeVPToken
	}
	responseMode := in.ResponseMode
	if responseMode == "" {
		responseMode = ResponseModeFragment
	}
	if err := v.scheme.checkModeCompatibility(in.Mode, responseMode); err != nil {
		return nil, err
	}
	if (responseMode == ResponseModeDirectPost || responseMode == ResponseModeDirectPostJWT) && in.ResponseURI == "" {
		return nil, errs.New(errs.UsageError, "direct_post requires a response_uri")
	}
	if (responseMode == ResponseModeFragment || responseMode == ResponseModeQuery) && in.RedirectURI == "" {
		return nil, errs.Newf(errs.UsageError, "%s requires a redirect_uri", responseMode)
	}
	if in.Encrypt && responseMode != ResponseModeDirectPostJWT {
		return nil, errs.New(errs.UsageError, "encryption requires response_mode direct_post.jwt")
	}

	nonce := v.nonces.New()
	state := uuid.NewString()

	params := AuthenticationRequestParameters{
		ResponseType: responseType,
		ClientID:     v.scheme.PrefixedClientID(),
		Nonce:        nonce,
		State:        state,
		ResponseMode: responseMode,
		RedirectURI:  in.RedirectURI,
		ResponseURI:  in.ResponseURI,
		PresentationDefinition: in.PresentationDefinition,
		Issuer:       v.scheme.ClientID,
		Audience:     "https://self-issued.me/v2",
		IssuedAt:     v.clock.Now().Unix(),
	}
	if responseType != ResponseTypeVPToken {
		params.Scope = "openid"
	}

	metadata := v.metadata
	if in.Encrypt {
		enc := in.EncryptionAlg
		if enc == "" {
			enc = "A256GCM"
		}
		withKeys, err := v.encryptionMetadata(enc)
		if err != nil {
			return nil, err
		}
		metadata = withKeys
	}
	params.ClientMetadata = metadata

	v.requests.Put(state, params)

	out := &CreatedRequest{Params: params, State: state, Nonce: nonce}
	switch in.Mode {
	case ModeQuery:
		u, err := requestURLFromParams(params)
		if err != nil {
			return nil, err
		}
		out.URL = u
	case ModeByReference:
		body, err := json.Marshal(params)
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "marshal request parameters")
		}
		out.RequestURI = v.storeRequestObject(ContentTypeRequestJSON, string(body))
		out.URL = referenceURL(params.ClientID, out.RequestURI)
	case ModeSignedByValue:
		jar, err := v.signRequestObject(params)
		if err != nil {
			return nil, err
		}
		out.RequestObjectJWS = jar
		out.URL = "openid4vp://?" + url.Values{
			"client_id": {params.ClientID},
			"request":   {jar},
		}.Encode()
	case ModeSignedByReference:
		jar, err := v.signRequestObject(params)
		if err != nil {
			return nil, err
		}
		out.RequestObjectJWS = jar
		out.RequestURI = v.storeRequestObject(ContentTypeJAR, jar)
		out.URL = referenceURL(params.ClientID, out.RequestURI)
	default:
		return nil, errs.Newf(errs.UsageError, "unknown request mode %d", in.Mode)
	}

	if v.log != nil {
		v.log.Debug("created authentication request", "state", state, "mode", int(in.Mode))
	}
	return out, nil
}

// ServeRequestObject resolves a previously stored request_uri id, the body behind
// GET request_uri. The HTTP layer itself is out of scope; this returns what it
// would serve.
func (v *Verifier) ServeRequestObject(id string) (contentType, body string, err error) {
	entry, ok := v.requestObjects.Get(id)
	if !ok {
		return "", "", errs.Newf(errs.FetchError, "unknown request_uri id %q", id)
	}
	return entry.ContentType, entry.Body, nil
}

func (v *Verifier) storeRequestObject(contentType, body string) string {
	id := shortuuid.New()
	v.requestObjects.Put(id, servedRequestObject{ContentType: contentType, Body: body})
	base := v.requestURIBase
	if base == "" {
		base = "urn:request"
	}
	return base + "/" + id
}

func referenceURL(clientID, requestURI string) string {
	return "openid4vp://?" + url.Values{
		"client_id":   {clientID},
		"request_uri": {requestURI},
	}.Encode()
}

// requestURLFromParams renders the unsigned query-mode URL.
func requestURLFromParams(params AuthenticationRequestParameters) (string, error) {
	values := url.Values{
		"response_type": {params.ResponseType},
		"client_id":     {params.ClientID},
		"nonce":         {params.Nonce},
	}
	if params.State != "" {
		values.Set("state", params.State)
	}
	if params.ResponseMode != "" {
		values.Set("response_mode", params.ResponseMode)
	}
	if params.RedirectURI != "" {
		values.Set("redirect_uri", params.RedirectURI)
	}
	if params.ResponseURI != "" {
		values.Set("response_uri", params.ResponseURI)
	}
	if params.Scope != "" {
		values.Set("scope", params.Scope)
	}
	if params.PresentationDefinition != nil {
		pd, err := json.Marshal(params.PresentationDefinition)
		if err != nil {
			return "", errs.Wrap(errs.UsageError, err, "marshal presentation_definition")
		}
		values.Set("presentation_definition", string(pd))
	}
	if params.ClientMetadata != nil {
		cm, err := json.Marshal(params.ClientMetadata)
		if err != nil {
			return "", errs.Wrap(errs.UsageError, err, "marshal client_metadata")
		}
		values.Set("client_metadata", string(cm))
	}
	return "openid4vp://?" + values.Encode(), nil
}

// signRequestObject builds the JAR: the parameter set as JWT claims, signed with
// the verifier's key, carrying the scheme's proof in the JOSE header (x5c chain for
// x509_san_dns, the attestation JWT for verifier_attestation).
func (v *Verifier) signRequestObject(params AuthenticationRequestParameters) (string, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal request parameters")
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(paramsJSON, &claims); err != nil {
		return "", errs.Wrap(errs.UsageError, err, "request parameters to claims")
	}

	ecKey, ok := v.keys.Private.(*ecdsa.PrivateKey)
	if !ok {
		return "", errs.New(errs.UsageError, "request signing requires an ECDSA key")
	}
	method, err := signingMethodFor(v.provider.Alg())
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["typ"] = "oauth-authz-req+jwt"
	switch v.scheme.Kind {
	case SchemeCertificateSanDns:
		if len(v.scheme.Chain) == 0 {
			return "", errs.New(errs.UsageError, "x509_san_dns requires a certificate chain")
		}
		token.Header["x5c"] = x5c.EncodeChain(v.scheme.Chain)
	case SchemeVerifierAttestation:
		if v.scheme.AttestationJWT == "" {
			return "", errs.New(errs.UsageError, "verifier_attestation requires an attestation jwt")
		}
		token.Header["jwt"] = v.scheme.AttestationJWT
	default:
		token.Header["kid"] = v.keys.ID
	}

	signed, err := token.SignedString(ecKey)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "sign request object")
	}
	return signed, nil
}

func signingMethodFor(alg cryptoprovider.Alg) (jwt.SigningMethod, error) {
	switch alg {
	case cryptoprovider.ES256:
		return jwt.SigningMethodES256, nil
	case cryptoprovider.ES384:
		return jwt.SigningMethodES384, nil
	case cryptoprovider.ES512:
		return jwt.SigningMethodES512, nil
	default:
		return nil, errs.Newf(errs.UsageError, "no JWT signing method for %s", alg)
	}
}

// encryptionMetadata clones the verifier's client metadata with a fresh ephemeral
// encryption key in jwks and the encrypted-response parameters set.
func (v *Verifier) encryptionMetadata(enc string) (*ClientMetadata, error) {
	_, publicJWK, err := v.ephemeralKeys.GenerateAndStore()
	if err != nil {
		return nil, err
	}

	out := &ClientMetadata{}
	if v.metadata != nil {
		*out = *v.metadata
	}
	out.JWKS = &JWKSet{Keys: []map[string]any{publicJWK}}
	out.AuthorizationEncryptedResponseAlg = "ECDH-ES"
	out.AuthorizationEncryptedResponseEnc = enc
	return out, nil
}
