package openid4vp

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/keymaterial"
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/sdjwt"
	"github.com/sunet/vcengine/pkg/timeutil"
	"github.com/sunet/vcengine/pkg/vcjwt"
)

func newAgent(t *testing.T) (*keymaterial.KeyMaterial, cryptoprovider.Provider) {
	t.Helper()
	keys, err := keymaterial.Generate("P-256")
	require.NoError(t, err)
	provider, err := cryptoprovider.NewSoftware(keys.Private)
	require.NoError(t, err)
	return keys, provider
}

func newVerifier(t *testing.T, scheme ClientIDScheme) *Verifier {
	t.Helper()
	keys, provider := newAgent(t)
	v, err := New(VerifierConfig{
		Provider: provider,
		Keys:     keys,
		Scheme:   scheme,
		Leeway:   30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func pidDefinition(format string) *PresentationDefinition {
	return &PresentationDefinition{
		ID: "pd-1",
		InputDescriptors: []InputDescriptor{{
			ID:     "descriptor-1",
			Format: map[string]Format{format: {Alg: []string{"ES256"}}},
			Constraints: Constraints{
				Fields: []Field{{Path: []string{"$.vc.credentialSubject.given-name"}}},
			},
		}},
	}
}

// A VC-JWT issued to a holder and presented over fragment response mode.
func TestVCJWTHappyPath(t *testing.T) {
	issuerKeys, issuerProvider := newAgent(t)
	holderKeys, _ := newAgent(t)

	v := newVerifier(t, PreRegistered("https://verifier.example/rp1", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:                   ModeQuery,
		ResponseMode:           ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: pidDefinition(FormatJWTVC),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.URL)

	now := time.Now()
	compact, err := vcjwt.Issue(issuerProvider, model.CredentialMeta{
		ID:        "urn:uuid:cred-1",
		Type:      model.TypeAtomicAttribute,
		Issuer:    issuerKeys.ID,
		Subject:   holderKeys.ID,
		NotBefore: timeutil.NewNumericDate(now),
		ExpiresAt: timeutil.NewNumericDate(now.Add(time.Hour)),
	}, model.CredentialSubject{ID: holderKeys.ID, Claims: model.ClaimSet{"given-name": "Erika"}})
	require.NoError(t, err)

	params, err := NewResponseBuilder(&created.Params, "pd-1").
		AddPresentation("descriptor-1", FormatJWTVC, compact).
		Build()
	require.NoError(t, err)

	redirectBack, err := EncodeForMode(params, &created.Params)
	require.NoError(t, err)
	parsed, err := ParseResponseURL(redirectBack, ResponseModeFragment)
	require.NoError(t, err)
	assert.Equal(t, created.State, parsed.State)

	result := v.ValidateResponse(parsed, ValidateDeps{
		IssuerFallback: issuerProvider.PublicKey(),
		HolderKeyID:    holderKeys.ID,
	})

	success, ok := result.(Success)
	require.True(t, ok, "expected Success, got %T", result)
	assert.Equal(t, created.State, success.State)
	assert.Equal(t, "Erika", success.VC.Claims.VC.CredentialSubject["given-name"])
	assert.False(t, success.IsRevoked)
}

// An SD-JWT with three disclosable claims, only age-over-18 presented.
func TestSDJWTSelectiveDisclosure(t *testing.T) {
	issuerKeys, issuerProvider := newAgent(t)
	_, holderProvider := newAgent(t)

	v := newVerifier(t, PreRegistered("https://verifier.example/rp1", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:                   ModeQuery,
		ResponseMode:           ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: pidDefinition(FormatSDJWTVC),
	})
	require.NoError(t, err)

	holderJWK, err := publicKeyToJWKMap(holderProvider.PublicKey())
	require.NoError(t, err)

	now := time.Now()
	issued, err := sdjwt.Issue(issuerProvider, sdjwt.IssueParams{
		Meta: model.CredentialMeta{
			Issuer:   issuerKeys.ID,
			IssuedAt: timeutil.NewNumericDate(now),
		},
		Claims: model.ClaimSet{
			"given-name":  "Erika",
			"family-name": "Mustermann",
			"age-over-18": true,
		},
		Selective: model.SelectiveDisclosureHint{
			"given-name": true, "family-name": true, "age-over-18": true,
		},
		HolderCnf: holderJWK,
		VCT:       model.TypeAtomicAttribute,
	})
	require.NoError(t, err)

	presentation, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"age-over-18"})
	require.NoError(t, err)
	kb, err := sdjwt.BuildKeyBinding(holderProvider, presentation, created.Nonce, "https://verifier.example/rp1", timeutil.NewNumericDate(now))
	require.NoError(t, err)
	presentation.KeyBinding = kb

	params, err := NewResponseBuilder(&created.Params, "pd-1").
		AddPresentation("descriptor-1", FormatSDJWTVC, presentation.Serialize()).
		Build()
	require.NoError(t, err)

	result := v.ValidateResponse(params, ValidateDeps{IssuerFallback: issuerProvider.PublicKey()})

	success, ok := result.(SuccessSdJwt)
	require.True(t, ok, "expected SuccessSdJwt, got %#v", result)
	require.Len(t, success.Disclosures, 1)
	assert.Equal(t, "age-over-18", success.Disclosures[0].ClaimName)
	assert.Equal(t, true, success.Claims["age-over-18"])
	_, hasGiven := success.Claims["given-name"]
	_, hasFamily := success.Claims["family-name"]
	assert.False(t, hasGiven)
	assert.False(t, hasFamily)
}

// A key-binding JWT over the wrong nonce fails descriptor validation.
func TestSDJWTWrongNonce(t *testing.T) {
	issuerKeys, issuerProvider := newAgent(t)
	_, holderProvider := newAgent(t)

	v := newVerifier(t, PreRegistered("https://verifier.example/rp1", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:                   ModeQuery,
		ResponseMode:           ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: pidDefinition(FormatSDJWTVC),
	})
	require.NoError(t, err)

	holderJWK, err := publicKeyToJWKMap(holderProvider.PublicKey())
	require.NoError(t, err)
	now := time.Now()
	issued, err := sdjwt.Issue(issuerProvider, sdjwt.IssueParams{
		Meta:      model.CredentialMeta{Issuer: issuerKeys.ID, IssuedAt: timeutil.NewNumericDate(now)},
		Claims:    model.ClaimSet{"age-over-18": true},
		Selective: model.SelectiveDisclosureHint{"age-over-18": true},
		HolderCnf: holderJWK,
	})
	require.NoError(t, err)

	presentation, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"age-over-18"})
	require.NoError(t, err)

	kb, err := sdjwt.BuildKeyBinding(holderProvider, presentation, reverse(created.Nonce), "https://verifier.example/rp1", timeutil.NewNumericDate(now))
	require.NoError(t, err)
	presentation.KeyBinding = kb

	params, err := NewResponseBuilder(&created.Params, "pd-1").
		AddPresentation("descriptor-1", FormatSDJWTVC, presentation.Serialize()).
		Build()
	require.NoError(t, err)

	result := v.ValidateResponse(params, ValidateDeps{IssuerFallback: issuerProvider.PublicKey()})
	ve, ok := result.(ValidationError)
	require.True(t, ok, "expected ValidationError, got %#v", result)
	assert.Equal(t, "vpToken", ve.Field)
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// An mdoc presented through an encrypted direct_post.jwt response; the
// mdoc_generated_nonce rides in the JWE apu and feeds the session transcript.
func TestMdocDirectPostJWT(t *testing.T) {
	_, issuerProvider := newAgent(t)
	_, deviceProvider := newAgent(t)

	v := newVerifier(t, PreRegistered("https://verifier.example/rp2", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:                   ModeQuery,
		ResponseMode:           ResponseModeDirectPostJWT,
		ResponseURI:            "https://verifier.example/cb",
		PresentationDefinition: pidDefinition(FormatMsoMdoc),
		Encrypt:                true,
	})
	require.NoError(t, err)
	require.NotNil(t, created.Params.ClientMetadata.JWKS)

	issuerEngine := mdoc.NewEngine(issuerProvider, nil)
	issued, err := issuerEngine.Issue(mdoc.IssueParams{
		DocType:    model.TypeIdentityCard,
		Claims:     model.NamespacedClaims{model.Namespace(model.TypeIdentityCard): model.ClaimSet{"given_name": "Erika"}},
		DeviceKey:  deviceProvider.PublicKey(),
		Signed:     time.Now(),
		ValidFrom:  time.Now().Add(-time.Minute),
		ValidUntil: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	const mdocGeneratedNonce = "mgn3"
	transcript, err := mdoc.OID4VPSessionTranscript("https://verifier.example/rp2", "https://verifier.example/cb", created.Nonce, mdocGeneratedNonce)
	require.NoError(t, err)

	deviceResponse, err := mdoc.BuildDeviceResponse(deviceProvider, mdoc.PresentParams{
		DocType:      model.TypeIdentityCard,
		IssuerSigned: &issued.IssuerSigned,
		Transcript:   transcript,
	})
	require.NoError(t, err)
	encoded, err := mdoc.EncodeDeviceResponse(deviceResponse)
	require.NoError(t, err)

	params, err := NewResponseBuilder(&created.Params, "pd-1").
		AddPresentation("descriptor-1", FormatMsoMdoc, base64.RawURLEncoding.EncodeToString(encoded)).
		Build()
	require.NoError(t, err)

	jwe, err := EncryptResponse(deviceProvider, params, &created.Params, mdocGeneratedNonce)
	require.NoError(t, err)

	unwrapped, err := v.UnwrapDirectPostJWT(jwe, nil)
	require.NoError(t, err)
	assert.Equal(t, mdocGeneratedNonce, unwrapped.MdocGeneratedNonce)

	verifierEngine := mdoc.NewEngine(v.provider, nil)
	result := v.ValidateResponse(unwrapped, ValidateDeps{
		Mdoc:        verifierEngine,
		MdocOptions: mdoc.VerifyOptions{IssuerKey: issuerProvider.PublicKey(), Now: time.Now(), Leeway: 30 * time.Second},
	})

	success, ok := result.(SuccessIso)
	require.True(t, ok, "expected SuccessIso, got %#v", result)
	require.Len(t, success.Documents, 1)
	assert.Equal(t, "Erika", success.Documents[0].Claims[model.TypeIdentityCard]["given_name"])
}

// Signed request by reference; the wallet verifies the JAR against the x5c
// leaf and rejects a SAN mismatch.
func TestSignedRequestByReference(t *testing.T) {
	keys, provider := newAgent(t)
	cert := selfSignedCert(t, keys.Private.(*ecdsa.PrivateKey), []string{"verifier.example"})

	v, err := New(VerifierConfig{
		Provider:       provider,
		Keys:           keys,
		Scheme:         CertificateSanDns("verifier.example", []*x509.Certificate{cert}),
		RequestURIBase: "https://verifier.example/request",
	})
	require.NoError(t, err)
	defer v.Close()

	created, err := v.CreateRequest(CreateRequestInput{
		Mode:         ModeSignedByReference,
		ResponseMode: ResponseModeDirectPost,
		ResponseURI:  "https://verifier.example/cb",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.RequestURI)

	// the wallet fetches the JAR from request_uri
	id := created.RequestURI[len("https://verifier.example/request/"):]
	contentType, body, err := v.ServeRequestObject(id)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJAR, contentType)

	_, holderProvider := newAgent(t)
	params, err := VerifyRequestObject(body, VerifyRequestObjectOptions{Provider: holderProvider})
	require.NoError(t, err)
	assert.Equal(t, "x509_san_dns:verifier.example", params.ClientID)
	assert.Equal(t, created.Nonce, params.Nonce)

	// SAN mismatch: same key, certificate for another name
	otherCert := selfSignedCert(t, keys.Private.(*ecdsa.PrivateKey), []string{"evil.example"})
	v2, err := New(VerifierConfig{
		Provider: provider,
		Keys:     keys,
		Scheme:   CertificateSanDns("verifier.example", []*x509.Certificate{otherCert}),
	})
	require.NoError(t, err)
	defer v2.Close()

	created2, err := v2.CreateRequest(CreateRequestInput{
		Mode:         ModeSignedByValue,
		ResponseMode: ResponseModeDirectPost,
		ResponseURI:  "https://verifier.example/cb",
	})
	require.NoError(t, err)
	_, err = VerifyRequestObject(created2.RequestObjectJWS, VerifyRequestObjectOptions{Provider: holderProvider})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidStructure, errs.KindOf(err))
}

func selfSignedCert(t *testing.T, key *ecdsa.PrivateKey, dns []string) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: dns[0]},
		DNSNames:              dns,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestUnknownStateRejected(t *testing.T) {
	v := newVerifier(t, PreRegistered("client", ""))
	result := v.ValidateResponse(&ResponseParameters{State: "never-created"}, ValidateDeps{})
	ve, ok := result.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "state", ve.Field)
}

func TestZeroDescriptorsRejected(t *testing.T) {
	v := newVerifier(t, PreRegistered("client", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:         ModeQuery,
		ResponseMode: ResponseModeFragment,
		RedirectURI:  "https://verifier.example/back",
	})
	require.NoError(t, err)

	result := v.ValidateResponse(&ResponseParameters{
		State:                  created.State,
		VPToken:                json.RawMessage(`"token"`),
		PresentationSubmission: &PresentationSubmission{ID: "s", DefinitionID: "d"},
	}, ValidateDeps{})
	ve, ok := result.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "presentation_submission", ve.Field)
}

func TestStateIsSingleUse(t *testing.T) {
	v := newVerifier(t, PreRegistered("client", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:         ModeQuery,
		ResponseMode: ResponseModeFragment,
		RedirectURI:  "https://verifier.example/back",
	})
	require.NoError(t, err)

	params := &ResponseParameters{State: created.State}
	first := v.ValidateResponse(params, ValidateDeps{})
	_, wasLookedUp := first.(ValidationError)
	require.True(t, wasLookedUp) // fails later than state lookup

	second := v.ValidateResponse(params, ValidateDeps{})
	ve, ok := second.(ValidationError)
	require.True(t, ok)
	assert.Equal(t, "state", ve.Field)
}

func TestSanDnsForbidsUnsignedModes(t *testing.T) {
	keys, provider := newAgent(t)
	cert := selfSignedCert(t, keys.Private.(*ecdsa.PrivateKey), []string{"verifier.example"})
	v, err := New(VerifierConfig{
		Provider: provider,
		Keys:     keys,
		Scheme:   CertificateSanDns("verifier.example", []*x509.Certificate{cert}),
	})
	require.NoError(t, err)
	defer v.Close()

	_, err = v.CreateRequest(CreateRequestInput{
		Mode:         ModeQuery,
		ResponseMode: ResponseModeDirectPost,
		ResponseURI:  "https://verifier.example/cb",
	})
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))

	// the plain (unsigned) request_uri variant is just as forbidden as query mode
	_, err = v.CreateRequest(CreateRequestInput{
		Mode:         ModeByReference,
		ResponseMode: ResponseModeDirectPost,
		ResponseURI:  "https://verifier.example/cb",
	})
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))

	_, err = v.CreateRequest(CreateRequestInput{
		Mode:         ModeSignedByValue,
		ResponseMode: ResponseModeFragment,
		RedirectURI:  "https://verifier.example/back",
	})
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))

	// verifier_attestation requests must be signed too
	va, err := New(VerifierConfig{
		Provider: provider,
		Keys:     keys,
		Scheme:   VerifierAttestation("https://verifier.example/rp1", "attestation.jwt.stub"),
	})
	require.NoError(t, err)
	defer va.Close()

	_, err = va.CreateRequest(CreateRequestInput{
		Mode:         ModeByReference,
		ResponseMode: ResponseModeDirectPost,
		ResponseURI:  "https://verifier.example/cb",
	})
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))
}

func TestParseClientIDBothDrafts(t *testing.T) {
	kind, id := ParseClientID("x509_san_dns:verifier.example", "")
	assert.Equal(t, SchemeCertificateSanDns, kind)
	assert.Equal(t, "verifier.example", id)

	kind, id = ParseClientID("verifier.example", "x509_san_dns")
	assert.Equal(t, SchemeCertificateSanDns, kind)
	assert.Equal(t, "verifier.example", id)

	kind, id = ParseClientID("plain-client", "")
	assert.Equal(t, SchemePreRegistered, kind)
	assert.Equal(t, "plain-client", id)
}

func TestClientMetadataAcceptsBothFieldNames(t *testing.T) {
	var current ClientMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"authorization_encrypted_response_alg":"ECDH-ES","authorization_encrypted_response_enc":"A256GCM"}`), &current))
	assert.Equal(t, "ECDH-ES", current.AuthorizationEncryptedResponseAlg)

	var deprecated ClientMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"authorizationEncryptedResponseAlgString":"ECDH-ES","authorizationEncryptedResponseEncString":"A128GCM"}`), &deprecated))
	assert.Equal(t, "ECDH-ES", deprecated.AuthorizationEncryptedResponseAlg)
	assert.Equal(t, "A128GCM", deprecated.AuthorizationEncryptedResponseEnc)

	out, err := json.Marshal(&current)
	require.NoError(t, err)
	assert.Contains(t, string(out), "authorization_encrypted_response_alg")
	assert.NotContains(t, string(out), "AlgString")
}

func TestRequestRoundTripThroughURL(t *testing.T) {
	v := newVerifier(t, PreRegistered("client-1", ""))
	created, err := v.CreateRequest(CreateRequestInput{
		Mode:                   ModeQuery,
		ResponseMode:           ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: pidDefinition(FormatJWTVC),
	})
	require.NoError(t, err)
	assert.Contains(t, created.URL, "client_id=client-1")
	assert.Contains(t, created.URL, "nonce="+created.Nonce)
}

func TestCumulativePath(t *testing.T) {
	d := PresentationSubmissionDescriptor{
		Path: "$[0]",
		PathNested: &PresentationSubmissionDescriptor{
			Path: "$.vp.verifiableCredential[0]",
		},
	}
	assert.Equal(t, "$[0].vp.verifiableCredential[0]", d.CumulativePath())
}
