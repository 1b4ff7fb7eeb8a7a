package mdoc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/model"
)

const testDocType = "eu.europa.ec.eudi.pid.1"
const testNamespace = "eu.europa.ec.eudi.pid.1"

func newProvider(t *testing.T) cryptoprovider.Provider {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p, err := cryptoprovider.NewSoftware(key)
	require.NoError(t, err)
	return p
}

func issueTestDocument(t *testing.T, issuer, device cryptoprovider.Provider) *IssuedDocument {
	t.Helper()
	engine := NewEngine(issuer, nil)
	doc, err := engine.Issue(IssueParams{
		DocType: testDocType,
		Claims: model.NamespacedClaims{
			testNamespace: model.ClaimSet{
				"given_name":  "Erika",
				"family_name": "Mustermann",
				"age_over_18": true,
			},
		},
		DeviceKey:  device.PublicKey(),
		Signed:     time.Now(),
		ValidFrom:  time.Now().Add(-time.Minute),
		ValidUntil: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return doc
}

func TestIssueCommitsEveryClaim(t *testing.T) {
	issuer, device := newProvider(t), newProvider(t)
	doc := issueTestDocument(t, issuer, device)

	require.Len(t, doc.IssuerSigned.NameSpaces[testNamespace], 3)
	assert.Len(t, doc.MSO.ValueDigests[testNamespace], 3)
	assert.Equal(t, MSOVersion, doc.MSO.Version)
	assert.Equal(t, DigestSHA256, doc.MSO.DigestAlgorithm)

	// digestIDs are monotonic within the namespace
	seen := map[uint32]bool{}
	for _, itemBytes := range doc.IssuerSigned.NameSpaces[testNamespace] {
		var item IssuerSignedItem
		require.NoError(t, UnwrapEncodedCBOR(itemBytes, &item))
		assert.False(t, seen[item.DigestID])
		seen[item.DigestID] = true
		assert.GreaterOrEqual(t, len(item.Random), 16)
	}
}

func TestEndToEndHandoverBinding(t *testing.T) {
	issuer, device, verifier := newProvider(t), newProvider(t), newProvider(t)
	issued := issueTestDocument(t, issuer, device)

	session := SessionBinding{
		ClientID:           "https://verifier.example/rp2",
		ResponseURI:        "https://verifier.example/cb",
		Nonce:              "n3",
		MdocGeneratedNonce: "mgn3",
	}

	selected, err := SelectItems(&issued.IssuerSigned, map[string][]string{
		testNamespace: {"age_over_18"},
	})
	require.NoError(t, err)

	transcript, err := OID4VPSessionTranscript(session.ClientID, session.ResponseURI, session.Nonce, session.MdocGeneratedNonce)
	require.NoError(t, err)

	response, err := BuildDeviceResponse(device, PresentParams{
		DocType:      testDocType,
		IssuerSigned: selected,
		Transcript:   transcript,
	})
	require.NoError(t, err)

	// wire round trip
	encoded, err := EncodeDeviceResponse(response)
	require.NoError(t, err)
	decoded, err := DecodeDeviceResponse(encoded)
	require.NoError(t, err)

	engine := NewEngine(verifier, nil)
	docs, err := engine.VerifyDeviceResponse(decoded, session, VerifyOptions{
		IssuerKey: issuer.PublicKey(),
		Now:       time.Now(),
		Leeway:    30 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	claims := docs[0].Claims[testNamespace]
	assert.Equal(t, true, claims["age_over_18"])
	_, disclosed := claims["given_name"]
	assert.False(t, disclosed, "non-selected claim must not appear")
}

func TestWrongNonceFailsDeviceAuth(t *testing.T) {
	issuer, device, verifier := newProvider(t), newProvider(t), newProvider(t)
	issued := issueTestDocument(t, issuer, device)

	transcript, err := OID4VPSessionTranscript("client", "uri", "n4", "mgn")
	require.NoError(t, err)
	response, err := BuildDeviceResponse(device, PresentParams{
		DocType:      testDocType,
		IssuerSigned: &issued.IssuerSigned,
		Transcript:   transcript,
	})
	require.NoError(t, err)

	engine := NewEngine(verifier, nil)
	_, err = engine.VerifyDeviceResponse(response, SessionBinding{
		ClientID:           "client",
		ResponseURI:        "uri",
		Nonce:              "4n", // reversed
		MdocGeneratedNonce: "mgn",
	}, VerifyOptions{IssuerKey: issuer.PublicKey(), Now: time.Now()})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestLegacyNonceBinding(t *testing.T) {
	issuer, device, verifier := newProvider(t), newProvider(t), newProvider(t)
	issued := issueTestDocument(t, issuer, device)

	response, err := BuildDeviceResponse(device, PresentParams{
		DocType:      testDocType,
		IssuerSigned: &issued.IssuerSigned,
		Nonce:        "bare-n5",
	})
	require.NoError(t, err)

	engine := NewEngine(verifier, nil)
	session := SessionBinding{Nonce: "bare-n5"}

	// rejected unless explicitly enabled
	_, err = engine.VerifyDeviceResponse(response, session, VerifyOptions{
		IssuerKey: issuer.PublicKey(), Now: time.Now(),
	})
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))

	docs, err := engine.VerifyDeviceResponse(response, session, VerifyOptions{
		IssuerKey:                issuer.PublicKey(),
		Now:                      time.Now(),
		AllowLegacyDeviceBinding: true,
	})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestTamperedItemFailsDigestCheck(t *testing.T) {
	issuer, device, verifier := newProvider(t), newProvider(t), newProvider(t)
	issued := issueTestDocument(t, issuer, device)

	// swap a value inside one item, keeping everything else intact
	items := issued.IssuerSigned.NameSpaces[testNamespace]
	var item IssuerSignedItem
	require.NoError(t, UnwrapEncodedCBOR(items[0], &item))
	item.ElementValue = "Max"
	forged, err := WrapEncodedCBOR(item)
	require.NoError(t, err)
	items[0] = forged

	transcript, err := OID4VPSessionTranscript("c", "u", "n", "m")
	require.NoError(t, err)
	response, err := BuildDeviceResponse(device, PresentParams{
		DocType:      testDocType,
		IssuerSigned: &issued.IssuerSigned,
		Transcript:   transcript,
	})
	require.NoError(t, err)

	engine := NewEngine(verifier, nil)
	_, err = engine.VerifyDeviceResponse(response, SessionBinding{
		ClientID: "c", ResponseURI: "u", Nonce: "n", MdocGeneratedNonce: "m",
	}, VerifyOptions{IssuerKey: issuer.PublicKey(), Now: time.Now()})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestExpiredMSO(t *testing.T) {
	issuer, device, verifier := newProvider(t), newProvider(t), newProvider(t)
	engine := NewEngine(issuer, nil)
	issued, err := engine.Issue(IssueParams{
		DocType:    testDocType,
		Claims:     model.NamespacedClaims{testNamespace: model.ClaimSet{"given_name": "Erika"}},
		DeviceKey:  device.PublicKey(),
		Signed:     time.Now().Add(-48 * time.Hour),
		ValidFrom:  time.Now().Add(-48 * time.Hour),
		ValidUntil: time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	transcript, err := OID4VPSessionTranscript("c", "u", "n", "m")
	require.NoError(t, err)
	response, err := BuildDeviceResponse(device, PresentParams{
		DocType: testDocType, IssuerSigned: &issued.IssuerSigned, Transcript: transcript,
	})
	require.NoError(t, err)

	ve := NewEngine(verifier, nil)
	_, err = ve.VerifyDeviceResponse(response, SessionBinding{
		ClientID: "c", ResponseURI: "u", Nonce: "n", MdocGeneratedNonce: "m",
	}, VerifyOptions{IssuerKey: issuer.PublicKey(), Now: time.Now()})
	require.Error(t, err)
	assert.Equal(t, errs.ExpiredOrNotYetValid, errs.KindOf(err))
}

func TestSessionTranscriptDeterministic(t *testing.T) {
	a, err := OID4VPSessionTranscript("client", "uri", "nonce", "mgn")
	require.NoError(t, err)
	b, err := OID4VPSessionTranscript("client", "uri", "nonce", "mgn")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := OID4VPSessionTranscript("client", "uri", "nonce", "other")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestRegistryCodecRoundTrip(t *testing.T) {
	issuer, device, verifier := newProvider(t), newProvider(t), newProvider(t)

	registry := NewTypeCodecRegistry()
	registry.Register(testNamespace, "birth_date", FullDateCodec{})

	engine := NewEngine(issuer, registry)
	issued, err := engine.Issue(IssueParams{
		DocType:    testDocType,
		Claims:     model.NamespacedClaims{testNamespace: model.ClaimSet{"birth_date": "1986-03-22"}},
		DeviceKey:  device.PublicKey(),
		Signed:     time.Now(),
		ValidFrom:  time.Now().Add(-time.Minute),
		ValidUntil: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	transcript, err := OID4VPSessionTranscript("c", "u", "n", "m")
	require.NoError(t, err)
	response, err := BuildDeviceResponse(device, PresentParams{
		DocType: testDocType, IssuerSigned: &issued.IssuerSigned, Transcript: transcript,
	})
	require.NoError(t, err)

	encoded, err := EncodeDeviceResponse(response)
	require.NoError(t, err)
	decoded, err := DecodeDeviceResponse(encoded)
	require.NoError(t, err)

	ve := NewEngine(verifier, registry)
	docs, err := ve.VerifyDeviceResponse(decoded, SessionBinding{
		ClientID: "c", ResponseURI: "u", Nonce: "n", MdocGeneratedNonce: "m",
	}, VerifyOptions{IssuerKey: issuer.PublicKey(), Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "1986-03-22", docs[0].Claims[testNamespace]["birth_date"])
}
