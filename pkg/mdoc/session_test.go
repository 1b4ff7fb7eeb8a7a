package mdoc

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKeysAgree(t *testing.T) {
	device, reader := newProvider(t), newProvider(t)

	transcript, err := OID4VPSessionTranscript("c", "u", "n", "m")
	require.NoError(t, err)

	deviceSide, err := DeriveSessionKeys(device, reader.PublicKey().(*ecdsa.PublicKey), transcript)
	require.NoError(t, err)
	readerSide, err := DeriveSessionKeys(reader, device.PublicKey().(*ecdsa.PublicKey), transcript)
	require.NoError(t, err)

	assert.Equal(t, deviceSide.SKDevice, readerSide.SKDevice)
	assert.Equal(t, deviceSide.SKReader, readerSide.SKReader)
	assert.NotEqual(t, deviceSide.SKDevice, deviceSide.SKReader)
}

func TestDeviceMacRoundTrip(t *testing.T) {
	issuer, device, reader := newProvider(t), newProvider(t), newProvider(t)
	issued := issueTestDocument(t, issuer, device)

	transcript, err := OID4VPSessionTranscript("c", "u", "n", "m")
	require.NoError(t, err)

	deviceKeys, err := DeriveSessionKeys(device, reader.PublicKey().(*ecdsa.PublicKey), transcript)
	require.NoError(t, err)

	deviceSigned, err := SignDeviceMac(deviceKeys.SKDevice, transcript, testDocType, nil)
	require.NoError(t, err)

	doc := &Document{
		DocType:      testDocType,
		IssuerSigned: issued.IssuerSigned,
		DeviceSigned: deviceSigned,
	}

	readerKeys, err := DeriveSessionKeys(reader, device.PublicKey().(*ecdsa.PublicKey), transcript)
	require.NoError(t, err)

	engine := NewEngine(reader, nil)
	_, err = engine.VerifyDeviceResponse(&DeviceResponse{
		Version:   DeviceResponseVersion,
		Documents: []Document{*doc},
		Status:    StatusOK,
	}, SessionBinding{ClientID: "c", ResponseURI: "u", Nonce: "n", MdocGeneratedNonce: "m"}, VerifyOptions{
		IssuerKey:  issuer.PublicKey(),
		Now:        time.Now(),
		SessionKey: readerKeys.SKDevice,
	})
	require.NoError(t, err)
}

func TestAvailableElements(t *testing.T) {
	issuer, device := newProvider(t), newProvider(t)
	issued := issueTestDocument(t, issuer, device)

	available, err := AvailableElements(&issued.IssuerSigned)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"given_name", "family_name", "age_over_18"},
		available[testNamespace])
}
