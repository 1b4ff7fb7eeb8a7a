package mdoc

import (
	"crypto"
	"crypto/sha256"

	"github.com/fxamacker/cbor/v2"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

// OID4VPSessionTranscript computes the OpenID4VP handover session transcript:
//
//	SessionTranscript = [null, null, ["OID4VPHandover",
//	    sha256(cbor([client_id, mdoc_generated_nonce])),
//	    sha256(cbor([response_uri, mdoc_generated_nonce])),
//	    nonce]]
//
// returned as its CBOR encoding, the form every DeviceAuthentication embeds.
func OID4VPSessionTranscript(clientID, responseURI, nonce, mdocGeneratedNonce string) ([]byte, error) {
	clientIDToHash, err := Marshal([]any{clientID, mdocGeneratedNonce})
	if err != nil {
		return nil, err
	}
	responseURIToHash, err := Marshal([]any{responseURI, mdocGeneratedNonce})
	if err != nil {
		return nil, err
	}

	clientIDHash := sha256.Sum256(clientIDToHash)
	responseURIHash := sha256.Sum256(responseURIToHash)

	handover := []any{"OID4VPHandover", clientIDHash[:], responseURIHash[:], nonce}
	return Marshal([]any{nil, nil, handover})
}

// deviceAuthenticationBytes builds the detached COSE payload:
// tag-24(cbor(["DeviceAuthentication", sessionTranscript, docType, deviceNameSpacesBytes])).
func deviceAuthenticationBytes(transcript []byte, docType string, deviceNameSpaces EncodedCBORBytes) ([]byte, error) {
	auth := []any{
		"DeviceAuthentication",
		cbor.RawMessage(transcript),
		docType,
		deviceNameSpaces,
	}
	wrapped, err := WrapEncodedCBOR(auth)
	if err != nil {
		return nil, err
	}
	return Marshal(wrapped)
}

// SignDeviceAuth signs the DeviceAuthentication structure with the holder's device key,
// returning a DeviceSigned whose COSE_Sign1 carries a detached payload (the verifier
// recomputes it from the transcript).
func SignDeviceAuth(deviceProvider cryptoprovider.Provider, transcript []byte, docType string, deviceClaims map[string]any) (*DeviceSigned, error) {
	if len(transcript) == 0 {
		return nil, errs.New(errs.UsageError, "session transcript is required")
	}
	if deviceClaims == nil {
		deviceClaims = map[string]any{}
	}

	nameSpaces, err := WrapEncodedCBOR(deviceClaims)
	if err != nil {
		return nil, err
	}

	payload, err := deviceAuthenticationBytes(transcript, docType, nameSpaces)
	if err != nil {
		return nil, err
	}

	sig, err := SignCOSE(deviceProvider, payload, nil, nil, true)
	if err != nil {
		return nil, err
	}
	sigRaw, err := Marshal(sig)
	if err != nil {
		return nil, err
	}

	return &DeviceSigned{
		NameSpaces: nameSpaces,
		DeviceAuth: DeviceAuth{DeviceSignature: sigRaw},
	}, nil
}

// VerifyDeviceAuth recomputes the DeviceAuthentication payload and checks the device
// signature (or MAC, when sessionKey is non-nil) against the MSO's device key.
func VerifyDeviceAuth(provider cryptoprovider.Provider, doc *Document, deviceKey crypto.PublicKey, transcript []byte, sessionKey []byte) error {
	if doc.DeviceSigned == nil {
		return errs.New(errs.InvalidStructure, "document has no deviceSigned")
	}

	payload, err := deviceAuthenticationBytes(transcript, doc.DocType, doc.DeviceSigned.NameSpaces)
	if err != nil {
		return err
	}

	auth := doc.DeviceSigned.DeviceAuth
	switch {
	case len(auth.DeviceSignature) > 0:
		var sig COSESign1
		if err := Unmarshal(auth.DeviceSignature, &sig); err != nil {
			return err
		}
		return VerifyCOSE(provider, &sig, payload, deviceKey, nil)
	case len(auth.DeviceMac) > 0:
		if sessionKey == nil {
			return errs.New(errs.UsageError, "deviceMac present but no session key supplied")
		}
		var mac COSEMac0
		if err := Unmarshal(auth.DeviceMac, &mac); err != nil {
			return err
		}
		return VerifyMac0(&mac, sessionKey, payload, nil)
	default:
		return errs.New(errs.InvalidStructure, "deviceAuth carries neither signature nor mac")
	}
}

// SignDeviceNonce is the legacy unencrypted-response binding: the device signs
// utf8(nonce) as an attached COSE payload instead of a session transcript. Kept for
// backwards compatibility; encrypted responses with a real transcript are the norm.
func SignDeviceNonce(deviceProvider cryptoprovider.Provider, nonce string) (*DeviceSigned, error) {
	if nonce == "" {
		return nil, errs.New(errs.UsageError, "nonce is required for legacy device binding")
	}

	nameSpaces, err := WrapEncodedCBOR(map[string]any{})
	if err != nil {
		return nil, err
	}

	sig, err := SignCOSE(deviceProvider, []byte(nonce), nil, nil, false)
	if err != nil {
		return nil, err
	}
	sigRaw, err := Marshal(sig)
	if err != nil {
		return nil, err
	}

	return &DeviceSigned{
		NameSpaces: nameSpaces,
		DeviceAuth: DeviceAuth{DeviceSignature: sigRaw},
	}, nil
}

// VerifyDeviceNonce checks the legacy binding: the device signature's attached payload
// must equal utf8(nonce) and verify under the MSO device key.
func VerifyDeviceNonce(provider cryptoprovider.Provider, doc *Document, deviceKey crypto.PublicKey, nonce string) error {
	if doc.DeviceSigned == nil {
		return errs.New(errs.InvalidStructure, "document has no deviceSigned")
	}
	if len(doc.DeviceSigned.DeviceAuth.DeviceSignature) == 0 {
		return errs.New(errs.InvalidStructure, "legacy binding requires a deviceSignature")
	}

	var sig COSESign1
	if err := Unmarshal(doc.DeviceSigned.DeviceAuth.DeviceSignature, &sig); err != nil {
		return err
	}
	if string(sig.Payload) != nonce {
		return errs.New(errs.InvalidSignature, "device signature payload does not match nonce")
	}
	return VerifyCOSE(provider, &sig, nil, deviceKey, nil)
}
