package mdoc

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

// SessionKeys are the per-direction HMAC keys derived for deviceMac authentication:
// SKDevice authenticates holder-to-verifier messages, SKReader the reverse (ISO 18013-5
// §9.1.1.5 labels).
type SessionKeys struct {
	SKDevice []byte
	SKReader []byte
}

// DeriveSessionKeys runs ECDH between own private key and the peer's public key, then
// expands the shared secret through HKDF-SHA256 salted with the session transcript.
// Both sides derive the same pair; which key signs depends on direction.
func DeriveSessionKeys(own cryptoprovider.Provider, peer *ecdsa.PublicKey, sessionTranscript []byte) (*SessionKeys, error) {
	if len(sessionTranscript) == 0 {
		return nil, errs.New(errs.UsageError, "session transcript is required for key derivation")
	}
	shared, err := own.ECDH(peer)
	if err != nil {
		return nil, err
	}

	skDevice, err := hkdfExpand(shared, sessionTranscript, []byte("SKDevice"))
	if err != nil {
		return nil, err
	}
	skReader, err := hkdfExpand(shared, sessionTranscript, []byte("SKReader"))
	if err != nil {
		return nil, err
	}
	return &SessionKeys{SKDevice: skDevice, SKReader: skReader}, nil
}

func hkdfExpand(secret, salt, info []byte) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "hkdf expand")
	}
	return out, nil
}

// SignDeviceMac is the deviceMac alternative to SignDeviceAuth: the DeviceAuthentication
// payload is authenticated with the SKDevice session key instead of a signature.
func SignDeviceMac(sessionKey []byte, transcript []byte, docType string, deviceClaims map[string]any) (*DeviceSigned, error) {
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
	mac, err := MacCOSE(sessionKey, payload, nil, true)
	if err != nil {
		return nil, err
	}
	macRaw, err := Marshal(mac)
	if err != nil {
		return nil, err
	}
	return &DeviceSigned{
		NameSpaces: nameSpaces,
		DeviceAuth: DeviceAuth{DeviceMac: macRaw},
	}, nil
}
