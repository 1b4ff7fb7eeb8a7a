package mdoc

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MSOVersion is the MobileSecurityObject version this engine emits.
const MSOVersion = "1.0"

// DeviceResponseVersion is the DeviceResponse version this engine emits.
const DeviceResponseVersion = "1.0"

// DigestAlgorithm names the MSO digest algorithm.
type DigestAlgorithm string

// Digest algorithms permitted by ISO 18013-5 §9.1.2.
const (
	DigestSHA256 DigestAlgorithm = "SHA-256"
	DigestSHA384 DigestAlgorithm = "SHA-384"
	DigestSHA512 DigestAlgorithm = "SHA-512"
)

func (d DigestAlgorithm) providerName() string {
	switch d {
	case DigestSHA384:
		return "sha-384"
	case DigestSHA512:
		return "sha-512"
	default:
		return "sha-256"
	}
}

// IssuerSignedItem is one attested claim: its digest slot, anti-correlation randomness,
// and the claim itself. Serialized as `bstr .cbor` tag 24; the MSO digests those
// exact bytes.
type IssuerSignedItem struct {
	DigestID          uint32 `cbor:"digestID"`
	Random            []byte `cbor:"random"`
	ElementIdentifier string `cbor:"elementIdentifier"`
	ElementValue      any    `cbor:"elementValue"`
}

// IssuerSigned is the issuer-attested half of a Document: per-namespace item lists plus
// the issuerAuth COSE_Sign1 over the MSO.
type IssuerSigned struct {
	NameSpaces map[string][]EncodedCBORBytes `cbor:"nameSpaces,omitempty"`
	IssuerAuth cbor.RawMessage               `cbor:"issuerAuth"`
}

// ValidityInfo is the MSO's validity window.
type ValidityInfo struct {
	Signed         TDate `cbor:"signed"`
	ValidFrom      TDate `cbor:"validFrom"`
	ValidUntil     TDate `cbor:"validUntil"`
	ExpectedUpdate TDate `cbor:"expectedUpdate,omitempty"`
}

// KeyAuthorizations limits which namespaces/elements the device key may sign for.
type KeyAuthorizations struct {
	NameSpaces   []string            `cbor:"nameSpaces,omitempty"`
	DataElements map[string][]string `cbor:"dataElements,omitempty"`
}

// DeviceKeyInfo carries the holder's device public key inside the MSO.
type DeviceKeyInfo struct {
	DeviceKey         COSEKey            `cbor:"deviceKey"`
	KeyAuthorizations *KeyAuthorizations `cbor:"keyAuthorizations,omitempty"`
	KeyInfo           map[int64]any      `cbor:"keyInfo,omitempty"`
}

// MobileSecurityObject is the issuer's signed commitment to a document's items.
type MobileSecurityObject struct {
	Version         string                       `cbor:"version"`
	DigestAlgorithm DigestAlgorithm              `cbor:"digestAlgorithm"`
	ValueDigests    map[string]map[uint32][]byte `cbor:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo                `cbor:"deviceKeyInfo"`
	DocType         string                       `cbor:"docType"`
	ValidityInfo    ValidityInfo                 `cbor:"validityInfo"`
}

// DeviceAuth holds exactly one of a device signature or a device MAC.
type DeviceAuth struct {
	DeviceSignature cbor.RawMessage `cbor:"deviceSignature,omitempty"`
	DeviceMac       cbor.RawMessage `cbor:"deviceMac,omitempty"`
}

// DeviceSigned is the holder-attested half of a Document: self-asserted namespaces (tag
// 24 wrapped) plus the device authentication over them.
type DeviceSigned struct {
	NameSpaces EncodedCBORBytes `cbor:"nameSpaces"`
	DeviceAuth DeviceAuth       `cbor:"deviceAuth"`
}

// Document pairs issuer-signed and device-signed content for one docType.
type Document struct {
	DocType      string          `cbor:"docType"`
	IssuerSigned IssuerSigned    `cbor:"issuerSigned"`
	DeviceSigned *DeviceSigned   `cbor:"deviceSigned,omitempty"`
	Errors       map[string]uint `cbor:"errors,omitempty"`
}

// DeviceResponse is the holder-to-verifier bundle of presented documents.
type DeviceResponse struct {
	Version        string           `cbor:"version"`
	Documents      []Document       `cbor:"documents,omitempty"`
	DocumentErrors []map[string]int `cbor:"documentErrors,omitempty"`
	Status         uint             `cbor:"status"`
}

// StatusOK is the DeviceResponse status code for success.
const StatusOK uint = 0

// ItemsRequest names the elements a verifier wants from one docType. The bool per element
// is intentToRetain.
type ItemsRequest struct {
	DocType     string                     `cbor:"docType"`
	NameSpaces  map[string]map[string]bool `cbor:"nameSpaces"`
	RequestInfo map[string]any             `cbor:"requestInfo,omitempty"`
}

// EncodeDeviceResponse serializes response as deterministic CBOR.
func EncodeDeviceResponse(response *DeviceResponse) ([]byte, error) {
	return Marshal(response)
}

// DecodeDeviceResponse parses a CBOR DeviceResponse.
func DecodeDeviceResponse(data []byte) (*DeviceResponse, error) {
	var response DeviceResponse
	if err := Unmarshal(data, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// rfc3339 renders t the way ValidityInfo carries instants.
func rfc3339(t time.Time) TDate {
	return TDate(t.UTC().Format(time.RFC3339))
}

// parseTDate is the inverse of rfc3339.
func parseTDate(d TDate) (time.Time, error) {
	return time.Parse(time.RFC3339, string(d))
}
