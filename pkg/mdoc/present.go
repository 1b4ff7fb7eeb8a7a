package mdoc

import (
	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

// SelectItems filters issuerSigned down to the requested elements:
// selective disclosure by inclusion. Namespaces with no surviving item are dropped.
// Non-presented digests stay committed in the MSO but their values never leave the
// holder.
func SelectItems(issuerSigned *IssuerSigned, requested map[string][]string) (*IssuerSigned, error) {
	if issuerSigned == nil {
		return nil, errs.New(errs.UsageError, "no issuerSigned to select from")
	}

	out := &IssuerSigned{
		NameSpaces: map[string][]EncodedCBORBytes{},
		IssuerAuth: issuerSigned.IssuerAuth,
	}

	for ns, wanted := range requested {
		available, ok := issuerSigned.NameSpaces[ns]
		if !ok {
			continue
		}
		wantedSet := map[string]bool{}
		for _, name := range wanted {
			wantedSet[name] = true
		}

		var kept []EncodedCBORBytes
		for _, itemBytes := range available {
			var item IssuerSignedItem
			if err := UnwrapEncodedCBOR(itemBytes, &item); err != nil {
				return nil, err
			}
			if wantedSet[item.ElementIdentifier] {
				kept = append(kept, itemBytes)
			}
		}
		if len(kept) > 0 {
			out.NameSpaces[ns] = kept
		}
	}

	return out, nil
}

// AvailableElements lists what issuerSigned can disclose, by namespace.
func AvailableElements(issuerSigned *IssuerSigned) (map[string][]string, error) {
	out := map[string][]string{}
	for ns, items := range issuerSigned.NameSpaces {
		for _, itemBytes := range items {
			var item IssuerSignedItem
			if err := UnwrapEncodedCBOR(itemBytes, &item); err != nil {
				return nil, err
			}
			out[ns] = append(out[ns], item.ElementIdentifier)
		}
	}
	return out, nil
}

// PresentParams configures BuildDeviceResponse.
type PresentParams struct {
	DocType      string
	IssuerSigned *IssuerSigned // already filtered through SelectItems
	Transcript   []byte        // CBOR SessionTranscript bytes; nil selects legacy binding
	Nonce        string        // verifier nonce, signed bare on the legacy path
}

// BuildDeviceResponse assembles a single-document DeviceResponse, signing the device
// authentication with the holder's device key. With a session transcript present the
// signature covers DeviceAuthentication; without one the device signs utf8(nonce)
// directly (the legacy unencrypted-response binding).
func BuildDeviceResponse(deviceProvider cryptoprovider.Provider, p PresentParams) (*DeviceResponse, error) {
	if p.IssuerSigned == nil {
		return nil, errs.New(errs.UsageError, "issuerSigned is required")
	}

	var deviceSigned *DeviceSigned
	var err error
	if p.Transcript != nil {
		deviceSigned, err = SignDeviceAuth(deviceProvider, p.Transcript, p.DocType, nil)
	} else {
		deviceSigned, err = SignDeviceNonce(deviceProvider, p.Nonce)
	}
	if err != nil {
		return nil, err
	}

	return &DeviceResponse{
		Version: DeviceResponseVersion,
		Documents: []Document{{
			DocType:      p.DocType,
			IssuerSigned: *p.IssuerSigned,
			DeviceSigned: deviceSigned,
		}},
		Status: StatusOK,
	}, nil
}
