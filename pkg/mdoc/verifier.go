package mdoc

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/x5c"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// SessionBinding carries what the verifier knows about the OpenID4VP exchange, for
// recomputing the session transcript. An empty MdocGeneratedNonce selects the legacy
// bare-nonce binding: the response was not encrypted, so no apu was available.
type SessionBinding struct {
	ClientID           string
	ResponseURI        string
	Nonce              string
	MdocGeneratedNonce string
}

// VerifyOptions configures VerifyDeviceResponse.
type VerifyOptions struct {
	// TrustAnchors validate the issuerAuth x5chain. Empty means trust the chain as
	// presented (tests with self-signed DS certificates).
	TrustAnchors []*x509.Certificate

	// IssuerKey is the fallback issuer public key when issuerAuth carries no x5chain.
	IssuerKey crypto.PublicKey

	Now    time.Time
	Leeway time.Duration

	// AllowLegacyDeviceBinding admits the bare-nonce device signature when no
	// mdoc_generated_nonce is available. Off unless the deployment explicitly opts in.
	AllowLegacyDeviceBinding bool

	// SessionKey is the derived SKDevice key for documents authenticated with a
	// deviceMac instead of a device signature.
	SessionKey []byte

	// SkipDeviceAuth verifies issuer signatures and digests only; for flows where the
	// document was retrieved without a live device (e.g. issuance-time checks).
	SkipDeviceAuth bool
}

// VerifiedDocument is one document's verification outcome: the authenticated claims,
// decoded per the engine's registry.
type VerifiedDocument struct {
	DocType           string
	Claims            map[string]map[string]any
	MSO               MobileSecurityObject
	IssuerCertificate *x509.Certificate // leaf of issuerAuth x5chain, when present
}

// VerifyDeviceResponse verifies every document of response: issuerAuth
// COSE signature against the trust anchors or the fallback key, the MSO validity window,
// per-item digest equality against valueDigests, and the device authentication bound to
// session. Documents are independent; the first failing check fails the call because a
// DeviceResponse is one holder's single presentation, not an aggregate of descriptors.
func (e *Engine) VerifyDeviceResponse(response *DeviceResponse, session SessionBinding, opt VerifyOptions) ([]VerifiedDocument, error) {
	if response == nil || len(response.Documents) == 0 {
		return nil, errs.New(errs.InvalidStructure, "device response has no documents")
	}

	var out []VerifiedDocument
	for i := range response.Documents {
		doc := &response.Documents[i]
		verified, err := e.verifyDocument(doc, session, opt)
		if err != nil {
			return nil, err
		}
		out = append(out, *verified)
	}
	return out, nil
}

func (e *Engine) verifyDocument(doc *Document, session SessionBinding, opt VerifyOptions) (*VerifiedDocument, error) {
	var issuerAuth COSESign1
	if err := Unmarshal(doc.IssuerSigned.IssuerAuth, &issuerAuth); err != nil {
		return nil, err
	}

	issuerKey, leaf, err := resolveIssuerKey(&issuerAuth, opt)
	if err != nil {
		return nil, err
	}
	if err := VerifyCOSE(e.provider, &issuerAuth, nil, issuerKey, nil); err != nil {
		return nil, err
	}

	var msoBytes EncodedCBORBytes
	if err := Unmarshal(issuerAuth.Payload, &msoBytes); err != nil {
		return nil, err
	}
	var mso MobileSecurityObject
	if err := UnwrapEncodedCBOR(msoBytes, &mso); err != nil {
		return nil, err
	}

	if mso.DocType != doc.DocType {
		return nil, errs.Newf(errs.InvalidStructure, "docType mismatch: document %q, mso %q", doc.DocType, mso.DocType)
	}
	if err := checkValidity(mso.ValidityInfo, opt.Now, opt.Leeway); err != nil {
		return nil, err
	}

	claims, err := e.verifyItemDigests(doc, &mso)
	if err != nil {
		return nil, err
	}

	if !opt.SkipDeviceAuth {
		if err := e.verifyDeviceBinding(doc, &mso, session, opt); err != nil {
			return nil, err
		}
	}

	return &VerifiedDocument{
		DocType:           doc.DocType,
		Claims:            claims,
		MSO:               mso,
		IssuerCertificate: leaf,
	}, nil
}

func resolveIssuerKey(issuerAuth *COSESign1, opt VerifyOptions) (crypto.PublicKey, *x509.Certificate, error) {
	chainDER, err := issuerAuth.X5Chain()
	if err != nil {
		return nil, nil, err
	}
	if len(chainDER) > 0 {
		chain, err := x5c.ParseDERChain(chainDER)
		if err != nil {
			return nil, nil, err
		}
		if err := x5c.Verify(chain, opt.TrustAnchors); err != nil {
			return nil, nil, err
		}
		return chain[0].PublicKey, chain[0], nil
	}
	if opt.IssuerKey == nil {
		return nil, nil, errs.New(errs.UnknownKey, "issuerAuth has no x5chain and no issuer key was configured")
	}
	return opt.IssuerKey, nil, nil
}

func checkValidity(v ValidityInfo, now time.Time, leeway time.Duration) error {
	validFrom, err := parseTDate(v.ValidFrom)
	if err != nil {
		return errs.Wrap(errs.ParseError, err, "parse validFrom")
	}
	validUntil, err := parseTDate(v.ValidUntil)
	if err != nil {
		return errs.Wrap(errs.ParseError, err, "parse validUntil")
	}
	if !timeutil.Valid(now, validFrom, validUntil, leeway) {
		return errs.New(errs.ExpiredOrNotYetValid, "mso outside validity window")
	}
	return nil
}

// verifyItemDigests re-digests every presented item (the digest of its tag-24 encoding)
// and checks it against valueDigests[ns][digestID].
func (e *Engine) verifyItemDigests(doc *Document, mso *MobileSecurityObject) (map[string]map[string]any, error) {
	claims := map[string]map[string]any{}
	for ns, items := range doc.IssuerSigned.NameSpaces {
		digests, ok := mso.ValueDigests[ns]
		if !ok {
			return nil, errs.Newf(errs.InvalidStructure, "namespace %q not committed in mso", ns)
		}
		for _, itemBytes := range items {
			var item IssuerSignedItem
			if err := UnwrapEncodedCBOR(itemBytes, &item); err != nil {
				return nil, err
			}
			if len(item.Random) < randomLen {
				return nil, errs.Newf(errs.InvalidStructure, "item %q random shorter than %d bytes", item.ElementIdentifier, randomLen)
			}

			expected, ok := digests[item.DigestID]
			if !ok {
				return nil, errs.Newf(errs.InvalidStructure, "digestID %d not committed for namespace %q", item.DigestID, ns)
			}
			tag24, err := Marshal(itemBytes)
			if err != nil {
				return nil, err
			}
			actual, err := e.provider.Digest(mso.DigestAlgorithm.providerName(), tag24)
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(expected, actual) {
				return nil, errs.Newf(errs.InvalidSignature, "digest mismatch for %s/%s", ns, item.ElementIdentifier)
			}

			value := item.ElementValue
			if codec := e.registry.Lookup(ns, item.ElementIdentifier); codec != nil {
				value, err = codec.DecodeClaim(value)
				if err != nil {
					return nil, err
				}
			}
			if claims[ns] == nil {
				claims[ns] = map[string]any{}
			}
			claims[ns][item.ElementIdentifier] = value
		}
	}
	return claims, nil
}

func (e *Engine) verifyDeviceBinding(doc *Document, mso *MobileSecurityObject, session SessionBinding, opt VerifyOptions) error {
	deviceKey, err := mso.DeviceKeyInfo.DeviceKey.PublicKey()
	if err != nil {
		return err
	}

	if session.MdocGeneratedNonce == "" {
		if !opt.AllowLegacyDeviceBinding {
			return errs.New(errs.UsageError, "no mdoc_generated_nonce and legacy device binding is disabled")
		}
		return VerifyDeviceNonce(e.provider, doc, deviceKey, session.Nonce)
	}

	transcript, err := OID4VPSessionTranscript(session.ClientID, session.ResponseURI, session.Nonce, session.MdocGeneratedNonce)
	if err != nil {
		return err
	}
	return VerifyDeviceAuth(e.provider, doc, deviceKey, transcript, opt.SessionKey)
}
