package mdoc

import (
	"crypto"
	"sort"
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/model"
)

// randomLen is the per-item anti-correlation randomness.
const randomLen = 16

// Engine issues and verifies mdoc documents with one provider's identity key. The
// registry is consulted per (namespace, claim) when encoding and decoding element values;
// it is explicit state owned by the caller, populated before the first use.
type Engine struct {
	provider cryptoprovider.Provider
	registry *TypeCodecRegistry
}

// NewEngine builds an Engine. registry may be nil when no claim needs a custom codec.
func NewEngine(provider cryptoprovider.Provider, registry *TypeCodecRegistry) *Engine {
	return &Engine{provider: provider, registry: registry}
}

// IssueParams configures Issue.
type IssueParams struct {
	DocType    string
	Claims     model.NamespacedClaims
	DeviceKey  crypto.PublicKey // holder's device key, committed in deviceKeyInfo
	X5Chain    [][]byte         // issuer DS certificate chain (DER, leaf first), optional
	Signed     time.Time
	ValidFrom  time.Time
	ValidUntil time.Time
}

// IssuedDocument is the result of Issue: the full IssuerSigned (every item present) plus
// the parsed MSO for callers that track digest IDs.
type IssuedDocument struct {
	DocType      string
	IssuerSigned IssuerSigned
	MSO          MobileSecurityObject
}

// Issue builds an IssuerSigned: one IssuerSignedItem per claim, digestID
// monotonic within its namespace, fresh randomness per item, digests of the exact tag-24
// bytes collected into the MSO, which is signed as COSE_Sign1 with the MSO bytes tag-24
// wrapped as payload.
func (e *Engine) Issue(p IssueParams) (*IssuedDocument, error) {
	if p.DocType == "" {
		return nil, errs.New(errs.UsageError, "docType is required")
	}
	if len(p.Claims) == 0 {
		return nil, errs.New(errs.UsageError, "at least one namespace with claims is required")
	}

	deviceKey, err := NewCOSEKey(p.DeviceKey)
	if err != nil {
		return nil, err
	}

	nameSpaces := map[string][]EncodedCBORBytes{}
	valueDigests := map[string]map[uint32][]byte{}

	for _, ns := range sortedNamespaces(p.Claims) {
		claims := p.Claims[ns]
		var digestID uint32
		digests := map[uint32][]byte{}
		var items []EncodedCBORBytes

		for _, name := range claims.Names() {
			value := claims[name]
			if codec := e.registry.Lookup(string(ns), name); codec != nil {
				value, err = codec.EncodeClaim(value)
				if err != nil {
					return nil, err
				}
			}

			random, err := e.provider.Random(randomLen)
			if err != nil {
				return nil, err
			}

			item := IssuerSignedItem{
				DigestID:          digestID,
				Random:            random,
				ElementIdentifier: name,
				ElementValue:      value,
			}
			itemBytes, err := WrapEncodedCBOR(item)
			if err != nil {
				return nil, err
			}

			tag24, err := Marshal(itemBytes)
			if err != nil {
				return nil, err
			}
			digest, err := e.provider.Digest(DigestSHA256.providerName(), tag24)
			if err != nil {
				return nil, err
			}

			digests[digestID] = digest
			items = append(items, itemBytes)
			digestID++
		}

		nameSpaces[string(ns)] = items
		valueDigests[string(ns)] = digests
	}

	mso := MobileSecurityObject{
		Version:         MSOVersion,
		DigestAlgorithm: DigestSHA256,
		ValueDigests:    valueDigests,
		DeviceKeyInfo:   DeviceKeyInfo{DeviceKey: *deviceKey},
		DocType:         p.DocType,
		ValidityInfo: ValidityInfo{
			Signed:     rfc3339(p.Signed),
			ValidFrom:  rfc3339(p.ValidFrom),
			ValidUntil: rfc3339(p.ValidUntil),
		},
	}

	msoBytes, err := WrapEncodedCBOR(mso)
	if err != nil {
		return nil, err
	}
	msoPayload, err := Marshal(msoBytes)
	if err != nil {
		return nil, err
	}

	issuerAuth, err := SignCOSE(e.provider, msoPayload, p.X5Chain, nil, false)
	if err != nil {
		return nil, err
	}
	issuerAuthRaw, err := Marshal(issuerAuth)
	if err != nil {
		return nil, err
	}

	return &IssuedDocument{
		DocType: p.DocType,
		IssuerSigned: IssuerSigned{
			NameSpaces: nameSpaces,
			IssuerAuth: issuerAuthRaw,
		},
		MSO: mso,
	}, nil
}

func sortedNamespaces(claims model.NamespacedClaims) []model.Namespace {
	out := make([]model.Namespace, 0, len(claims))
	for ns := range claims {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
