// Package mdoc implements the ISO/IEC 18013-5 credential representation: generic
// IssuerSigned documents over namespaced claim sets, the MobileSecurityObject digest
// commitment, DeviceResponse assembly with selective disclosure, and the
// OID4VPHandover device-authentication binding used when an mdoc is presented over
// OpenID4VP.
package mdoc

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/sunet/vcengine/internal/errs"
)

// CBOR tags used by ISO 18013-5.
const (
	// TagEncodedCBOR is tag 24, encoded-CBOR-data-item: the byte-string wrapping that
	// makes IssuerSignedItemBytes and MobileSecurityObjectBytes independently digestable.
	TagEncodedCBOR = 24

	// TagDate is tag 1004, full-date per RFC 8943.
	TagDate = 1004

	// TagDateTime is tag 0, tdate per RFC 8949.
	TagDateTime = 0
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		TimeTag:     cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v as deterministic CBOR (canonical sort, no indefinite lengths).
func Marshal(v any) ([]byte, error) {
	out, err := encMode.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "cbor marshal")
	}
	return out, nil
}

// Unmarshal decodes CBOR data into v, rejecting duplicate map keys.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.ParseError, err, "cbor unmarshal")
	}
	return nil
}

// EncodedCBORBytes is a byte string carrying an embedded CBOR item, serialized under tag
// 24 so its exact bytes survive re-encoding (digests are computed over these bytes).
type EncodedCBORBytes []byte

// MarshalCBOR implements cbor.Marshaler.
func (e EncodedCBORBytes) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagEncodedCBOR, Content: []byte(e)})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (e *EncodedCBORBytes) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != TagEncodedCBOR {
		return errs.Newf(errs.ParseError, "expected cbor tag %d, got %d", TagEncodedCBOR, tag.Number)
	}
	content, ok := tag.Content.([]byte)
	if !ok {
		return errs.New(errs.ParseError, "tag 24 content is not a byte string")
	}
	*e = content
	return nil
}

// WrapEncodedCBOR encodes v and wraps the result as an EncodedCBORBytes.
func WrapEncodedCBOR(v any) (EncodedCBORBytes, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return EncodedCBORBytes(raw), nil
}

// UnwrapEncodedCBOR decodes the embedded item of e into v.
func UnwrapEncodedCBOR(e EncodedCBORBytes, v any) error {
	return Unmarshal([]byte(e), v)
}

// FullDate is a YYYY-MM-DD date carried under tag 1004.
type FullDate string

// MarshalCBOR implements cbor.Marshaler.
func (f FullDate) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagDate, Content: string(f)})
}

// UnmarshalCBOR implements cbor.Unmarshaler. Untagged strings are accepted on input;
// peers disagree on whether dates inside claim values carry the tag.
func (f *FullDate) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		var s string
		if err := cbor.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FullDate(s)
		return nil
	}
	if tag.Number != TagDate {
		return errs.Newf(errs.ParseError, "expected cbor tag %d, got %d", TagDate, tag.Number)
	}
	s, ok := tag.Content.(string)
	if !ok {
		return errs.New(errs.ParseError, "full-date content is not a string")
	}
	*f = FullDate(s)
	return nil
}

// TDate is an RFC 3339 date-time carried under tag 0.
type TDate string

// MarshalCBOR implements cbor.Marshaler.
func (t TDate) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagDateTime, Content: string(t)})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (t *TDate) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		var s string
		if err := cbor.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TDate(s)
		return nil
	}
	if tag.Number != TagDateTime {
		return errs.Newf(errs.ParseError, "expected cbor tag %d, got %d", TagDateTime, tag.Number)
	}
	s, ok := tag.Content.(string)
	if !ok {
		return errs.New(errs.ParseError, "tdate content is not a string")
	}
	*t = TDate(s)
	return nil
}

// ClaimCodec converts one claim's native Go value to and from the CBOR-level value
// carried inside an IssuerSignedItem. The identity codec applies where no entry is
// registered.
type ClaimCodec interface {
	EncodeClaim(value any) (any, error)
	DecodeClaim(wire any) (any, error)
}

// TypeCodecRegistry maps (namespace, claim name) to a ClaimCodec. It is an explicit value
// handed to the Engine, never process-global state: callers populate it before the first
// (de)serialization and pass it in.
type TypeCodecRegistry struct {
	codecs map[registryKey]ClaimCodec
}

type registryKey struct {
	namespace string
	claim     string
}

// NewTypeCodecRegistry returns an empty registry.
func NewTypeCodecRegistry() *TypeCodecRegistry {
	return &TypeCodecRegistry{codecs: map[registryKey]ClaimCodec{}}
}

// Register binds codec to (namespace, claim). Later registrations replace earlier ones.
func (r *TypeCodecRegistry) Register(namespace, claim string, codec ClaimCodec) {
	r.codecs[registryKey{namespace: namespace, claim: claim}] = codec
}

// Lookup returns the codec for (namespace, claim), or nil.
func (r *TypeCodecRegistry) Lookup(namespace, claim string) ClaimCodec {
	if r == nil {
		return nil
	}
	return r.codecs[registryKey{namespace: namespace, claim: claim}]
}

// FullDateCodec maps string claim values to tag-1004 FullDate on the wire.
type FullDateCodec struct{}

// EncodeClaim wraps a string as FullDate.
func (FullDateCodec) EncodeClaim(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errs.Newf(errs.UsageError, "full-date claim value must be a string, got %T", value)
	}
	return FullDate(s), nil
}

// DecodeClaim unwraps a FullDate (or the untagged string peers emit) back to string.
func (FullDateCodec) DecodeClaim(wire any) (any, error) {
	switch v := wire.(type) {
	case FullDate:
		return string(v), nil
	case string:
		return v, nil
	case cbor.Tag:
		if s, ok := v.Content.(string); ok {
			return s, nil
		}
		return nil, errs.New(errs.ParseError, "full-date tag content is not a string")
	default:
		return nil, errs.Newf(errs.ParseError, "unexpected full-date wire type %T", wire)
	}
}
