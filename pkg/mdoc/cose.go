package mdoc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

// COSE algorithm identifiers (RFC 9053).
const (
	AlgES256 int64 = -7
	AlgES384 int64 = -35
	AlgES512 int64 = -36
	AlgEdDSA int64 = -8

	AlgHMAC256 int64 = 5
)

// COSE header labels.
const (
	HeaderAlg         int64 = 1
	HeaderKid         int64 = 4
	HeaderContentType int64 = 16
	HeaderX5Chain     int64 = 33
)

// COSE_Key labels and constants.
const (
	KeyTypeEC2 int64 = 2
	KeyTypeOKP int64 = 1

	CurveP256    int64 = 1
	CurveP384    int64 = 2
	CurveP521    int64 = 3
	CurveEd25519 int64 = 6
)

// COSEKey is a COSE_Key holding public key material only; private keys never take this
// form.
type COSEKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Alg int64  `cbor:"3,keyasint,omitempty"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint,omitempty"`
}

// NewCOSEKey projects a Go public key into COSE_Key form.
func NewCOSEKey(pub crypto.PublicKey) (*COSEKey, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		var crv int64
		switch k.Curve {
		case elliptic.P256():
			crv = CurveP256
		case elliptic.P384():
			crv = CurveP384
		case elliptic.P521():
			crv = CurveP521
		default:
			return nil, errs.Newf(errs.UsageError, "unsupported curve %s", k.Curve.Params().Name)
		}
		byteLen := (k.Curve.Params().BitSize + 7) / 8
		return &COSEKey{
			Kty: KeyTypeEC2,
			Crv: crv,
			X:   leftPad(k.X.Bytes(), byteLen),
			Y:   leftPad(k.Y.Bytes(), byteLen),
		}, nil
	case ed25519.PublicKey:
		return &COSEKey{Kty: KeyTypeOKP, Crv: CurveEd25519, X: []byte(k)}, nil
	default:
		return nil, errs.Newf(errs.UsageError, "unsupported key type %T", pub)
	}
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	return append(make([]byte, n-len(b)), b...)
}

// PublicKey converts k back to a Go public key.
func (k *COSEKey) PublicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case KeyTypeEC2:
		var curve elliptic.Curve
		switch k.Crv {
		case CurveP256:
			curve = elliptic.P256()
		case CurveP384:
			curve = elliptic.P384()
		case CurveP521:
			curve = elliptic.P521()
		default:
			return nil, errs.Newf(errs.ParseError, "unsupported EC2 curve %d", k.Crv)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(k.X),
			Y:     new(big.Int).SetBytes(k.Y),
		}, nil
	case KeyTypeOKP:
		if k.Crv != CurveEd25519 {
			return nil, errs.Newf(errs.ParseError, "unsupported OKP curve %d", k.Crv)
		}
		if len(k.X) != ed25519.PublicKeySize {
			return nil, errs.New(errs.ParseError, "ed25519 public key has wrong length")
		}
		return ed25519.PublicKey(k.X), nil
	default:
		return nil, errs.Newf(errs.ParseError, "unsupported key type %d", k.Kty)
	}
}

// coseAlgFor maps a provider's JOSE algorithm name to its COSE identifier.
func coseAlgFor(alg cryptoprovider.Alg) (int64, error) {
	switch alg {
	case cryptoprovider.ES256:
		return AlgES256, nil
	case cryptoprovider.ES384:
		return AlgES384, nil
	case cryptoprovider.ES512:
		return AlgES512, nil
	case cryptoprovider.EdDSA:
		return AlgEdDSA, nil
	default:
		return 0, errs.Newf(errs.UsageError, "algorithm %s has no COSE mapping", alg)
	}
}

func joseAlgFor(coseAlg int64) (cryptoprovider.Alg, error) {
	switch coseAlg {
	case AlgES256:
		return cryptoprovider.ES256, nil
	case AlgES384:
		return cryptoprovider.ES384, nil
	case AlgES512:
		return cryptoprovider.ES512, nil
	case AlgEdDSA:
		return cryptoprovider.EdDSA, nil
	default:
		return "", errs.Newf(errs.ParseError, "unsupported COSE algorithm %d", coseAlg)
	}
}

// COSESign1 is the four-element COSE_Sign1 array, tagged 18 on the wire.
type COSESign1 struct {
	Protected   []byte
	Unprotected map[any]any
	Payload     []byte // nil when detached
	Signature   []byte
}

// MarshalCBOR implements cbor.Marshaler.
func (s *COSESign1) MarshalCBOR() ([]byte, error) {
	arr := []any{s.Protected, s.Unprotected, s.Payload, s.Signature}
	return cbor.Marshal(cbor.Tag{Number: 18, Content: arr})
}

// UnmarshalCBOR implements cbor.Unmarshaler, accepting both the tag-18 and the bare
// four-element array form peers emit.
func (s *COSESign1) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	var arr []any
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number == 18 {
		var ok bool
		arr, ok = tag.Content.([]any)
		if !ok {
			return errs.New(errs.ParseError, "COSE_Sign1 tag content is not an array")
		}
	} else if err := cbor.Unmarshal(data, &arr); err != nil {
		return errs.Wrap(errs.ParseError, err, "decode COSE_Sign1")
	}
	if len(arr) != 4 {
		return errs.Newf(errs.ParseError, "COSE_Sign1 has %d elements, want 4", len(arr))
	}
	s.Protected, _ = arr[0].([]byte)
	s.Unprotected, _ = arr[1].(map[any]any)
	s.Payload, _ = arr[2].([]byte)
	s.Signature, _ = arr[3].([]byte)
	return nil
}

// sigStructure canonically encodes the Sig_structure
func sigStructure(protected, externalAAD, payload []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	return Marshal([]any{"Signature1", protected, externalAAD, payload})
}

// SignCOSE builds a COSE_Sign1 over payload with provider's identity key. x5chain, when
// non-empty, is carried in the protected header (DER entries, leaf first). detached
// removes the payload from the serialized form; the verifier must then supply it.
func SignCOSE(provider cryptoprovider.Provider, payload []byte, x5chain [][]byte, externalAAD []byte, detached bool) (*COSESign1, error) {
	return SignCOSEWithProtected(provider, payload, nil, x5chain, externalAAD, detached)
}

// SignCOSEWithProtected is SignCOSE with additional protected header entries (e.g. a
// content-type label for CWTs). extraProtected entries never override alg or x5chain.
func SignCOSEWithProtected(provider cryptoprovider.Provider, payload []byte, extraProtected map[int64]any, x5chain [][]byte, externalAAD []byte, detached bool) (*COSESign1, error) {
	coseAlg, err := coseAlgFor(provider.Alg())
	if err != nil {
		return nil, err
	}

	protectedMap := map[int64]any{HeaderAlg: coseAlg}
	for label, value := range extraProtected {
		if label != HeaderAlg && label != HeaderX5Chain {
			protectedMap[label] = value
		}
	}
	if len(x5chain) == 1 {
		protectedMap[HeaderX5Chain] = x5chain[0]
	} else if len(x5chain) > 1 {
		protectedMap[HeaderX5Chain] = x5chain
	}
	protected, err := Marshal(protectedMap)
	if err != nil {
		return nil, err
	}

	toBeSigned, err := sigStructure(protected, externalAAD, payload)
	if err != nil {
		return nil, err
	}
	sig, err := provider.Sign(toBeSigned)
	if err != nil {
		return nil, err
	}

	s := &COSESign1{
		Protected:   protected,
		Unprotected: map[any]any{},
		Payload:     payload,
		Signature:   sig,
	}
	if detached {
		s.Payload = nil
	}
	return s, nil
}

// VerifyCOSE checks s against pub. payload overrides s.Payload for detached signatures.
func VerifyCOSE(provider cryptoprovider.Provider, s *COSESign1, payload []byte, pub crypto.PublicKey, externalAAD []byte) error {
	coseAlg, err := s.Alg()
	if err != nil {
		return err
	}
	alg, err := joseAlgFor(coseAlg)
	if err != nil {
		return err
	}

	if payload == nil {
		payload = s.Payload
	}
	toBeSigned, err := sigStructure(s.Protected, externalAAD, payload)
	if err != nil {
		return err
	}
	return provider.Verify(alg, toBeSigned, s.Signature, pub)
}

// Alg returns the COSE algorithm from the protected header.
func (s *COSESign1) Alg() (int64, error) {
	var headers map[int64]any
	if err := Unmarshal(s.Protected, &headers); err != nil {
		return 0, err
	}
	raw, ok := headers[HeaderAlg]
	if !ok {
		return 0, errs.New(errs.ParseError, "COSE_Sign1 protected header missing alg")
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, errs.Newf(errs.ParseError, "COSE alg has unexpected type %T", raw)
	}
}

// X5Chain returns the DER certificate chain from the protected header, leaf first, or nil
// when absent.
func (s *COSESign1) X5Chain() ([][]byte, error) {
	var headers map[int64]any
	if err := Unmarshal(s.Protected, &headers); err != nil {
		return nil, err
	}
	raw, ok := headers[HeaderX5Chain]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case []byte:
		return [][]byte{v}, nil
	case []any:
		var out [][]byte
		for _, e := range v {
			der, ok := e.([]byte)
			if !ok {
				return nil, errs.New(errs.ParseError, "x5chain entry is not a byte string")
			}
			out = append(out, der)
		}
		return out, nil
	default:
		return nil, errs.Newf(errs.ParseError, "x5chain has unexpected type %T", raw)
	}
}

// COSEMac0 is the four-element COSE_Mac0 array (tag 17), the deviceMac alternative to a
// device signature.
type COSEMac0 struct {
	Protected   []byte
	Unprotected map[any]any
	Payload     []byte
	Tag         []byte
}

// MarshalCBOR implements cbor.Marshaler.
func (m *COSEMac0) MarshalCBOR() ([]byte, error) {
	arr := []any{m.Protected, m.Unprotected, m.Payload, m.Tag}
	return cbor.Marshal(cbor.Tag{Number: 17, Content: arr})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (m *COSEMac0) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	var arr []any
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number == 17 {
		var ok bool
		arr, ok = tag.Content.([]any)
		if !ok {
			return errs.New(errs.ParseError, "COSE_Mac0 tag content is not an array")
		}
	} else if err := cbor.Unmarshal(data, &arr); err != nil {
		return errs.Wrap(errs.ParseError, err, "decode COSE_Mac0")
	}
	if len(arr) != 4 {
		return errs.Newf(errs.ParseError, "COSE_Mac0 has %d elements, want 4", len(arr))
	}
	m.Protected, _ = arr[0].([]byte)
	m.Unprotected, _ = arr[1].(map[any]any)
	m.Payload, _ = arr[2].([]byte)
	m.Tag, _ = arr[3].([]byte)
	return nil
}

// MacCOSE builds a COSE_Mac0 over payload with an HMAC-SHA256 session key.
func MacCOSE(key, payload, externalAAD []byte, detached bool) (*COSEMac0, error) {
	protected, err := Marshal(map[int64]any{HeaderAlg: AlgHMAC256})
	if err != nil {
		return nil, err
	}
	toMAC, err := macStructure(protected, externalAAD, payload)
	if err != nil {
		return nil, err
	}
	m := &COSEMac0{
		Protected:   protected,
		Unprotected: map[any]any{},
		Payload:     payload,
		Tag:         hmacSum(sha256.New, key, toMAC, 32),
	}
	if detached {
		m.Payload = nil
	}
	return m, nil
}

// VerifyMac0 checks m's tag under key. payload overrides m.Payload for detached MACs.
func VerifyMac0(m *COSEMac0, key, payload, externalAAD []byte) error {
	if payload == nil {
		payload = m.Payload
	}
	toMAC, err := macStructure(m.Protected, externalAAD, payload)
	if err != nil {
		return err
	}
	expected := hmacSum(sha256.New, key, toMAC, 32)
	if !hmac.Equal(m.Tag, expected) {
		return errs.New(errs.InvalidSignature, "COSE_Mac0 tag mismatch")
	}
	return nil
}

func macStructure(protected, externalAAD, payload []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	return Marshal([]any{"MAC0", protected, externalAAD, payload})
}

func hmacSum(h func() hash.Hash, key, data []byte, truncate int) []byte {
	m := hmac.New(h, key)
	m.Write(data)
	out := m.Sum(nil)
	if len(out) > truncate {
		out = out[:truncate]
	}
	return out
}
