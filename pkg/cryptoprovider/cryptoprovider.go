// Package cryptoprovider implements the engine's crypto surface: sign/verify/ecdh/aead/
// digest/random over one agent's identity key. Signatures are raw r||s for EC (the JWS
// and COSE form); DER only ever appears at the X.509 boundary. The signer.Sign hash
// option always matches the digest actually used, so a Signer backed by anything other
// than a software ECDSA key still signs correctly.
package cryptoprovider

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/asn1"
	"hash"
	"math/big"

	"github.com/sunet/vcengine/internal/errs"
)

// Alg identifies a signature algorithm by its JOSE/COSE name.
type Alg string

const (
	ES256 Alg = "ES256"
	ES384 Alg = "ES384"
	ES512 Alg = "ES512"
	EdDSA Alg = "EdDSA"
	PS256 Alg = "PS256"
	RS256 Alg = "RS256"
)

// AEADAlg identifies a content-encryption algorithm.
type AEADAlg string

const (
	A128GCM      AEADAlg = "A128GCM"
	A192GCM      AEADAlg = "A192GCM"
	A256GCM      AEADAlg = "A256GCM"
	A128CBCHS256 AEADAlg = "A128CBC-HS256"
	A192CBCHS384 AEADAlg = "A192CBC-HS384"
	A256CBCHS512 AEADAlg = "A256CBC-HS512"
)

// Provider is the CryptoProvider interface. One Provider wraps one identity key.
type Provider interface {
	Alg() Alg
	PublicKey() crypto.PublicKey
	Sign(data []byte) ([]byte, error)
	Verify(alg Alg, data, signature []byte, pub crypto.PublicKey) error
	ECDH(peerPub crypto.PublicKey) ([]byte, error)
	AEADEncrypt(alg AEADAlg, key, iv, aad, pt []byte) (ct, tag []byte, err error)
	AEADDecrypt(alg AEADAlg, key, iv, aad, ct, tag []byte) (pt []byte, err error)
	Digest(name string, data []byte) ([]byte, error)
	Random(n int) ([]byte, error)
}

// Software is a CryptoProvider backed by an in-process crypto.Signer. Hardware-key
// attestation is out of scope beyond the Verifier-Attestation JWT parsing
// done in pkg/openid4vp.
type Software struct {
	signer crypto.Signer
	alg    Alg
}

// NewSoftware wraps signer, inferring its algorithm from its key type.
func NewSoftware(signer crypto.Signer) (*Software, error) {
	alg, err := AlgForKey(signer.Public())
	if err != nil {
		return nil, err
	}
	return &Software{signer: signer, alg: alg}, nil
}

// AlgForKey infers the signature algorithm from a public key's type/curve.
func AlgForKey(pub crypto.PublicKey) (Alg, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return ES256, nil
		case elliptic.P384():
			return ES384, nil
		case elliptic.P521():
			return ES512, nil
		default:
			return "", errs.Newf(errs.UsageError, "unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
	case ed25519.PublicKey:
		return EdDSA, nil
	case *rsa.PublicKey:
		return RS256, nil
	default:
		return "", errs.Newf(errs.UsageError, "unsupported key type %T", pub)
	}
}

func (s *Software) Alg() Alg                    { return s.alg }
func (s *Software) PublicKey() crypto.PublicKey { return s.signer.Public() }

// Sign produces a raw-r||s (EC) or PKCS1v15/PSS-encoded (RSA) signature over data, never
// DER — DER only appears at the X.509 boundary.
func (s *Software) Sign(data []byte) ([]byte, error) {
	h, byteLen, err := hashAndLenFor(s.alg)
	if err != nil {
		return nil, err
	}

	if s.alg == EdDSA {
		sig, err := s.signer.Sign(rand.Reader, data, crypto.Hash(0))
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "eddsa sign")
		}
		return sig, nil
	}

	h.Write(data)
	digest := h.Sum(nil)

	cryptoHash := hashToCryptoHash(s.alg)
	sig, err := s.signer.Sign(rand.Reader, digest, cryptoHash)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "sign")
	}

	switch s.alg {
	case ES256, ES384, ES512:
		return derToRaw(sig, byteLen)
	default:
		return sig, nil
	}
}

// Verify checks signature over data under alg using pub. MUST be constant-time on the
// signature-comparison components — delegated to ecdsa.Verify/ed25519.Verify/
// rsa.Verify*, all of which are constant-time in Go's stdlib for the comparison step.
func (s *Software) Verify(alg Alg, data, signature []byte, pub crypto.PublicKey) error {
	h, byteLen, err := hashAndLenFor(alg)
	if err != nil {
		return err
	}

	switch alg {
	case ES256, ES384, ES512:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return errs.New(errs.UnknownKey, "expected ECDSA public key")
		}
		if len(signature) != 2*byteLen {
			return errs.New(errs.ParseError, "malformed raw ECDSA signature length")
		}
		r := new(big.Int).SetBytes(signature[:byteLen])
		sVal := new(big.Int).SetBytes(signature[byteLen:])
		h.Write(data)
		digest := h.Sum(nil)
		if !ecdsa.Verify(ecPub, digest, r, sVal) {
			return errs.New(errs.InvalidSignature, "ecdsa verification failed")
		}
		return nil
	case EdDSA:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return errs.New(errs.UnknownKey, "expected Ed25519 public key")
		}
		if !ed25519.Verify(edPub, data, signature) {
			return errs.New(errs.InvalidSignature, "eddsa verification failed")
		}
		return nil
	case RS256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return errs.New(errs.UnknownKey, "expected RSA public key")
		}
		h.Write(data)
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, h.Sum(nil), signature); err != nil {
			return errs.Wrap(errs.InvalidSignature, err, "rsa pkcs1v15 verification failed")
		}
		return nil
	case PS256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return errs.New(errs.UnknownKey, "expected RSA public key")
		}
		h.Write(data)
		if err := rsa.VerifyPSS(rsaPub, crypto.SHA256, h.Sum(nil), signature, nil); err != nil {
			return errs.Wrap(errs.InvalidSignature, err, "rsa pss verification failed")
		}
		return nil
	default:
		return errs.Newf(errs.UsageError, "unsupported algorithm %s", alg)
	}
}

// ECDH performs single-pass ECDH key agreement (for JWE ECDH-ES).
func (s *Software) ECDH(peerPub crypto.PublicKey) ([]byte, error) {
	ecPriv, ok := s.signer.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errs.New(errs.UsageError, "ECDH requires an ECDSA identity key")
	}
	priv, err := ecPriv.ECDH()
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "ecdh private key conversion")
	}
	peerEC, ok := peerPub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errs.New(errs.UnknownKey, "ECDH requires an ECDSA peer public key")
	}
	pub, err := peerEC.ECDH()
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "ecdh public key conversion")
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "ecdh")
	}
	return secret, nil
}

// AEADEncrypt implements both branches: full derived key as AES-GCM key for
// *-GCM, or split HMAC/AES-CBC composite key for *-CBC-HS*.
func (s *Software) AEADEncrypt(alg AEADAlg, key, iv, aad, pt []byte) ([]byte, []byte, error) {
	switch alg {
	case A128GCM, A192GCM, A256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, nil, errs.Wrap(errs.UsageError, err, "aes cipher")
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
		if err != nil {
			return nil, nil, errs.Wrap(errs.UsageError, err, "gcm")
		}
		sealed := gcm.Seal(nil, iv, pt, aad)
		ct := sealed[:len(sealed)-gcm.Overhead()]
		tag := sealed[len(sealed)-gcm.Overhead():]
		return ct, tag, nil
	case A128CBCHS256, A192CBCHS384, A256CBCHS512:
		hmacKey, aesKey, macLen, err := splitCompositeKey(alg, key)
		if err != nil {
			return nil, nil, err
		}
		block, err := aes.NewCipher(aesKey)
		if err != nil {
			return nil, nil, errs.Wrap(errs.UsageError, err, "aes cipher")
		}
		padded := pkcs7Pad(pt, block.BlockSize())
		ct := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
		tag := cbcHSTag(hmacKey, aad, iv, ct, macLen)
		return ct, tag, nil
	default:
		return nil, nil, errs.Newf(errs.UsageError, "unsupported AEAD algorithm %s", alg)
	}
}

// AEADDecrypt is the inverse of AEADEncrypt.
func (s *Software) AEADDecrypt(alg AEADAlg, key, iv, aad, ct, tag []byte) ([]byte, error) {
	switch alg {
	case A128GCM, A192GCM, A256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "aes cipher")
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "gcm")
		}
		pt, err := gcm.Open(nil, iv, append(append([]byte{}, ct...), tag...), aad)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidSignature, err, "gcm open")
		}
		return pt, nil
	case A128CBCHS256, A192CBCHS384, A256CBCHS512:
		hmacKey, aesKey, macLen, err := splitCompositeKey(alg, key)
		if err != nil {
			return nil, err
		}
		expected := cbcHSTag(hmacKey, aad, iv, ct, macLen)
		if subtle.ConstantTimeCompare(expected, tag) != 1 {
			return nil, errs.New(errs.InvalidSignature, "cbc-hmac tag mismatch")
		}
		block, err := aes.NewCipher(aesKey)
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "aes cipher")
		}
		padded := make([]byte, len(ct))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)
		return pkcs7Unpad(padded)
	default:
		return nil, errs.Newf(errs.UsageError, "unsupported AEAD algorithm %s", alg)
	}
}

// Digest hashes data with the named algorithm ("sha-256", "sha-384", "sha-512").
func (s *Software) Digest(name string, data []byte) ([]byte, error) {
	switch name {
	case "sha-256", "sha256", "SHA-256":
		sum := sha256.Sum256(data)
		return sum[:], nil
	case "sha-384", "sha384", "SHA-384":
		sum := sha512.Sum384(data)
		return sum[:], nil
	case "sha-512", "sha512", "SHA-512":
		sum := sha512.Sum512(data)
		return sum[:], nil
	default:
		return nil, errs.Newf(errs.UsageError, "unsupported digest algorithm %q", name)
	}
}

// Random returns n cryptographically secure random bytes.
func (s *Software) Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "random")
	}
	return buf, nil
}

func hashAndLenFor(alg Alg) (hash.Hash, int, error) {
	switch alg {
	case ES256:
		return sha256.New(), 32, nil
	case ES384:
		return sha512.New384(), 48, nil
	case ES512:
		return sha512.New(), 66, nil
	case RS256, PS256:
		return sha256.New(), 0, nil
	case EdDSA:
		return nil, 0, nil
	default:
		return nil, 0, errs.Newf(errs.UsageError, "unsupported algorithm %s", alg)
	}
}

func hashToCryptoHash(alg Alg) crypto.Hash {
	switch alg {
	case ES256:
		return crypto.SHA256
	case ES384:
		return crypto.SHA384
	case ES512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// derToRaw converts an ASN.1 DER ECDSA signature into fixed-length raw r||s.
// encoding/asn1 handles multi-byte DER lengths that a hand-rolled offset parser would
// not.
func derToRaw(der []byte, byteLen int) ([]byte, error) {
	var sig struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "parse asn.1 ecdsa signature")
	}
	raw := make([]byte, 2*byteLen)
	rBytes := sig.R.Bytes()
	sBytes := sig.S.Bytes()
	copy(raw[byteLen-len(rBytes):byteLen], rBytes)
	copy(raw[2*byteLen-len(sBytes):], sBytes)
	return raw, nil
}

func splitCompositeKey(alg AEADAlg, key []byte) (hmacKey, aesKey []byte, macLen int, err error) {
	switch alg {
	case A128CBCHS256:
		return key[:16], key[16:], 16, checkLen(key, 32)
	case A192CBCHS384:
		return key[:24], key[24:], 24, checkLen(key, 48)
	case A256CBCHS512:
		return key[:32], key[32:], 32, checkLen(key, 64)
	default:
		return nil, nil, 0, errs.Newf(errs.UsageError, "not a composite-key algorithm: %s", alg)
	}
}

func checkLen(key []byte, want int) error {
	if len(key) != want {
		return errs.Newf(errs.UsageError, "composite key must be %d bytes, got %d", want, len(key))
	}
	return nil
}

// cbcHSTag implements the AEAD tag for AES_CBC_HMAC_SHA2 per RFC 7518 §5.2.2.1: the first
// macLen bytes of HMAC(K_hmac, AAD || IV || CT || AAD_bit_length_be64).
func cbcHSTag(hmacKey, aad, iv, ct []byte, macLen int) []byte {
	var hasher func() hash.Hash
	switch macLen {
	case 16:
		hasher = sha256.New
	case 24:
		hasher = sha512.New384
	case 32:
		hasher = sha512.New
	default:
		hasher = sha256.New
	}
	m := hmac.New(hasher, hmacKey)
	m.Write(aad)
	m.Write(iv)
	m.Write(ct)
	aadLenBits := uint64(len(aad)) * 8
	var lenBuf [8]byte
	for i := 0; i < 8; i++ {
		lenBuf[7-i] = byte(aadLenBits >> (8 * i))
	}
	m.Write(lenBuf[:])
	full := m.Sum(nil)
	return full[:macLen]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.ParseError, "empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errs.New(errs.ParseError, "invalid pkcs7 padding")
	}
	return data[:len(data)-padLen], nil
}

func (a Alg) String() string { return string(a) }
