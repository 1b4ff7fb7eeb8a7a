package jws

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

// EncHeader is the JOSE header of a JWE produced by this engine (ECDH-ES direct
// agreement — no key-wrapping "epk"-derived CEK is ever transported encrypted, per RFC
// 7518 §4.6: alg is always "ECDH-ES").
type EncHeader struct {
	Alg string         `json:"alg"`
	Enc string         `json:"enc"`
	Epk map[string]any `json:"epk"`
	Apu string         `json:"apu,omitempty"`
	Apv string         `json:"apv,omitempty"`
	Kid string         `json:"kid,omitempty"`
}

// Encrypted is the JweEncrypted object model RawProtected preserves the exact
// base64url header segment seen on the wire, so the AAD a foreign sender computed is
// reused verbatim instead of being re-derived from the parsed struct.
type Encrypted struct {
	Header       EncHeader
	EncryptedKey []byte // empty for ECDH-ES direct agreement
	IV           []byte
	Ciphertext   []byte
	Tag          []byte
	RawProtected string
}

func keyDataLen(enc string) (int, error) {
	switch enc {
	case "A128GCM":
		return 16, nil
	case "A192GCM":
		return 24, nil
	case "A256GCM":
		return 32, nil
	case "A128CBC-HS256":
		return 32, nil
	case "A192CBC-HS384":
		return 48, nil
	case "A256CBC-HS512":
		return 64, nil
	default:
		return 0, errs.Newf(errs.UsageError, "unsupported enc algorithm %s", enc)
	}
}

// concatKDF implements RFC 7518 §4.6's Concat-KDF over SHA-256: repeat
// SHA256(counter_be32 || Z || OtherInfo) for ceil(keyDataLen/32) rounds, truncated to
// keyDataLen bytes. OtherInfo = AlgorithmID || PartyUInfo || PartyVInfo || SuppPubInfo.
func concatKDF(provider cryptoprovider.Provider, z []byte, algID, apu, apv []byte, keyDataLen int) ([]byte, error) {
	otherInfo := append(lenPrefixed(algID), lenPrefixed(apu)...)
	otherInfo = append(otherInfo, lenPrefixed(apv)...)

	suppPubInfo := make([]byte, 4)
	binary.BigEndian.PutUint32(suppPubInfo, uint32(keyDataLen*8))
	otherInfo = append(otherInfo, suppPubInfo...)

	var out []byte
	for counter := uint32(1); len(out) < keyDataLen; counter++ {
		counterBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(counterBytes, counter)
		round := append(append([]byte{}, counterBytes...), z...)
		round = append(round, otherInfo...)
		digest, err := provider.Digest("sha-256", round)
		if err != nil {
			return nil, err
		}
		out = append(out, digest...)
	}
	return out[:keyDataLen], nil
}

// lenPrefixed is AlgorithmID/PartyUInfo/PartyVInfo's "Datalen || Data" framing of RFC
// 7518 §4.6.2 (a four-byte length prefix, not a literal appended zero byte).
func lenPrefixed(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}

// Encrypt builds a JWE via ECDH-ES + Concat-KDF + AEAD. For mdoc OID4VPHandover
// responses the apu carries the mdoc_generated_nonce. ephemeral must be an ECDSA key generated fresh per
// message; its public part becomes the header "epk".
func Encrypt(provider cryptoprovider.Provider, ephemeral *ecdsa.PrivateKey, peerPub *ecdsa.PublicKey, enc, kid string, apu, apv, plaintext []byte, jwkOf func(crypto.PublicKey) (map[string]any, error)) (*Encrypted, error) {
	klen, err := keyDataLen(enc)
	if err != nil {
		return nil, err
	}

	ephProvider, err := cryptoprovider.NewSoftware(ephemeral)
	if err != nil {
		return nil, err
	}
	z, err := ephProvider.ECDH(peerPub)
	if err != nil {
		return nil, err
	}

	cek, err := concatKDF(provider, z, []byte(enc), apu, apv, klen)
	if err != nil {
		return nil, err
	}

	epk, err := jwkOf(ephemeral.Public())
	if err != nil {
		return nil, err
	}
	h := EncHeader{Alg: "ECDH-ES", Enc: enc, Epk: epk, Kid: kid}
	if len(apu) > 0 {
		h.Apu = b64u(apu)
	}
	if len(apv) > 0 {
		h.Apv = b64u(apv)
	}

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "marshal jwe header")
	}
	rawProtected := b64u(headerJSON)
	aad := []byte(rawProtected)

	iv, err := provider.Random(ivLen(enc))
	if err != nil {
		return nil, err
	}
	ct, tag, err := provider.AEADEncrypt(cryptoprovider.AEADAlg(enc), cek, iv, aad, plaintext)
	if err != nil {
		return nil, err
	}

	return &Encrypted{Header: h, IV: iv, Ciphertext: ct, Tag: tag, RawProtected: rawProtected}, nil
}

// Compact serializes e as b64u(header).b64u(ek).b64u(iv).b64u(ct).b64u(tag); ek is
// empty for ECDH-ES direct agreement. The raw protected segment is reused when present so
// the serialized header is byte-identical to the AAD the tag was computed over.
func (e *Encrypted) Compact() (string, error) {
	header := e.RawProtected
	if header == "" {
		headerJSON, err := json.Marshal(e.Header)
		if err != nil {
			return "", errs.Wrap(errs.UsageError, err, "marshal jwe header")
		}
		header = b64u(headerJSON)
	}
	return header + "." + b64u(e.EncryptedKey) + "." + b64u(e.IV) + "." + b64u(e.Ciphertext) + "." + b64u(e.Tag), nil
}

// ParseCompact splits a compact JWE into its five parts.
func ParseCompact(compact string) (*Encrypted, error) {
	parts, err := splitCompact(compact, 5)
	if err != nil {
		return nil, err
	}
	headerJSON, err := b64uDecode(parts[0])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jwe header")
	}
	var h EncHeader
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal jwe header")
	}
	ek, err := b64uDecode(parts[1])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jwe encrypted key")
	}
	iv, err := b64uDecode(parts[2])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jwe iv")
	}
	ct, err := b64uDecode(parts[3])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jwe ciphertext")
	}
	tag, err := b64uDecode(parts[4])
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "decode jwe tag")
	}
	return &Encrypted{Header: h, EncryptedKey: ek, IV: iv, Ciphertext: ct, Tag: tag, RawProtected: parts[0]}, nil
}

// Decrypt is the inverse of Encrypt: the recipient recomputes Z from its own static
// private key (priv) and the sender's ephemeral public key embedded in e.Header.Epk.
func Decrypt(e *Encrypted, provider cryptoprovider.Provider, priv *ecdsa.PrivateKey, pubFromJWK func(map[string]any) (*ecdsa.PublicKey, error)) ([]byte, error) {
	klen, err := keyDataLen(e.Header.Enc)
	if err != nil {
		return nil, err
	}

	epk, err := pubFromJWK(e.Header.Epk)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "parse epk")
	}

	selfProvider, err := cryptoprovider.NewSoftware(priv)
	if err != nil {
		return nil, err
	}
	z, err := selfProvider.ECDH(epk)
	if err != nil {
		return nil, err
	}

	var apu, apv []byte
	if e.Header.Apu != "" {
		apu, _ = b64uDecode(e.Header.Apu)
	}
	if e.Header.Apv != "" {
		apv, _ = b64uDecode(e.Header.Apv)
	}

	cek, err := concatKDF(provider, z, []byte(e.Header.Enc), apu, apv, klen)
	if err != nil {
		return nil, err
	}

	var aad []byte
	if e.RawProtected != "" {
		aad = []byte(e.RawProtected)
	} else {
		headerJSON, err := json.Marshal(e.Header)
		if err != nil {
			return nil, errs.Wrap(errs.UsageError, err, "marshal jwe header")
		}
		aad = []byte(b64u(headerJSON))
	}

	return provider.AEADDecrypt(cryptoprovider.AEADAlg(e.Header.Enc), cek, e.IV, aad, e.Ciphertext, e.Tag)
}

// ApuBytes returns the decoded apu field (the mdoc_generated_nonce of an encrypted
// OpenID4VP response), or nil.
func (h EncHeader) ApuBytes() []byte {
	if h.Apu == "" {
		return nil
	}
	b, _ := b64uDecode(h.Apu)
	return b
}

func ivLen(enc string) int {
	switch enc {
	case "A128GCM", "A192GCM", "A256GCM":
		return 12
	default:
		return 16 // CBC-HS variants use a full AES block-size IV
	}
}
