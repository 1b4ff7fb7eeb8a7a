package jws

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

func newProvider(t *testing.T) (cryptoprovider.Provider, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p, err := cryptoprovider.NewSoftware(key)
	require.NoError(t, err)
	return p, key
}

func ecJWKMap(pub crypto.PublicKey) (map[string]any, error) {
	k := pub.(*ecdsa.PublicKey)
	return map[string]any{
		"kty": "EC",
		"crv": "P-256",
		"x":   b64u(k.X.FillBytes(make([]byte, 32))),
		"y":   b64u(k.Y.FillBytes(make([]byte, 32))),
	}, nil
}

func ecPubFromJWK(m map[string]any) (*ecdsa.PublicKey, error) {
	x, err := b64uDecode(m["x"].(string))
	if err != nil {
		return nil, err
	}
	y, err := b64uDecode(m["y"].(string))
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}

func TestBuildParseVerifyRoundTrip(t *testing.T) {
	p, _ := newProvider(t)

	signed, err := Build(p, []byte(`{"hello":"world"}`), RefNone, nil, nil)
	require.NoError(t, err)

	compact, err := signed.Compact()
	require.NoError(t, err)

	parsed, err := Parse(compact)
	require.NoError(t, err)
	assert.Equal(t, signed.Payload, parsed.Payload)
	assert.Equal(t, signed.SigningInputB, parsed.SigningInputB)

	require.NoError(t, Verify(parsed, p, nil, nil, nil, p.PublicKey()))
}

func TestVerifyFlippedByteFails(t *testing.T) {
	p, _ := newProvider(t)
	signed, err := Build(p, []byte("payload"), RefNone, nil, nil)
	require.NoError(t, err)

	signed.Signature[3] ^= 0x01
	err = Verify(signed, p, nil, nil, nil, p.PublicKey())
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestVerifyKidLookup(t *testing.T) {
	p, _ := newProvider(t)
	signed, err := Build(p, []byte("payload"), RefKid, "key-1", nil)
	require.NoError(t, err)

	lookup := func(kid string) (crypto.PublicKey, bool) {
		if kid == "key-1" {
			return p.PublicKey(), true
		}
		return nil, false
	}
	require.NoError(t, Verify(signed, p, lookup, nil, nil, nil))

	signed2, err := Build(p, []byte("payload"), RefKid, "unknown", nil)
	require.NoError(t, err)
	err = Verify(signed2, p, lookup, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errs.UnknownKey, errs.KindOf(err))
}

func TestJWERoundTrip(t *testing.T) {
	p, _ := newProvider(t)
	_, recipientKey := newProvider(t)

	ephemeral, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	plaintext := []byte(`{"vp_token":"x"}`)
	encrypted, err := Encrypt(p, ephemeral, &recipientKey.PublicKey, "A256GCM", "kid-1",
		[]byte("mgn3"), []byte("n3"), plaintext, ecJWKMap)
	require.NoError(t, err)
	assert.Equal(t, "kid-1", encrypted.Header.Kid)
	assert.Equal(t, []byte("mgn3"), encrypted.Header.ApuBytes())

	compact, err := encrypted.Compact()
	require.NoError(t, err)

	parsed, err := ParseCompact(compact)
	require.NoError(t, err)
	assert.Equal(t, "A256GCM", parsed.Header.Enc)

	decrypted, err := Decrypt(parsed, p, recipientKey, ecPubFromJWK)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestJWECBCHSRoundTrip(t *testing.T) {
	p, _ := newProvider(t)
	_, recipientKey := newProvider(t)

	ephemeral, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	plaintext := []byte("composite key branch")
	encrypted, err := Encrypt(p, ephemeral, &recipientKey.PublicKey, "A128CBC-HS256", "",
		nil, nil, plaintext, ecJWKMap)
	require.NoError(t, err)

	compact, err := encrypted.Compact()
	require.NoError(t, err)
	parsed, err := ParseCompact(compact)
	require.NoError(t, err)

	decrypted, err := Decrypt(parsed, p, recipientKey, ecPubFromJWK)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestJWETamperedCiphertextFails(t *testing.T) {
	p, _ := newProvider(t)
	_, recipientKey := newProvider(t)

	ephemeral, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	encrypted, err := Encrypt(p, ephemeral, &recipientKey.PublicKey, "A256GCM", "",
		nil, nil, []byte("secret"), ecJWKMap)
	require.NoError(t, err)
	encrypted.Ciphertext[0] ^= 0xff

	_, err = Decrypt(encrypted, p, recipientKey, ecPubFromJWK)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestParseRejectsWrongSegmentCount(t *testing.T) {
	_, err := Parse("only.two")
	require.Error(t, err)
	assert.Equal(t, errs.ParseError, errs.KindOf(err))

	_, err = ParseCompact("a.b.c")
	require.Error(t, err)
}
