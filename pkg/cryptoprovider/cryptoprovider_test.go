package cryptoprovider_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	prov, err := cryptoprovider.NewSoftware(priv)
	require.NoError(t, err)
	require.Equal(t, cryptoprovider.ES256, prov.Alg())

	msg := []byte("hello verifiable credential")
	sig, err := prov.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 64) // raw r||s for P-256

	require.NoError(t, prov.Verify(cryptoprovider.ES256, msg, sig, prov.PublicKey()))

	// flipping any byte of the message must break verification.
	tampered := append([]byte{}, msg...)
	tampered[0] ^= 0xff
	require.Error(t, prov.Verify(cryptoprovider.ES256, tampered, sig, prov.PublicKey()))
}

func TestECDH(t *testing.T) {
	privA, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	privB, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	provA, err := cryptoprovider.NewSoftware(privA)
	require.NoError(t, err)
	provB, err := cryptoprovider.NewSoftware(privB)
	require.NoError(t, err)

	secretA, err := provA.ECDH(&privB.PublicKey)
	require.NoError(t, err)
	secretB, err := provB.ECDH(&privA.PublicKey)
	require.NoError(t, err)
	require.Equal(t, secretA, secretB)
}

func TestAEADGCMRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	prov, err := cryptoprovider.NewSoftware(priv)
	require.NoError(t, err)

	key, err := prov.Random(32)
	require.NoError(t, err)
	iv, err := prov.Random(12)
	require.NoError(t, err)
	aad := []byte(`{"alg":"ECDH-ES","enc":"A256GCM"}`)
	pt := []byte("selective disclosure payload")

	ct, tag, err := prov.AEADEncrypt(cryptoprovider.A256GCM, key, iv, aad, pt)
	require.NoError(t, err)

	got, err := prov.AEADDecrypt(cryptoprovider.A256GCM, key, iv, aad, ct, tag)
	require.NoError(t, err)
	require.Equal(t, pt, got)
}

func TestAEADCBCHSRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	prov, err := cryptoprovider.NewSoftware(priv)
	require.NoError(t, err)

	key, err := prov.Random(64) // A256CBC-HS512 composite key
	require.NoError(t, err)
	iv, err := prov.Random(16)
	require.NoError(t, err)
	aad := []byte(`{"alg":"ECDH-ES","enc":"A256CBC-HS512"}`)
	pt := []byte("selective disclosure payload, cbc-hmac branch")

	ct, tag, err := prov.AEADEncrypt(cryptoprovider.A256CBCHS512, key, iv, aad, pt)
	require.NoError(t, err)

	got, err := prov.AEADDecrypt(cryptoprovider.A256CBCHS512, key, iv, aad, ct, tag)
	require.NoError(t, err)
	require.Equal(t, pt, got)

	// a tampered tag must be rejected.
	badTag := append([]byte{}, tag...)
	badTag[0] ^= 0xff
	_, err = prov.AEADDecrypt(cryptoprovider.A256CBCHS512, key, iv, aad, ct, badTag)
	require.Error(t, err)
}
