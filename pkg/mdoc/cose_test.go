package mdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
)

func TestCOSESign1RoundTrip(t *testing.T) {
	p := newProvider(t)

	signed, err := SignCOSE(p, []byte("payload"), nil, nil, false)
	require.NoError(t, err)

	raw, err := Marshal(signed)
	require.NoError(t, err)

	var parsed COSESign1
	require.NoError(t, Unmarshal(raw, &parsed))
	assert.Equal(t, signed.Protected, parsed.Protected)
	assert.Equal(t, signed.Payload, parsed.Payload)
	assert.Equal(t, signed.Signature, parsed.Signature)

	require.NoError(t, VerifyCOSE(p, &parsed, nil, p.PublicKey(), nil))
}

func TestCOSESign1DetachedPayload(t *testing.T) {
	p := newProvider(t)

	signed, err := SignCOSE(p, []byte("detached payload"), nil, nil, true)
	require.NoError(t, err)
	assert.Nil(t, signed.Payload)

	require.NoError(t, VerifyCOSE(p, signed, []byte("detached payload"), p.PublicKey(), nil))

	err = VerifyCOSE(p, signed, []byte("wrong payload"), p.PublicKey(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestCOSESign1FlippedByteFails(t *testing.T) {
	p := newProvider(t)

	signed, err := SignCOSE(p, []byte("payload"), nil, nil, false)
	require.NoError(t, err)
	signed.Signature[0] ^= 0xff

	err = VerifyCOSE(p, signed, nil, p.PublicKey(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestCOSEKeyRoundTrip(t *testing.T) {
	p := newProvider(t)

	key, err := NewCOSEKey(p.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, KeyTypeEC2, key.Kty)
	assert.Equal(t, CurveP256, key.Crv)
	assert.Len(t, key.X, 32)
	assert.Len(t, key.Y, 32)

	pub, err := key.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, p.PublicKey(), pub)
}

func TestCOSEMac0RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	mac, err := MacCOSE(key, []byte("payload"), nil, false)
	require.NoError(t, err)
	require.NoError(t, VerifyMac0(mac, key, nil, nil))

	err = VerifyMac0(mac, []byte("wrong key wrong key wrong key !!"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

func TestEncodedCBORRoundTrip(t *testing.T) {
	wrapped, err := WrapEncodedCBOR(map[string]any{"a": uint64(1)})
	require.NoError(t, err)

	raw, err := Marshal(wrapped)
	require.NoError(t, err)

	var back EncodedCBORBytes
	require.NoError(t, Unmarshal(raw, &back))
	assert.Equal(t, []byte(wrapped), []byte(back))

	var decoded map[string]any
	require.NoError(t, UnwrapEncodedCBOR(back, &decoded))
	assert.Equal(t, uint64(1), decoded["a"])
}

func TestFullDateTagging(t *testing.T) {
	raw, err := Marshal(FullDate("1990-01-02"))
	require.NoError(t, err)

	var back FullDate
	require.NoError(t, Unmarshal(raw, &back))
	assert.Equal(t, FullDate("1990-01-02"), back)

	// untagged strings are accepted on input
	plain, err := Marshal("1990-01-02")
	require.NoError(t, err)
	var fromPlain FullDate
	require.NoError(t, Unmarshal(plain, &fromPlain))
	assert.Equal(t, FullDate("1990-01-02"), fromPlain)
}
