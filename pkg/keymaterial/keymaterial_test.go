package keymaterial_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/keymaterial"
)

func TestGenerateDerivesDIDKeyIdentifier(t *testing.T) {
	km, err := keymaterial.Generate("P-256")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(km.ID, "did:key:z"), "P-256 identifier must be did:key, got %q", km.ID)

	projected, err := km.JWK()
	require.NoError(t, err)
	assert.Equal(t, "EC", projected.KTY)
	assert.Equal(t, "P-256", projected.CRV)
	assert.NotEmpty(t, projected.X)
	assert.NotEmpty(t, projected.Y)
	assert.Equal(t, km.ID, projected.Kid)
}

func TestGenerateEd25519DIDKey(t *testing.T) {
	km, err := keymaterial.Generate("Ed25519")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(km.ID, "did:key:z"))

	projected, err := km.JWK()
	require.NoError(t, err)
	assert.Equal(t, "OKP", projected.KTY)
	assert.Equal(t, "Ed25519", projected.CRV)
	assert.NotEmpty(t, projected.X)
	assert.Empty(t, projected.Y)
}

// Curves outside did:key's multicodec table fall back to the RFC 7638 thumbprint.
func TestGenerateP384FallsBackToThumbprint(t *testing.T) {
	km, err := keymaterial.Generate("P-384")
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(km.ID, "did:key:"))

	projected, err := keymaterial.ProjectJWK(km.Public())
	require.NoError(t, err)
	thumbprint, err := projected.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, thumbprint, km.ID)
}

func TestGenerateRejectsUnknownCurve(t *testing.T) {
	_, err := keymaterial.Generate("P-111")
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))
}

func TestJWKMapCarriesOnlySetFields(t *testing.T) {
	km, err := keymaterial.Generate("P-256")
	require.NoError(t, err)

	projected, err := keymaterial.ProjectJWK(km.Public())
	require.NoError(t, err)
	m := projected.Map()
	assert.Equal(t, "EC", m["kty"])
	assert.Equal(t, "P-256", m["crv"])
	assert.NotContains(t, m, "kid")
	assert.NotContains(t, m, "d")
}
