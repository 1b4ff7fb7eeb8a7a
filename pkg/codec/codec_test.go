package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	type payload struct {
		Zebra string `json:"zebra"`
		Alpha string `json:"alpha"`
	}
	out, err := CanonicalJSON(payload{Zebra: "z", Alpha: "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","zebra":"z"}`, string(out))
}

func TestCanonicalJSONStableAcrossMapOrder(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalJSONPreservesLargeNumbers(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"iat": int64(1735689600)})
	require.NoError(t, err)
	assert.Equal(t, `{"iat":1735689600}`, string(out))
}

func TestEqual(t *testing.T) {
	eq, err := Equal([]byte(`{"a": 1, "b": [1, 2]}`), []byte(`{"b":[1,2],"a":1}`))
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = Equal([]byte(`{"a":1}`), []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.False(t, eq)
}
