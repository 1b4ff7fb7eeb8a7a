package sdjwt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
)

func TestVCTMEncodeRoundTrip(t *testing.T) {
	v := VCTM{
		VCT:  "AtomicAttribute2023",
		Name: "Atomic attribute",
		Claims: []VCTMClaim{
			{Path: []string{"given-name"}, SD: "allowed"},
		},
	}
	encoded, raw, err := v.Encode()
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	var back VCTM
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, v.VCT, back.VCT)
	assert.Equal(t, "allowed", back.Claims[0].SD)
}

func TestSchemaValidateClaims(t *testing.T) {
	schema := Schema(`{
		"type": "object",
		"required": ["given-name"],
		"properties": {
			"given-name": {"type": "string"},
			"age-over-18": {"type": "boolean"}
		}
	}`)

	require.NoError(t, schema.ValidateClaims(map[string]any{
		"given-name":  "Erika",
		"age-over-18": true,
	}))

	err := schema.ValidateClaims(map[string]any{"age-over-18": true})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidStructure, errs.KindOf(err))
}

func TestEmptySchemaAcceptsAnything(t *testing.T) {
	var schema Schema
	assert.NoError(t, schema.ValidateClaims(map[string]any{"anything": 1}))
}
