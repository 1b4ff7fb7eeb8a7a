package rqes

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/internal/errs"
)

func digestOf(data string) string {
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestSignatureRequestValid(t *testing.T) {
	p := &SignatureRequestParameters{
		SignatureQualifier: "eu_eidas_qes",
		HashAlgorithmOID:   OIDSHA256,
		DocumentDigests: []DocumentDigest{
			{Hash: digestOf("contract.pdf"), Label: "Contract"},
		},
	}
	require.NoError(t, p.Validate())
}

func TestSignatureRequestRejectsEmptyDigests(t *testing.T) {
	p := &SignatureRequestParameters{
		SignatureQualifier: "eu_eidas_qes",
		HashAlgorithmOID:   OIDSHA256,
	}
	err := p.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.UsageError, errs.KindOf(err))
}

func TestSignatureRequestRejectsUnknownOID(t *testing.T) {
	p := &SignatureRequestParameters{
		SignatureQualifier: "eu_eidas_qes",
		HashAlgorithmOID:   "1.2.3.4",
		DocumentDigests: []DocumentDigest{
			{Hash: digestOf("x"), Label: "X"},
		},
	}
	require.Error(t, p.Validate())
}

func TestSignatureResponseValidation(t *testing.T) {
	r := &SignatureResponse{
		SignatureQualifier: "eu_eidas_qes",
		Signatures: []SignedDocumentDigest{
			{Hash: digestOf("contract.pdf"), SignatureValue: base64.StdEncoding.EncodeToString([]byte("sig"))},
		},
	}
	require.NoError(t, r.Validate())

	r.Signatures = nil
	err := r.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.InvalidStructure, errs.KindOf(err))
}
