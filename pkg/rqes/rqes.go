// Package rqes carries the remote-qualified-electronic-signature DTOs a verifier exchanges
// with a signing service: a signature request naming the documents to sign by digest, and
// the signed digests coming back. Wire shapes follow the CSC API conventions (hash values
// base64, algorithms by OID).
package rqes

import (
	"github.com/go-playground/validator/v10"

	"github.com/sunet/vcengine/internal/errs"
)

// Well-known hash algorithm OIDs accepted in DocumentDigest.HashAlgorithmOID.
const (
	OIDSHA256 = "2.16.840.1.101.3.4.2.1"
	OIDSHA384 = "2.16.840.1.101.3.4.2.2"
	OIDSHA512 = "2.16.840.1.101.3.4.2.3"
)

// DocumentDigest names one document to be signed by its digest.
type DocumentDigest struct {
	// Hash is the base64-encoded digest of the document.
	Hash string `json:"hash" validate:"required,base64"`

	// Label is a human-readable name for the document, shown to the signer.
	Label string `json:"label" validate:"required"`

	// HashAlgorithmOID identifies the digest algorithm; overrides the request-level OID
	// when present.
	HashAlgorithmOID string `json:"hashAlgorithmOID,omitempty" validate:"omitempty,oneof=2.16.840.1.101.3.4.2.1 2.16.840.1.101.3.4.2.2 2.16.840.1.101.3.4.2.3"`
}

// SignatureRequestParameters is the verifier-to-signer request: which documents, under
// which qualifier, with which default digest algorithm.
type SignatureRequestParameters struct {
	// SignatureQualifier names the requested signature level, e.g. "eu_eidas_qes".
	SignatureQualifier string `json:"signatureQualifier" validate:"required"`

	// DocumentDigests lists the documents to sign; at least one.
	DocumentDigests []DocumentDigest `json:"documentDigests" validate:"required,min=1,dive"`

	// HashAlgorithmOID is the default digest algorithm for entries that do not carry
	// their own.
	HashAlgorithmOID string `json:"hashAlgorithmOID" validate:"required,oneof=2.16.840.1.101.3.4.2.1 2.16.840.1.101.3.4.2.2 2.16.840.1.101.3.4.2.3"`

	// ClientData is an opaque value echoed back in the response.
	ClientData string `json:"clientData,omitempty"`
}

// SignedDocumentDigest is one signed digest in the response.
type SignedDocumentDigest struct {
	Hash           string `json:"hash" validate:"required,base64"`
	SignatureValue string `json:"signatureValue" validate:"required,base64"`
}

// SignatureResponse carries the signed digests back to the requester.
type SignatureResponse struct {
	SignatureQualifier string                 `json:"signatureQualifier" validate:"required"`
	Signatures         []SignedDocumentDigest `json:"signatures" validate:"required,min=1,dive"`
	ClientData         string                 `json:"clientData,omitempty"`
}

var validate = validator.New()

// Validate checks p against its declared constraints.
func (p *SignatureRequestParameters) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errs.Wrap(errs.UsageError, err, "invalid signature request parameters")
	}
	return nil
}

// Validate checks r against its declared constraints.
func (r *SignatureResponse) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errs.Wrap(errs.InvalidStructure, err, "invalid signature response")
	}
	return nil
}
