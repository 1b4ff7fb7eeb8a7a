// Package model implements the generic credential object model shared by all three
// representations: a credential is one claim set, attested once, then projected into
// VC-JWT, SD-JWT, or mdoc form by the engine that signs it. A single namespace/claim-set
// type serves every credential type, instead of one hand-written struct per document
// type.
package model

import (
	"sort"

	"github.com/sunet/vcengine/pkg/timeutil"
)

// ClaimSet is a flat bag of named claim values, the unit a credential type attests.
// Ordering is not significant; callers needing stable disclosure order should sort Names().
type ClaimSet map[string]any

// Namespace is a named group of claims, the ISO mdoc unit of disclosure (each namespace
// maps to its own issuer-signed item list). VC-JWT and SD-JWT credentials use a single
// implicit namespace.
type Namespace string

// NamespacedClaims groups claims by namespace, generalizing mdoc's per-namespace digest
// model to a shape VC-JWT/SD-JWT issuance can also consume (by collapsing to one
// namespace).
type NamespacedClaims map[Namespace]ClaimSet

// SelectiveDisclosureHint marks which claims of a ClaimSet are selectively disclosable
// when the credential is issued as SD-JWT; VC-JWT and mdoc issuance do not read it.
// Claims absent from this set are always disclosed (never behind an _sd digest).
type SelectiveDisclosureHint map[string]bool

// CredentialSubject is the holder-facing content of a credential: a claim set plus the
// holder's stable identifier, matching VC-JWT's `vc.credentialSubject`.
type CredentialSubject struct {
	ID     string   `json:"id,omitempty"`
	Claims ClaimSet `json:"-"`
}

// CredentialStatus is the revocation pointer embedded in an issued credential.
type CredentialStatus struct {
	Type              string `json:"type"`
	RevocationListURL string `json:"revocationListUrl"`
	Index             int    `json:"index"`
}

// CredentialMeta is the representation-independent metadata every issued credential
// carries, before being projected into VC-JWT payload fields, SD-JWT issuer-JWT claims, or
// an mdoc MobileSecurityObject's validityInfo.
type CredentialMeta struct {
	ID        string // VC-JWT: vc.id == jti; mdoc: not used directly
	Type      string // e.g. "AtomicAttribute2023"; mdoc: docType
	Issuer    string // issuer's stable self-identifier (KeyMaterial.ID or did:key)
	Subject   string // holder's stable self-identifier
	IssuedAt  timeutil.NumericDate
	NotBefore timeutil.NumericDate
	ExpiresAt timeutil.NumericDate // zero means no expiry
	Status    *CredentialStatus
}

// Names returns the claim names of c in sorted order, for deterministic disclosure
// iteration.
func (c ClaimSet) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
