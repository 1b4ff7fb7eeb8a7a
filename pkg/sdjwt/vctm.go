package sdjwt

import (
	"encoding/base64"
	"encoding/json"

	"github.com/kaptinlin/jsonschema"

	"github.com/sunet/vcengine/internal/errs"
)

// VCTM is Credential Type Metadata for an SD-JWT VC: display and claim-level hints an
// issuer publishes alongside a `vct` identifier. Only the fields the wallet/verifier
// flow reads are modeled (display name/description, per-claim SD hints); rendering
// templates are out of scope.
type VCTM struct {
	VCT         string        `json:"vct"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Display     []VCTMDisplay `json:"display,omitempty"`
	Claims      []VCTMClaim   `json:"claims,omitempty"`
}

// VCTMDisplay is one locale's rendering hint for a credential type.
type VCTMDisplay struct {
	Lang string `json:"lang"`
	Name string `json:"name"`
}

// VCTMClaim documents one claim path's selective-disclosure and display intent.
type VCTMClaim struct {
	Path  []string `json:"path"`
	SD    string   `json:"sd,omitempty"` // "always" | "allowed" | "never", per draft-13 §9
	Label string   `json:"label,omitempty"`
}

// Encode base64url-encodes v for embedding as a JWT header/claim value.
func (v VCTM) Encode() (string, []byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return base64.RawURLEncoding.EncodeToString(raw), raw, nil
}

// Schema optionally accompanies a VCTM: a JSON Schema for the credential's cleartext
// claims, checked by ValidateClaims. Issue and Verify do not apply it themselves.
type Schema []byte

// ValidateClaims checks claims against schema.
func (s Schema) ValidateClaims(claims map[string]any) error {
	if len(s) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(s))
	if err != nil {
		return errs.Wrap(errs.UsageError, err, "compile vctm schema")
	}
	result := schema.Validate(claims)
	if !result.IsValid() {
		return errs.New(errs.InvalidStructure, "claims do not satisfy the credential type schema")
	}
	return nil
}
