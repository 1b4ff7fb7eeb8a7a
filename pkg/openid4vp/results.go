package openid4vp

import (
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/sdjwt"
	"github.com/sunet/vcengine/pkg/vcjwt"
)

// AuthnResponseResult is the sealed outcome hierarchy of response validation. Every
// validation path returns exactly one variant; success and failure never share a
// nullable sentinel, and no error escapes ValidateResponse as a Go error.
type AuthnResponseResult interface {
	isAuthnResponseResult()

	// State identifies the protocol run the result belongs to.
	ResultState() string
}

// Success is a verified VC-JWT (or JWT-VP) descriptor outcome.
type Success struct {
	State     string
	VC        *vcjwt.Result
	IsRevoked bool
}

// SuccessSdJwt is a verified SD-JWT descriptor outcome: the presented disclosures and the
// reconstructed cleartext projection.
type SuccessSdJwt struct {
	State       string
	Disclosures []sdjwt.Disclosure
	Claims      map[string]any
	IsRevoked   bool
}

// SuccessIso is a verified mdoc descriptor outcome.
type SuccessIso struct {
	State     string
	Documents []mdoc.VerifiedDocument
	IsRevoked bool
}

// SuccessIDToken is a verified SIOPv2 id_token outcome.
type SuccessIDToken struct {
	State   string
	Subject string // the holder key thumbprint
	Claims  map[string]any
}

// Aggregate bundles per-descriptor results when the submission maps more than one
// descriptor; a failing descriptor appears as a ValidationError entry without
// short-circuiting its siblings.
type Aggregate struct {
	State   string
	Results []AuthnResponseResult
}

// Error is a whole-response failure: the run could not be matched or the envelope was
// unusable.
type Error struct {
	State  string
	Reason string
}

// ValidationError is a field- or descriptor-scoped failure.
type ValidationError struct {
	State string
	Field string
}

func (Success) isAuthnResponseResult()         {}
func (SuccessSdJwt) isAuthnResponseResult()    {}
func (SuccessIso) isAuthnResponseResult()      {}
func (SuccessIDToken) isAuthnResponseResult()  {}
func (Aggregate) isAuthnResponseResult()       {}
func (Error) isAuthnResponseResult()           {}
func (ValidationError) isAuthnResponseResult() {}

func (r Success) ResultState() string         { return r.State }
func (r SuccessSdJwt) ResultState() string    { return r.State }
func (r SuccessIso) ResultState() string      { return r.State }
func (r SuccessIDToken) ResultState() string  { return r.State }
func (r Aggregate) ResultState() string       { return r.State }
func (r Error) ResultState() string           { return r.State }
func (r ValidationError) ResultState() string { return r.State }
