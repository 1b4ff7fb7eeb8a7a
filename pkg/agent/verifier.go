package agent

import (
	"crypto"
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/telemetry"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/keymaterial"
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/openid4vp"
	"github.com/sunet/vcengine/pkg/status"
	"github.com/sunet/vcengine/pkg/timeutil"
	"github.com/sunet/vcengine/pkg/vcjwt"
)

// StatusListFetcher resolves a revocation-list URL to the signed credential serving it.
// Network retrieval is the caller's concern; tests hand back the list directly.
type StatusListFetcher func(url string) (string, error)

// Verifier is the relying-party role: the OpenID4VP protocol verifier plus the trust and
// status wiring the per-descriptor checks need.
type Verifier struct {
	Keys     *keymaterial.KeyMaterial
	Provider cryptoprovider.Provider
	Protocol *openid4vp.Verifier
	Clock    timeutil.TimeProvider
	Leeway   time.Duration
	Log      *telemetry.Log

	// issuerKeys maps issuer key IDs to their public keys.
	issuerKeys map[string]crypto.PublicKey

	// FetchStatusList retrieves revocation list credentials; nil disables status
	// checks.
	FetchStatusList StatusListFetcher

	statusCache *status.Cache
}

// NewVerifier builds a Verifier agent with a fresh key and a started protocol core.
func NewVerifier(curve string, scheme openid4vp.ClientIDScheme, leeway time.Duration) (*Verifier, error) {
	keys, err := keymaterial.Generate(curve)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "generate verifier key")
	}
	provider, err := cryptoprovider.NewSoftware(keys.Private)
	if err != nil {
		return nil, err
	}
	protocol, err := openid4vp.New(openid4vp.VerifierConfig{
		Provider: provider,
		Keys:     keys,
		Scheme:   scheme,
		Leeway:   leeway,
	})
	if err != nil {
		return nil, err
	}
	return &Verifier{
		Keys:        keys,
		Provider:    provider,
		Protocol:    protocol,
		Clock:       timeutil.SystemClock{},
		Leeway:      leeway,
		issuerKeys:  map[string]crypto.PublicKey{},
		statusCache: status.NewCache(10 * time.Minute),
	}, nil
}

// Close stops the protocol core's stores.
func (v *Verifier) Close() { v.Protocol.Close() }

// TrustIssuer registers an issuer's public key under its key ID.
func (v *Verifier) TrustIssuer(keyID string, pub crypto.PublicKey) {
	v.issuerKeys[keyID] = pub
}

// Deps assembles the validation dependencies for ValidateResponse from the verifier's
// trust and status configuration. mdocOptions may be zero for defaults.
func (v *Verifier) Deps(mdocOptions mdoc.VerifyOptions) openid4vp.ValidateDeps {
	var fallback crypto.PublicKey
	for _, pub := range v.issuerKeys {
		if fallback == nil {
			fallback = pub
		}
	}
	deps := openid4vp.ValidateDeps{
		IssuerKeys: func(kid string) (crypto.PublicKey, bool) {
			pub, ok := v.issuerKeys[kid]
			return pub, ok
		},
		IssuerFallback: fallback,
		Mdoc:           mdoc.NewEngine(v.Provider, nil),
		MdocOptions:    mdocOptions,
	}
	if v.FetchStatusList != nil {
		deps.CheckStatus = v.checkStatus
	}
	return deps
}

// checkStatus fetches, verifies, and tests the revocation bit for one credential's
// status pointer. A bit outside the fetched list is "not revoked".
func (v *Verifier) checkStatus(s *model.CredentialStatus) (bool, error) {
	compact, err := v.FetchStatusList(s.RevocationListURL)
	if err != nil {
		return false, errs.Wrap(errs.FetchError, err, "fetch revocation list")
	}

	issuerKid := issuerOf(compact)
	pub, ok := v.issuerKeys[issuerKid]
	var opt vcjwt.VerifyOptions
	if ok {
		opt = vcjwt.VerifyOptions{Provider: v.Provider, Fallback: pub, Now: v.Clock.Now(), Leeway: v.Leeway}
	} else {
		opt = vcjwt.VerifyOptions{
			Provider: v.Provider,
			IssuerLookup: func(kid string) (crypto.PublicKey, bool) {
				p, ok := v.issuerKeys[kid]
				return p, ok
			},
			Fallback: anyKey(v.issuerKeys),
			Now:      v.Clock.Now(),
			Leeway:   v.Leeway,
		}
	}
	return status.CheckRevocationList(v.Provider, compact, opt, s.Index)
}

func anyKey(keys map[string]crypto.PublicKey) crypto.PublicKey {
	for _, pub := range keys {
		return pub
	}
	return nil
}

// issuerOf peeks the iss claim of a compact VC-JWT without verifying it; the subsequent
// verification binds it.
func issuerOf(compact string) string {
	claims, err := vcjwt.PeekClaims(compact)
	if err != nil {
		return ""
	}
	return claims.Issuer
}
