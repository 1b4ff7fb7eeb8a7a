package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/openid4vp"
)

func testRoles(t *testing.T) (*Issuer, *Holder, *Verifier) {
	t.Helper()
	issuer, err := NewIssuer("P-256", time.Hour)
	require.NoError(t, err)
	holder, err := NewHolder("P-256")
	require.NoError(t, err)
	verifier, err := NewVerifier("P-256", openid4vp.PreRegistered("https://verifier.example/rp1", ""), 30*time.Second)
	require.NoError(t, err)
	t.Cleanup(verifier.Close)

	verifier.TrustIssuer(issuer.Keys.ID, issuer.Provider.PublicKey())
	return issuer, holder, verifier
}

func definition(format string) *openid4vp.PresentationDefinition {
	return &openid4vp.PresentationDefinition{
		ID: "pd-1",
		InputDescriptors: []openid4vp.InputDescriptor{{
			ID:     "descriptor-1",
			Format: map[string]openid4vp.Format{format: {Alg: []string{"ES256"}}},
		}},
	}
}

func TestThreeRolesVCJWT(t *testing.T) {
	issuer, holder, verifier := testRoles(t)

	cred, err := issuer.Issue(IssueInput{
		Format:   FormatVCJWT,
		Type:     model.TypeAtomicAttribute,
		Claims:   model.ClaimSet{"given-name": "Erika"},
		HolderID: holder.Keys.ID,
	})
	require.NoError(t, err)
	require.NoError(t, holder.Store.Add(cred))

	created, err := verifier.Protocol.CreateRequest(openid4vp.CreateRequestInput{
		Mode:                   openid4vp.ModeQuery,
		ResponseMode:           openid4vp.ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: definition(openid4vp.FormatJWTVC),
	})
	require.NoError(t, err)

	presentation, err := holder.CreatePresentation(&created.Params, PresentationInput{})
	require.NoError(t, err)

	parsed, err := openid4vp.ParseResponseURL(presentation.Encoded, openid4vp.ResponseModeFragment)
	require.NoError(t, err)

	deps := verifier.Deps(mdoc.VerifyOptions{})
	deps.HolderKeyID = holder.Keys.ID
	result := verifier.Protocol.ValidateResponse(parsed, deps)

	success, ok := result.(openid4vp.Success)
	require.True(t, ok, "got %#v", result)
	assert.Equal(t, "Erika", success.VC.Claims.VC.CredentialSubject["given-name"])
	assert.False(t, success.IsRevoked)
}

func TestThreeRolesSDJWTSelective(t *testing.T) {
	issuer, holder, verifier := testRoles(t)

	cred, err := issuer.Issue(IssueInput{
		Format:    FormatSDJWT,
		Type:      model.TypeAtomicAttribute,
		Claims:    model.ClaimSet{"given-name": "Erika", "family-name": "Mustermann", "age-over-18": true},
		HolderID:  holder.Keys.ID,
		HolderKey: holder.Provider.PublicKey(),
	})
	require.NoError(t, err)
	require.NoError(t, holder.Store.Add(cred))

	created, err := verifier.Protocol.CreateRequest(openid4vp.CreateRequestInput{
		Mode:                   openid4vp.ModeQuery,
		ResponseMode:           openid4vp.ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: definition(openid4vp.FormatSDJWTVC),
	})
	require.NoError(t, err)

	presentation, err := holder.CreatePresentation(&created.Params, PresentationInput{
		DisclosedClaims: []string{"age-over-18"},
	})
	require.NoError(t, err)

	parsed, err := openid4vp.ParseResponseURL(presentation.Encoded, openid4vp.ResponseModeFragment)
	require.NoError(t, err)

	result := verifier.Protocol.ValidateResponse(parsed, verifier.Deps(mdoc.VerifyOptions{}))
	success, ok := result.(openid4vp.SuccessSdJwt)
	require.True(t, ok, "got %#v", result)
	assert.Equal(t, true, success.Claims["age-over-18"])
	_, leaked := success.Claims["family-name"]
	assert.False(t, leaked)
}

func TestThreeRolesMdocEncrypted(t *testing.T) {
	issuer, holder, verifier := testRoles(t)

	cred, err := issuer.Issue(IssueInput{
		Format:    FormatMdoc,
		Type:      model.TypeIdentityCard,
		Claims:    model.ClaimSet{"given_name": "Erika", "age_over_18": true},
		HolderKey: holder.Provider.PublicKey(),
	})
	require.NoError(t, err)
	require.NoError(t, holder.Store.Add(cred))

	created, err := verifier.Protocol.CreateRequest(openid4vp.CreateRequestInput{
		Mode:                   openid4vp.ModeQuery,
		ResponseMode:           openid4vp.ResponseModeDirectPostJWT,
		ResponseURI:            "https://verifier.example/cb",
		PresentationDefinition: definition(openid4vp.FormatMsoMdoc),
		Encrypt:                true,
	})
	require.NoError(t, err)

	presentation, err := holder.CreatePresentation(&created.Params, PresentationInput{
		DisclosedClaims: []string{"age_over_18"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, presentation.MdocGeneratedNonce)

	unwrapped, err := verifier.Protocol.UnwrapDirectPostJWT(presentation.Encoded, nil)
	require.NoError(t, err)
	assert.Equal(t, presentation.MdocGeneratedNonce, unwrapped.MdocGeneratedNonce)

	result := verifier.Protocol.ValidateResponse(unwrapped, verifier.Deps(mdoc.VerifyOptions{
		IssuerKey: issuer.Provider.PublicKey(),
		Now:       time.Now(),
		Leeway:    30 * time.Second,
	}))
	success, ok := result.(openid4vp.SuccessIso)
	require.True(t, ok, "got %#v", result)
	require.Len(t, success.Documents, 1)
	claims := success.Documents[0].Claims[model.TypeIdentityCard]
	assert.Equal(t, true, claims["age_over_18"])
	_, leaked := claims["given_name"]
	assert.False(t, leaked)
}

// Revocation is orthogonal to cryptographic validity — the presentation
// verifies, with IsRevoked set.
func TestRevokedCredentialStillVerifies(t *testing.T) {
	issuer, holder, verifier := testRoles(t)
	issuer.EnableRevocation("https://issuer.example/status/1", 1024)

	// burn indices 0..41 so the credential under test sits at bit 42
	issuer.nextIndex = 42

	cred, err := issuer.Issue(IssueInput{
		Format:     FormatVCJWT,
		Type:       model.TypeAtomicAttribute,
		Claims:     model.ClaimSet{"given-name": "Erika"},
		HolderID:   holder.Keys.ID,
		WithStatus: true,
	})
	require.NoError(t, err)
	require.NoError(t, holder.Store.Add(cred))

	require.NoError(t, issuer.Revoke(42))
	listVC, err := issuer.RevocationListCredential()
	require.NoError(t, err)

	verifier.FetchStatusList = func(url string) (string, error) {
		assert.Equal(t, "https://issuer.example/status/1", url)
		return listVC, nil
	}

	created, err := verifier.Protocol.CreateRequest(openid4vp.CreateRequestInput{
		Mode:                   openid4vp.ModeQuery,
		ResponseMode:           openid4vp.ResponseModeFragment,
		RedirectURI:            "https://verifier.example/back",
		PresentationDefinition: definition(openid4vp.FormatJWTVC),
	})
	require.NoError(t, err)

	presentation, err := holder.CreatePresentation(&created.Params, PresentationInput{})
	require.NoError(t, err)
	parsed, err := openid4vp.ParseResponseURL(presentation.Encoded, openid4vp.ResponseModeFragment)
	require.NoError(t, err)

	deps := verifier.Deps(mdoc.VerifyOptions{})
	deps.HolderKeyID = holder.Keys.ID
	result := verifier.Protocol.ValidateResponse(parsed, deps)

	success, ok := result.(openid4vp.Success)
	require.True(t, ok, "got %#v", result)
	assert.True(t, success.IsRevoked, "revoked bit must surface on an otherwise valid credential")
}

func TestCredentialStoreDuplicateAndRemove(t *testing.T) {
	store := NewCredentialStore()
	require.NoError(t, store.Add(&StoredCredential{ID: "a", Format: FormatVCJWT}))
	require.Error(t, store.Add(&StoredCredential{ID: "a", Format: FormatVCJWT}))

	_, ok := store.FindByFormat(FormatVCJWT)
	assert.True(t, ok)

	assert.True(t, store.Remove("a"))
	assert.False(t, store.Remove("a"))
	_, ok = store.Get("a")
	assert.False(t, ok)
}
