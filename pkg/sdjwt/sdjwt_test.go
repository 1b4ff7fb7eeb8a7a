package sdjwt_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/sdjwt"
	"github.com/sunet/vcengine/pkg/timeutil"
)

func newProvider(t *testing.T) (*ecdsa.PrivateKey, cryptoprovider.Provider) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	p, err := cryptoprovider.NewSoftware(priv)
	require.NoError(t, err)
	return priv, p
}

func fixedNow() time.Time {
	return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
}

func TestIssueAndSelectiveDisclosurePresentation(t *testing.T) {
	_, issuerProv := newProvider(t)
	holderPriv, holderProv := newProvider(t)

	issued, err := sdjwt.Issue(issuerProv, sdjwt.IssueParams{
		Meta: model.CredentialMeta{
			Issuer:   "https://issuer.example",
			IssuedAt: timeutil.NewNumericDate(fixedNow()),
		},
		Claims: model.ClaimSet{
			"given-name":   "Erika",
			"family-name":  "Mustermann",
			"age-over-18":  true,
		},
		Selective: model.SelectiveDisclosureHint{
			"given-name":  true,
			"family-name": true,
			"age-over-18": true,
		},
		HolderCnf: map[string]any{"kty": "EC", "crv": "P-256"},
		VCT:       "AtomicAttribute2023",
	})
	require.NoError(t, err)
	require.Len(t, issued.Disclosures, 3)

	presentation, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"age-over-18"})
	require.NoError(t, err)

	kb, err := sdjwt.BuildKeyBinding(holderProv, presentation, "n2", "https://verifier.example/rp1", timeutil.NewNumericDate(fixedNow()))
	require.NoError(t, err)
	presentation.KeyBinding = kb

	result, err := sdjwt.Verify(presentation.Serialize(), sdjwt.VerifyOptions{
		Provider:       issuerProv,
		IssuerFallback: issuerProv.PublicKey(),
		JWKToPub: func(m map[string]any) (crypto.PublicKey, error) {
			return holderPriv.Public(), nil
		},
		ExpectedAud:   "https://verifier.example/rp1",
		ExpectedNonce: "n2",
		Now:           timeutil.NewNumericDate(fixedNow()),
		Leeway:        0,
	})
	require.NoError(t, err)
	require.Equal(t, true, result.Claims["age-over-18"])
	require.NotContains(t, result.Claims, "given-name")
	require.NotContains(t, result.Claims, "family-name")
}

func issueThree(t *testing.T, issuerProv cryptoprovider.Provider) *sdjwt.IssuedSDJWT {
	t.Helper()
	issued, err := sdjwt.Issue(issuerProv, sdjwt.IssueParams{
		Meta: model.CredentialMeta{
			Issuer:   "https://issuer.example",
			IssuedAt: timeutil.NewNumericDate(fixedNow()),
		},
		Claims: model.ClaimSet{
			"given-name":  "Erika",
			"family-name": "Mustermann",
			"age-over-18": true,
		},
		Selective: model.SelectiveDisclosureHint{
			"given-name":  true,
			"family-name": true,
			"age-over-18": true,
		},
		HolderCnf: map[string]any{"kty": "EC", "crv": "P-256"},
		VCT:       "AtomicAttribute2023",
	})
	require.NoError(t, err)
	return issued
}

func TestEmptyDisclosureSetIsValid(t *testing.T) {
	_, issuerProv := newProvider(t)
	issued := issueThree(t, issuerProv)

	presentation, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, nil)
	require.NoError(t, err)

	result, err := sdjwt.Verify(presentation.Serialize(), sdjwt.VerifyOptions{
		Provider:       issuerProv,
		IssuerFallback: issuerProv.PublicKey(),
		Now:            timeutil.NewNumericDate(fixedNow()),
	})
	require.NoError(t, err)
	require.NotContains(t, result.Claims, "given-name")
	require.NotContains(t, result.Claims, "family-name")
	require.NotContains(t, result.Claims, "age-over-18")
	require.Empty(t, result.Disclosed)
}

func TestDuplicateDisclosureRejected(t *testing.T) {
	_, issuerProv := newProvider(t)
	issued := issueThree(t, issuerProv)

	presentation, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"given-name"})
	require.NoError(t, err)
	presentation.Disclosures = append(presentation.Disclosures, presentation.Disclosures[0])

	_, err = sdjwt.Verify(presentation.Serialize(), sdjwt.VerifyOptions{
		Provider:       issuerProv,
		IssuerFallback: issuerProv.PublicKey(),
		Now:            timeutil.NewNumericDate(fixedNow()),
	})
	require.Error(t, err)
}

func TestUncommittedDisclosureRejected(t *testing.T) {
	_, issuerProv := newProvider(t)
	issued := issueThree(t, issuerProv)

	foreign := sdjwt.Disclosure{Salt: "c2FsdHNhbHRzYWx0c2FsdA", ClaimName: "planted", Value: "x"}
	enc, err := foreign.Encoded()
	require.NoError(t, err)

	presentation, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"given-name"})
	require.NoError(t, err)
	presentation.Disclosures = append(presentation.Disclosures, enc)

	_, err = sdjwt.Verify(presentation.Serialize(), sdjwt.VerifyOptions{
		Provider:       issuerProv,
		IssuerFallback: issuerProv.PublicKey(),
		Now:            timeutil.NewNumericDate(fixedNow()),
	})
	require.Error(t, err)
}

func TestKeyBindingOverDifferentPrefixRejected(t *testing.T) {
	_, issuerProv := newProvider(t)
	holderPriv, holderProv := newProvider(t)
	issued := issueThree(t, issuerProv)

	presented, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"age-over-18"})
	require.NoError(t, err)
	other, err := sdjwt.Present(issued.IssuerJWT, issued.Disclosures, []string{"given-name"})
	require.NoError(t, err)

	// sd_hash computed over a different disclosure set than the one actually sent.
	kb, err := sdjwt.BuildKeyBinding(holderProv, other, "n9", "https://verifier.example/rp1", timeutil.NewNumericDate(fixedNow()))
	require.NoError(t, err)
	presented.KeyBinding = kb

	_, err = sdjwt.Verify(presented.Serialize(), sdjwt.VerifyOptions{
		Provider:       issuerProv,
		IssuerFallback: issuerProv.PublicKey(),
		JWKToPub: func(m map[string]any) (crypto.PublicKey, error) {
			return holderPriv.Public(), nil
		},
		ExpectedAud:   "https://verifier.example/rp1",
		ExpectedNonce: "n9",
		Now:           timeutil.NewNumericDate(fixedNow()),
	})
	require.Error(t, err)
}

func TestSerializeTrailingTildeForms(t *testing.T) {
	p := sdjwt.Presentation{IssuerJWT: "a.b.c", Disclosures: []string{"d1"}}
	require.Equal(t, "a.b.c~d1~", p.Serialize())
	p.KeyBinding = "k.b.j"
	require.Equal(t, "a.b.c~d1~k.b.j", p.Serialize())

	parsed, err := sdjwt.Parse("a.b.c~d1~k.b.j")
	require.NoError(t, err)
	require.Equal(t, "a.b.c", parsed.IssuerJWT)
	require.Equal(t, []string{"d1"}, parsed.Disclosures)
	require.Equal(t, "k.b.j", parsed.KeyBinding)

	parsed, err = sdjwt.Parse("a.b.c~d1~")
	require.NoError(t, err)
	require.Empty(t, parsed.KeyBinding)
}
