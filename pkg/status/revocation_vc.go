package status

import (
	"time"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/timeutil"
	"github.com/sunet/vcengine/pkg/vcjwt"
)

// RevocationListCredential is a VC whose subject embeds a compressed bit array.
type RevocationListCredential struct {
	Compact string
	Bits    int
}

// IssueRevocationList builds and signs a VC-JWT carrying list as its credentialSubject,
// "Wrap in a VC signed by the issuer".
func IssueRevocationList(provider cryptoprovider.Provider, issuer, id string, list *BitList, now time.Time, validity time.Duration) (*RevocationListCredential, error) {
	encoded, err := list.Encode()
	if err != nil {
		return nil, err
	}
	meta := model.CredentialMeta{
		ID:        id,
		Type:      "RevocationList2024",
		Issuer:    issuer,
		Subject:   id,
		NotBefore: timeutil.NewNumericDate(now),
		ExpiresAt: timeutil.NewNumericDate(now.Add(validity)),
	}
	subject := model.CredentialSubject{
		ID: id,
		Claims: model.ClaimSet{
			"encodedList": encoded,
			"bits":        list.n,
		},
	}
	compact, err := vcjwt.Issue(provider, meta, subject)
	if err != nil {
		return nil, err
	}
	return &RevocationListCredential{Compact: compact, Bits: list.n}, nil
}

// CheckRevocationList verifies compact as a VC-JWT and reports whether index is revoked in
// its embedded bit array.
func CheckRevocationList(provider cryptoprovider.Provider, compact string, opt vcjwt.VerifyOptions, index int) (bool, error) {
	result, err := vcjwt.Verify(compact, opt)
	if err != nil {
		return false, err
	}
	encoded, _ := result.Claims.VC.CredentialSubject["encodedList"].(string)
	if encoded == "" {
		return false, errs.New(errs.InvalidStructure, "revocation list credential missing encodedList")
	}
	bits, _ := result.Claims.VC.CredentialSubject["bits"].(float64)
	n := int(bits)
	if n == 0 {
		n = DefaultBits
	}
	list, err := DecodeBitList(encoded, n)
	if err != nil {
		return false, err
	}
	return list.Get(index), nil
}
