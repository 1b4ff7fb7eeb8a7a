package sdjwt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
	"github.com/sunet/vcengine/pkg/timeutil"
)

// KeyBindingClaims is the KB-JWT payload.
type KeyBindingClaims struct {
	Nonce    string               `json:"nonce"`
	Audience string               `json:"aud"`
	IssuedAt timeutil.NumericDate `json:"iat"`
	SDHash   string               `json:"sd_hash"`
}

// BuildKeyBinding signs a KB-JWT over presented, binding it to nonce and aud with the
// holder's provider (its cnf.jwk key).
func BuildKeyBinding(provider cryptoprovider.Provider, presented Presentation, nonce, aud string, now timeutil.NumericDate) (string, error) {
	prefix := presented.PresentedPrefix()
	sum := sha256.Sum256([]byte(prefix))
	claims := KeyBindingClaims{
		Nonce:    nonce,
		Audience: aud,
		IssuedAt: now,
		SDHash:   base64.RawURLEncoding.EncodeToString(sum[:]),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", errs.Wrap(errs.UsageError, err, "marshal kb-jwt claims")
	}
	signed, err := jws.Build(provider, payload, jws.RefNone, nil, map[string]any{"typ": "kb+jwt"})
	if err != nil {
		return "", err
	}
	return signed.Compact()
}
