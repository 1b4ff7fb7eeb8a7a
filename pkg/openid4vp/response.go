package openid4vp

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/json"
	"net/url"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/tidwall/gjson"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/jws"
)

// ParseResponseURL extracts response parameters from a redirect-back URL, reading the
// fragment for response_mode=fragment and the query for response_mode=query.
func ParseResponseURL(raw string, responseMode string) (*ResponseParameters, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "parse response url")
	}

	var values url.Values
	switch responseMode {
	case ResponseModeFragment, "":
		values, err = url.ParseQuery(u.Fragment)
	case ResponseModeQuery:
		values = u.Query()
	default:
		return nil, errs.Newf(errs.UsageError, "response mode %q is not URL-carried", responseMode)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "parse response parameters")
	}
	return paramsFromValues(values)
}

// ParseDirectPostBody extracts response parameters from an
// application/x-www-form-urlencoded direct_post body.
func ParseDirectPostBody(body string) (*ResponseParameters, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "parse direct_post body")
	}
	return paramsFromValues(values)
}

func paramsFromValues(values url.Values) (*ResponseParameters, error) {
	out := &ResponseParameters{
		IDToken:          values.Get("id_token"),
		State:            values.Get("state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
	if vp := values.Get("vp_token"); vp != "" {
		out.VPToken = rawTokenJSON(vp)
	}
	if ps := values.Get("presentation_submission"); ps != "" {
		var submission PresentationSubmission
		if err := json.Unmarshal([]byte(ps), &submission); err != nil {
			return nil, errs.Wrap(errs.ParseError, err, "unmarshal presentation_submission")
		}
		out.PresentationSubmission = &submission
	}
	return out, nil
}

// rawTokenJSON normalizes a vp_token form value to JSON: a bare compact JWT/SD-JWT/
// base64 string becomes a JSON string, JSON arrays and objects pass through.
func rawTokenJSON(vp string) json.RawMessage {
	trimmed := strings.TrimSpace(vp)
	if gjson.Valid(trimmed) && (strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, `"`)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(trimmed)
	return quoted
}

// UnwrapDirectPostJWT unwraps the `response` parameter of direct_post.jwt: a JWE
// (five segments) is decrypted with the matching ephemeral key, its apu surfacing as the
// mdoc_generated_nonce; a signed JWS (three segments) is parsed and optionally verified
// against walletKey.
func (v *Verifier) UnwrapDirectPostJWT(response string, walletKey crypto.PublicKey) (*ResponseParameters, error) {
	switch strings.Count(response, ".") {
	case 4:
		return v.decryptResponse(response)
	case 2:
		return parseSignedResponse(response, v.provider, walletKey)
	default:
		return nil, errs.New(errs.ParseError, "response is neither a compact JWS nor a compact JWE")
	}
}

func (v *Verifier) decryptResponse(response string) (*ResponseParameters, error) {
	encrypted, err := jws.ParseCompact(response)
	if err != nil {
		return nil, err
	}

	var priv *ecdsa.PrivateKey
	var ok bool
	if encrypted.Header.Kid != "" {
		priv, ok = v.ephemeralKeys.Take(encrypted.Header.Kid)
	} else {
		priv, ok = v.ephemeralKeys.Any()
	}
	if !ok {
		return nil, errs.New(errs.UnknownKey, "no ephemeral key matches the encrypted response")
	}

	plaintext, err := jws.Decrypt(encrypted, v.provider, priv, epkToPub)
	if err != nil {
		return nil, err
	}

	params, err := paramsFromJSON(plaintext)
	if err != nil {
		return nil, err
	}
	params.MdocGeneratedNonce = string(encrypted.Header.ApuBytes())
	return params, nil
}

// parseSignedResponse handles the signed (JARM-style) direct_post.jwt variant via
// go-jose; the wallet's signature is checked when its key is known.
func parseSignedResponse(response string, provider cryptoprovider.Provider, walletKey crypto.PublicKey) (*ResponseParameters, error) {
	parsed, err := jose.ParseSigned(response, []jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512, jose.EdDSA})
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "parse signed response")
	}

	var payload []byte
	if walletKey != nil {
		payload, err = parsed.Verify(walletKey)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidSignature, err, "signed response verification failed")
		}
	} else {
		// Without a wallet key the envelope signature cannot be checked here; each
		// embedded presentation still goes through full per-descriptor verification.
		payload = parsed.UnsafePayloadWithoutVerification()
	}
	return paramsFromJSON(payload)
}

func paramsFromJSON(payload []byte) (*ResponseParameters, error) {
	var params ResponseParameters
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, errs.Wrap(errs.ParseError, err, "unmarshal response payload")
	}
	return &params, nil
}

// epkToPub converts a JWE header epk into an ECDSA public key.
func epkToPub(epk map[string]any) (*ecdsa.PublicKey, error) {
	pub, err := jwkMapToPublicKey(epk)
	if err != nil {
		return nil, err
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errs.New(errs.ParseError, "epk is not an EC key")
	}
	return ec, nil
}
