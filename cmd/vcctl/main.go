// vcctl is the reference CLI over the engine: issue a credential into any of the three
// representations, present it, verify a full protocol round trip, and render a request
// URL as a QR code for cross-device testing. Exit codes: 0 success, 2 validation
// failure, 3 I/O, 4 usage.
package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/sunet/vcengine/internal/config"
	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/telemetry"
	"github.com/sunet/vcengine/pkg/agent"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/openid4vp"
)

const (
	exitOK         = 0
	exitValidation = 2
	exitIO         = 3
	exitUsage      = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}
	switch args[0] {
	case "issue":
		return cmdIssue(args[1:])
	case "present":
		return cmdPresent(args[1:])
	case "verify":
		return cmdVerify(args[1:])
	case "request":
		return cmdRequest(args[1:])
	default:
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vcctl <issue|present|verify|request> [flags]

  issue    -format jwt_vc|vc+sd-jwt|mso_mdoc -type T -claims JSON -bundle FILE
  present  -bundle FILE [-claims name,name] [-nonce N] [-aud URI]
  verify   -bundle FILE [-claims name,name]
  request  -client-id ID -redirect-uri URI [-qr FILE.png]`)
}

// bundle is the issued-credential state handed between subcommands: the credential plus
// the key material a later presentation needs. Dev-tool only; real holders keep keys in
// a wallet store.
type bundle struct {
	Credential agent.StoredCredential `json:"credential"`
	IssuerKid  string                 `json:"issuer_kid"`
	IssuerPub  string                 `json:"issuer_pub"`  // base64 PKIX DER
	HolderPriv string                 `json:"holder_priv"` // base64 EC DER
	HolderKid  string                 `json:"holder_kid"`
}

func cmdIssue(args []string) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	format := fs.String("format", string(agent.FormatVCJWT), "credential format")
	credType := fs.String("type", model.TypeAtomicAttribute, "credential type / vct / docType")
	claimsJSON := fs.String("claims", `{"given-name":"Erika"}`, "claims as a JSON object")
	bundlePath := fs.String("bundle", "credential.json", "output bundle path")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var claims model.ClaimSet
	if err := json.Unmarshal([]byte(*claimsJSON), &claims); err != nil {
		fmt.Fprintln(os.Stderr, "vcctl: claims must be a JSON object:", err)
		return exitUsage
	}

	cfg := config.Default()
	issuer, err := agent.NewIssuer("P-256", cfg.Validity.DefaultCredentialTTL)
	if err != nil {
		return report(err)
	}
	holder, err := agent.NewHolder("P-256")
	if err != nil {
		return report(err)
	}

	cred, err := issuer.Issue(agent.IssueInput{
		Format:    agent.Format(*format),
		Type:      *credType,
		Claims:    claims,
		HolderID:  holder.Keys.ID,
		HolderKey: holder.Provider.PublicKey(),
	})
	if err != nil {
		return report(err)
	}

	issuerPub, err := x509.MarshalPKIXPublicKey(issuer.Provider.PublicKey())
	if err != nil {
		return report(err)
	}
	holderPriv, err := x509.MarshalECPrivateKey(holder.Keys.Private.(*ecdsa.PrivateKey))
	if err != nil {
		return report(err)
	}

	out := bundle{
		Credential: *cred,
		IssuerKid:  issuer.Keys.ID,
		IssuerPub:  base64.StdEncoding.EncodeToString(issuerPub),
		HolderPriv: base64.StdEncoding.EncodeToString(holderPriv),
		HolderKid:  holder.Keys.ID,
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return report(err)
	}
	if err := os.WriteFile(*bundlePath, raw, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "vcctl:", err)
		return exitIO
	}
	fmt.Printf("issued %s credential %s -> %s\n", cred.Format, cred.ID, *bundlePath)
	return exitOK
}

func loadBundle(path string) (*bundle, *agent.Holder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var b bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, nil, err
	}

	privDER, err := base64.StdEncoding.DecodeString(b.HolderPriv)
	if err != nil {
		return nil, nil, err
	}
	priv, err := x509.ParseECPrivateKey(privDER)
	if err != nil {
		return nil, nil, err
	}
	holder, err := agent.NewHolder("P-256")
	if err != nil {
		return nil, nil, err
	}
	holder.Keys.ID = b.HolderKid
	holder.Keys.Private = priv
	holder.Provider, err = cryptoprovider.NewSoftware(priv)
	if err != nil {
		return nil, nil, err
	}
	if err := holder.Store.Add(&b.Credential); err != nil {
		return nil, nil, err
	}
	return &b, holder, nil
}

func splitClaims(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func cmdPresent(args []string) int {
	fs := flag.NewFlagSet("present", flag.ContinueOnError)
	bundlePath := fs.String("bundle", "credential.json", "bundle path from `vcctl issue`")
	claims := fs.String("claims", "", "comma-separated claim names to disclose (default all)")
	nonce := fs.String("nonce", "demo-nonce", "verifier nonce to bind")
	aud := fs.String("aud", "https://verifier.example/rp1", "verifier client_id")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	_, holder, err := loadBundle(*bundlePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vcctl:", err)
		return exitIO
	}

	request := &openid4vp.AuthenticationRequestParameters{
		ResponseType: openid4vp.ResponseTypeVPToken,
		ClientID:     *aud,
		Nonce:        *nonce,
		State:        "cli",
		ResponseMode: openid4vp.ResponseModeDirectPost,
		ResponseURI:  *aud + "/cb",
	}
	presentation, err := holder.CreatePresentation(request, agent.PresentationInput{
		DisclosedClaims: splitClaims(*claims),
	})
	if err != nil {
		return report(err)
	}
	fmt.Println(presentation.Encoded)
	return exitOK
}

// cmdVerify drives the full protocol loop in one process: create a request, answer it
// from the bundle, validate the response.
func cmdVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	bundlePath := fs.String("bundle", "credential.json", "bundle path from `vcctl issue`")
	claims := fs.String("claims", "", "comma-separated claim names to disclose (default all)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	log, err := telemetry.New("vcctl", false)
	if err != nil {
		return report(err)
	}

	b, holder, err := loadBundle(*bundlePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vcctl:", err)
		return exitIO
	}

	issuerPubDER, err := base64.StdEncoding.DecodeString(b.IssuerPub)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vcctl:", err)
		return exitIO
	}
	issuerPub, err := x509.ParsePKIXPublicKey(issuerPubDER)
	if err != nil {
		return report(err)
	}

	verifier, err := agent.NewVerifier("P-256", openid4vp.PreRegistered("https://verifier.example/rp1", ""), 30*time.Second)
	if err != nil {
		return report(err)
	}
	defer verifier.Close()
	verifier.TrustIssuer(b.IssuerKid, issuerPub)
	verifier.Log = log

	formatName := map[agent.Format]string{
		agent.FormatVCJWT: openid4vp.FormatJWTVC,
		agent.FormatSDJWT: openid4vp.FormatSDJWTVC,
		agent.FormatMdoc:  openid4vp.FormatMsoMdoc,
	}[b.Credential.Format]

	created, err := verifier.Protocol.CreateRequest(openid4vp.CreateRequestInput{
		Mode:         openid4vp.ModeQuery,
		ResponseMode: openid4vp.ResponseModeFragment,
		RedirectURI:  "https://verifier.example/back",
		PresentationDefinition: &openid4vp.PresentationDefinition{
			ID: "vcctl",
			InputDescriptors: []openid4vp.InputDescriptor{{
				ID:     "vcctl-1",
				Format: map[string]openid4vp.Format{formatName: {Alg: []string{"ES256"}}},
			}},
		},
	})
	if err != nil {
		return report(err)
	}

	presentation, err := holder.CreatePresentation(&created.Params, agent.PresentationInput{
		DisclosedClaims: splitClaims(*claims),
	})
	if err != nil {
		return report(err)
	}
	parsed, err := openid4vp.ParseResponseURL(presentation.Encoded, openid4vp.ResponseModeFragment)
	if err != nil {
		return report(err)
	}

	deps := verifier.Deps(mdocOptions(issuerPub))
	deps.HolderKeyID = holder.Keys.ID
	result := verifier.Protocol.ValidateResponse(parsed, deps)

	switch r := result.(type) {
	case openid4vp.Success, openid4vp.SuccessSdJwt, openid4vp.SuccessIso:
		out, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(out))
		return exitOK
	default:
		out, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(os.Stderr, string(out))
		return exitValidation
	}
}

func mdocOptions(issuerPub crypto.PublicKey) mdoc.VerifyOptions {
	return mdoc.VerifyOptions{
		IssuerKey:                issuerPub,
		Now:                      time.Now(),
		Leeway:                   30 * time.Second,
		AllowLegacyDeviceBinding: true, // the in-process loop answers over fragment mode
	}
}

func cmdRequest(args []string) int {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	clientID := fs.String("client-id", "https://verifier.example/rp1", "verifier client_id")
	redirectURI := fs.String("redirect-uri", "https://verifier.example/back", "redirect_uri")
	qrPath := fs.String("qr", "", "write the request URL as a QR PNG")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	verifier, err := agent.NewVerifier("P-256", openid4vp.PreRegistered(*clientID, ""), 30*time.Second)
	if err != nil {
		return report(err)
	}
	defer verifier.Close()

	created, err := verifier.Protocol.CreateRequest(openid4vp.CreateRequestInput{
		Mode:         openid4vp.ModeQuery,
		ResponseMode: openid4vp.ResponseModeFragment,
		RedirectURI:  *redirectURI,
	})
	if err != nil {
		return report(err)
	}

	fmt.Println(created.URL)
	if *qrPath != "" {
		if err := qrcode.WriteFile(created.URL, qrcode.Medium, 256, *qrPath); err != nil {
			fmt.Fprintln(os.Stderr, "vcctl:", err)
			return exitIO
		}
		fmt.Printf("qr written to %s\n", *qrPath)
	}
	return exitOK
}

// report maps an engine error onto the CLI's exit-code contract and prints it as an RFC
// 7807 problem document.
func report(err error) int {
	if e, ok := errs.As(err); ok {
		problem := e.ToProblem()
		out, _ := json.MarshalIndent(problem, "", "  ")
		fmt.Fprintln(os.Stderr, string(out))
		switch e.Kind {
		case errs.UsageError:
			return exitUsage
		case errs.FetchError:
			return exitIO
		default:
			return exitValidation
		}
	}
	fmt.Fprintln(os.Stderr, "vcctl:", err)
	return exitValidation
}
