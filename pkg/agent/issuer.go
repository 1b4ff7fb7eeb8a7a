// Package agent wires the engines into the three protocol roles: an Issuer signing
// one credential into any of the three representations, a Holder storing credentials and
// building presentations, and a Verifier validating whatever comes back, with revocation
// checked through the status subsystem.
package agent

import (
	"crypto"
	"time"

	"github.com/google/uuid"

	"github.com/sunet/vcengine/internal/errs"
	"github.com/sunet/vcengine/internal/telemetry"
	"github.com/sunet/vcengine/pkg/cryptoprovider"
	"github.com/sunet/vcengine/pkg/keymaterial"
	"github.com/sunet/vcengine/pkg/mdoc"
	"github.com/sunet/vcengine/pkg/model"
	"github.com/sunet/vcengine/pkg/openid4vp"
	"github.com/sunet/vcengine/pkg/sdjwt"
	"github.com/sunet/vcengine/pkg/status"
	"github.com/sunet/vcengine/pkg/timeutil"
	"github.com/sunet/vcengine/pkg/vcjwt"
)

// Issuer signs credentials with one identity key, across all three representations.
type Issuer struct {
	Keys     *keymaterial.KeyMaterial
	Provider cryptoprovider.Provider
	Registry *mdoc.TypeCodecRegistry
	Clock    timeutil.TimeProvider
	Validity time.Duration
	Log      *telemetry.Log

	revocation *status.BitList
	statusURL  string
	nextIndex  int
}

// NewIssuer builds an Issuer with a fresh key on the given curve.
func NewIssuer(curve string, validity time.Duration) (*Issuer, error) {
	keys, err := keymaterial.Generate(curve)
	if err != nil {
		return nil, errs.Wrap(errs.UsageError, err, "generate issuer key")
	}
	provider, err := cryptoprovider.NewSoftware(keys.Private)
	if err != nil {
		return nil, err
	}
	return &Issuer{
		Keys:     keys,
		Provider: provider,
		Clock:    timeutil.SystemClock{},
		Validity: validity,
	}, nil
}

// EnableRevocation starts tracking issued credentials against a bit list published at
// listURL. Every credential issued afterwards with WithStatus set gets the next free index.
func (i *Issuer) EnableRevocation(listURL string, bits int) {
	if bits <= 0 {
		bits = status.DefaultBits
	}
	i.revocation = status.NewBitList(bits)
	i.statusURL = listURL
}

// Revoke sets the revocation bit for index.
func (i *Issuer) Revoke(index int) error {
	if i.revocation == nil {
		return errs.New(errs.UsageError, "revocation not enabled")
	}
	i.revocation.Set(index, true)
	return nil
}

// RevocationListCredential signs the current bit list as a VC.
func (i *Issuer) RevocationListCredential() (string, error) {
	if i.revocation == nil {
		return "", errs.New(errs.UsageError, "revocation not enabled")
	}
	cred, err := status.IssueRevocationList(i.Provider, i.Keys.ID, i.statusURL, i.revocation, i.Clock.Now(), i.Validity)
	if err != nil {
		return "", err
	}
	return cred.Compact, nil
}

func (i *Issuer) nextStatus() *model.CredentialStatus {
	if i.revocation == nil {
		return nil
	}
	s := &model.CredentialStatus{
		Type:              "RevocationList2024",
		RevocationListURL: i.statusURL,
		Index:             i.nextIndex,
	}
	i.nextIndex++
	return s
}

// IssueInput describes one credential to issue, representation-independent.
type IssueInput struct {
	Format Format

	// Type is the VC type, SD-JWT vct, or mdoc docType.
	Type string

	// Claims is the attested claim set. For mdoc the Type doubles as the single
	// namespace unless Namespaces is set.
	Claims     model.ClaimSet
	Namespaces model.NamespacedClaims

	// Selective marks SD-JWT claims to hide behind _sd digests; nil means all claims
	// are selectively disclosable.
	Selective model.SelectiveDisclosureHint

	// HolderID is the holder's stable key identifier (VC-JWT sub).
	HolderID string

	// HolderKey is the holder's public key: cnf.jwk for SD-JWT, deviceKey for mdoc.
	HolderKey crypto.PublicKey

	// HolderJWK is the holder key as a JWK map; derived from HolderKey when nil.
	HolderJWK map[string]any

	// WithStatus embeds a credentialStatus pointing at the issuer's revocation list.
	WithStatus bool
}

// Issue signs one credential in the requested representation and returns it in
// store-ready form.
func (i *Issuer) Issue(in IssueInput) (*StoredCredential, error) {
	now := i.Clock.Now()
	meta := model.CredentialMeta{
		ID:        "urn:uuid:" + uuid.NewString(),
		Type:      in.Type,
		Issuer:    i.Keys.ID,
		Subject:   in.HolderID,
		IssuedAt:  timeutil.NewNumericDate(now),
		NotBefore: timeutil.NewNumericDate(now),
		ExpiresAt: timeutil.NewNumericDate(now.Add(i.Validity)),
	}
	if in.WithStatus {
		meta.Status = i.nextStatus()
	}

	switch in.Format {
	case FormatVCJWT:
		compact, err := vcjwt.Issue(i.Provider, meta, model.CredentialSubject{ID: in.HolderID, Claims: in.Claims})
		if err != nil {
			return nil, err
		}
		return &StoredCredential{ID: meta.ID, Format: FormatVCJWT, Type: in.Type, Compact: compact}, nil

	case FormatSDJWT:
		selective := in.Selective
		if selective == nil {
			selective = model.SelectiveDisclosureHint{}
			for name := range in.Claims {
				selective[name] = true
			}
		}
		holderJWK, err := i.holderJWK(in)
		if err != nil {
			return nil, err
		}
		issued, err := sdjwt.Issue(i.Provider, sdjwt.IssueParams{
			Meta:      meta,
			Claims:    in.Claims,
			Selective: selective,
			HolderCnf: holderJWK,
			VCT:       in.Type,
		})
		if err != nil {
			return nil, err
		}
		disclosures := map[string]string{}
		for name, d := range issued.Disclosures {
			enc, err := d.Encoded()
			if err != nil {
				return nil, err
			}
			disclosures[name] = enc
		}
		return &StoredCredential{
			ID: meta.ID, Format: FormatSDJWT, Type: in.Type,
			Compact: issued.IssuerJWT, Disclosures: disclosures,
		}, nil

	case FormatMdoc:
		if in.HolderKey == nil {
			return nil, errs.New(errs.UsageError, "mdoc issuance requires the holder device key")
		}
		namespaces := in.Namespaces
		if namespaces == nil {
			namespaces = model.NamespacedClaims{model.Namespace(in.Type): in.Claims}
		}
		if in.WithStatus && meta.Status != nil {
			for ns := range namespaces {
				namespaces[ns]["status"] = map[string]any{"status_list": map[string]any{
					"uri": meta.Status.RevocationListURL,
					"idx": meta.Status.Index,
				}}
				break
			}
		}
		engine := mdoc.NewEngine(i.Provider, i.Registry)
		issued, err := engine.Issue(mdoc.IssueParams{
			DocType:    in.Type,
			Claims:     namespaces,
			DeviceKey:  in.HolderKey,
			Signed:     now,
			ValidFrom:  now,
			ValidUntil: now.Add(i.Validity),
		})
		if err != nil {
			return nil, err
		}
		encoded, err := mdoc.Marshal(issued.IssuerSigned)
		if err != nil {
			return nil, err
		}
		return &StoredCredential{
			ID: meta.ID, Format: FormatMdoc, Type: in.Type,
			MdocIssuerSigned: encoded,
		}, nil

	default:
		return nil, errs.Newf(errs.UsageError, "unknown credential format %q", in.Format)
	}
}

func (i *Issuer) holderJWK(in IssueInput) (map[string]any, error) {
	if in.HolderJWK != nil {
		return in.HolderJWK, nil
	}
	if in.HolderKey == nil {
		return nil, errs.New(errs.UsageError, "sd-jwt issuance requires the holder key")
	}
	return openid4vp.PublicKeyToJWK(in.HolderKey)
}
