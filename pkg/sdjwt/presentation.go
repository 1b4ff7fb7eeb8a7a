package sdjwt

import (
	"strings"

	"github.com/sunet/vcengine/internal/errs"
)

// Presentation is the parsed tilde-separated form: `issuer_jwt ~ d1 ~ d2 ~ … ~
// [kb_jwt]`.
type Presentation struct {
	IssuerJWT   string
	Disclosures []string // encoded, in presentation order
	KeyBinding  string    // empty if none
}

// Serialize renders p: trailing tilde if no KB-JWT, otherwise no trailing tilde
// after the KB-JWT.
func (p Presentation) Serialize() string {
	var b strings.Builder
	b.WriteString(p.IssuerJWT)
	for _, d := range p.Disclosures {
		b.WriteByte('~')
		b.WriteString(d)
	}
	b.WriteByte('~')
	if p.KeyBinding != "" {
		b.WriteString(p.KeyBinding)
	}
	return b.String()
}

// PresentedPrefix is the exact byte sequence sd_hash is computed over: `issuer_jwt ~ d1 ~
// d2 ~ … ~`, i.e. Serialize() without the KB-JWT.
func (p Presentation) PresentedPrefix() string {
	cp := p
	cp.KeyBinding = ""
	return cp.Serialize()
}

// Parse splits a tilde-separated SD-JWT(+KB) presentation string.
func Parse(s string) (Presentation, error) {
	parts := strings.Split(s, "~")
	if len(parts) < 2 {
		return Presentation{}, errs.New(errs.ParseError, "sd-jwt presentation missing tilde separator")
	}
	issuerJWT := parts[0]
	rest := parts[1:]

	var kb string
	if rest[len(rest)-1] != "" {
		kb = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	} else {
		rest = rest[:len(rest)-1]
	}

	var disclosures []string
	for _, d := range rest {
		if d == "" {
			continue
		}
		disclosures = append(disclosures, d)
	}

	return Presentation{IssuerJWT: issuerJWT, Disclosures: disclosures, KeyBinding: kb}, nil
}

// Present selects a subset of the issued disclosures (by claim name) and assembles the
// un-key-bound presentation prefix.
func Present(issuerJWT string, all map[string]Disclosure, selected []string) (Presentation, error) {
	p := Presentation{IssuerJWT: issuerJWT}
	for _, name := range selected {
		d, ok := all[name]
		if !ok {
			return Presentation{}, errs.Newf(errs.UsageError, "no disclosure for claim %q", name)
		}
		enc, err := d.Encoded()
		if err != nil {
			return Presentation{}, err
		}
		p.Disclosures = append(p.Disclosures, enc)
	}
	return p, nil
}
