// Package x5c resolves and checks the certificate chains the engine meets in JWS "x5c"
// headers and COSE "x5chain" headers: parse, chain to a configured anchor set, and match
// the leaf's SAN dNSName against a client identifier.
package x5c

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"

	"github.com/sunet/vcengine/internal/errs"
)

// ParseChain decodes a JWS-style x5c array (base64 standard encoding of DER, leaf first).
func ParseChain(x5c []string) ([]*x509.Certificate, error) {
	if len(x5c) == 0 {
		return nil, errs.New(errs.ParseError, "empty x5c chain")
	}
	chain := make([]*x509.Certificate, 0, len(x5c))
	for _, entry := range x5c {
		der, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			return nil, errs.Wrap(errs.ParseError, err, "decode x5c entry")
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errs.Wrap(errs.ParseError, err, "parse x5c certificate")
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// ParseDERChain parses a COSE-style x5chain (raw DER byte strings, leaf first).
func ParseDERChain(ders [][]byte) ([]*x509.Certificate, error) {
	if len(ders) == 0 {
		return nil, errs.New(errs.ParseError, "empty x5chain")
	}
	chain := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errs.Wrap(errs.ParseError, err, "parse x5chain certificate")
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// EncodeChain renders certs as a JWS x5c array (leaf first).
func EncodeChain(certs []*x509.Certificate) []string {
	out := make([]string, len(certs))
	for i, c := range certs {
		out[i] = base64.StdEncoding.EncodeToString(c.Raw)
	}
	return out
}

// Verify chains chain[0] (the leaf) up to one of the trust anchors, treating any
// intermediate entries of chain as untrusted helpers. A nil or empty anchor set means the
// caller trusts the leaf as presented (self-signed roots in tests); the chain must then at
// least be internally consistent.
func Verify(chain []*x509.Certificate, anchors []*x509.Certificate) error {
	if len(chain) == 0 {
		return errs.New(errs.ParseError, "empty certificate chain")
	}

	roots := x509.NewCertPool()
	if len(anchors) == 0 {
		// Trust-on-first-use mode: the chain's own last certificate is the root.
		roots.AddCert(chain[len(chain)-1])
	} else {
		for _, a := range anchors {
			roots.AddCert(a)
		}
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return errs.Wrap(errs.UnknownKey, err, "certificate chain not anchored")
	}
	return nil
}

// LeafPublicKey returns the public key of the chain's leaf certificate.
func LeafPublicKey(chain []*x509.Certificate) (crypto.PublicKey, error) {
	if len(chain) == 0 {
		return nil, errs.New(errs.ParseError, "empty certificate chain")
	}
	return chain[0].PublicKey, nil
}

// MatchSANDNS reports whether the leaf certificate carries dnsName among its SAN
// dNSName entries. Exact match only: the x509_san_dns client-identifier scheme binds one
// identifier, not a wildcard namespace.
func MatchSANDNS(leaf *x509.Certificate, dnsName string) error {
	for _, san := range leaf.DNSNames {
		if san == dnsName {
			return nil
		}
	}
	return errs.Newf(errs.InvalidStructure, "certificate SAN dNSName does not include %q", dnsName)
}
