/*
Package chain models the certificate chain carried as certification data in a TDX quote.

A chain is ordered leaf first: index 0 is the certificate whose key signed the evidence,
the last certificate is expected to be a trust anchor. Building a chain performs no
cryptographic validation; see the verification package for that.
*/
package chain

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/verification/types"
)

// MaxLength is the maximum number of certificates accepted in a chain.
const MaxLength = 8

const pemPrefix = "-----BEGIN"

// CertificateChain is an immutable, non-empty, leaf first list of certificates.
type CertificateChain struct {
	certs []*x509.Certificate
}

// FromCertificationData parses PEM or concatenated DER encoded certificates.
// Trailing \0 bytes and whitespace of PEM data are ignored.
func FromCertificationData(data []byte) (CertificateChain, error) {
	certs, err := parseCertificates(data, MaxLength)
	if err != nil {
		return CertificateChain{}, err
	}
	return FromCertificates(certs...)
}

// ParseCertificates parses PEM or concatenated DER encoded certificates like
// [FromCertificationData], but does not limit their number.
// The result may be empty.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	return parseCertificates(data, 0)
}

// parseCertificates splits data into certificates. A limit of 0 means no limit.
func parseCertificates(data []byte, limit int) ([]*x509.Certificate, error) {
	if bytes.Contains(data, []byte(pemPrefix)) {
		return fromPEM(data, limit)
	}
	return fromDER(data, limit)
}

// FromCertificates creates a chain from already parsed certificates, ordered leaf first.
func FromCertificates(certs ...*x509.Certificate) (CertificateChain, error) {
	if len(certs) == 0 {
		return CertificateChain{}, invalidChain("chain is empty", nil)
	}
	if len(certs) > MaxLength {
		return CertificateChain{}, invalidChain(fmt.Sprintf("chain has %d certificates, at most %d are allowed", len(certs), MaxLength), nil)
	}
	for i, cert := range certs {
		if cert == nil {
			return CertificateChain{}, invalidChain(fmt.Sprintf("certificate %d is nil", i), nil)
		}
	}
	return CertificateChain{certs: append([]*x509.Certificate(nil), certs...)}, nil
}

// Append returns a new chain with the given certificates appended closer to the root.
func (c CertificateChain) Append(certs ...*x509.Certificate) (CertificateChain, error) {
	all := make([]*x509.Certificate, 0, len(c.certs)+len(certs))
	all = append(all, c.certs...)
	return FromCertificates(append(all, certs...)...)
}

// Len returns the number of certificates in the chain.
func (c CertificateChain) Len() int {
	return len(c.certs)
}

// Leaf returns the first certificate of the chain, or nil for the zero value.
func (c CertificateChain) Leaf() *x509.Certificate {
	return c.At(0)
}

// Root returns the last certificate of the chain, or nil for the zero value.
func (c CertificateChain) Root() *x509.Certificate {
	return c.At(len(c.certs) - 1)
}

// At returns the certificate at index i, or nil if i is out of range.
func (c CertificateChain) At(i int) *x509.Certificate {
	if i < 0 || i >= len(c.certs) {
		return nil
	}
	return c.certs[i]
}

// Certificates returns a copy of the list of certificates.
func (c CertificateChain) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), c.certs...)
}

func fromPEM(data []byte, limit int) ([]*x509.Certificate, error) {
	// Intel's PEM chain is a C string.
	rest := bytes.TrimRight(data, "\x00")

	var certs []*x509.Certificate
	for {
		rest = bytes.TrimSpace(rest)
		if len(rest) == 0 {
			break
		}

		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, invalidChain("trailing data after PEM certificates", nil)
		}
		if block.Type != "CERTIFICATE" {
			return nil, invalidChain(fmt.Sprintf("unexpected PEM block of type %q", block.Type), nil)
		}
		if limit > 0 && len(certs) == limit {
			return nil, invalidChain(fmt.Sprintf("chain has more than %d certificates", limit), nil)
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, invalidChain(fmt.Sprintf("parsing certificate %d", len(certs)), err)
		}
		certs = append(certs, cert)
	}

	return certs, nil
}

func fromDER(data []byte, limit int) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for len(rest) > 0 && !allZero(rest) {
		if limit > 0 && len(certs) == limit {
			return nil, invalidChain(fmt.Sprintf("chain has more than %d certificates", limit), nil)
		}

		var raw asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, invalidChain(fmt.Sprintf("splitting DER certificate %d", len(certs)), err)
		}

		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, invalidChain(fmt.Sprintf("parsing certificate %d", len(certs)), err)
		}
		certs = append(certs, cert)
	}

	return certs, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func invalidChain(msg string, err error) error {
	return &types.DecodeError{Kind: types.ErrInvalidChain, Field: "certificate_chain", Msg: msg, Err: err}
}
