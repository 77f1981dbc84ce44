/*
Package trust provides the trust anchors certificate chains are verified against.

The Intel SGX/TDX Root CA is hard-coded in this package. Other roots, such as the root
signing Google Compute Engine launch endorsements, are loaded from files.
*/
package trust

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
)

// intelRootCA is the PEM encoded Intel SGX/TDX Root CA Certificate.
const intelRootCA = "-----BEGIN CERTIFICATE-----\nMIICjzCCAjSgAwIBAgIUImUM1lqdNInzg7SVUr9QGzknBqwwCgYIKoZIzj0EAwIw\naDEaMBgGA1UEAwwRSW50ZWwgU0dYIFJvb3QgQ0ExGjAYBgNVBAoMEUludGVsIENv\ncnBvcmF0aW9uMRQwEgYDVQQHDAtTYW50YSBDbGFyYTELMAkGA1UECAwCQ0ExCzAJ\nBgNVBAYTAlVTMB4XDTE4MDUyMTEwNDUxMFoXDTQ5MTIzMTIzNTk1OVowaDEaMBgG\nA1UEAwwRSW50ZWwgU0dYIFJvb3QgQ0ExGjAYBgNVBAoMEUludGVsIENvcnBvcmF0\naW9uMRQwEgYDVQQHDAtTYW50YSBDbGFyYTELMAkGA1UECAwCQ0ExCzAJBgNVBAYT\nAlVTMFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAEC6nEwMDIYZOj/iPWsCzaEKi7\n1OiOSLRFhWGjbnBVJfVnkY4u3IjkDYYL0MxO4mqsyYjlBalTVYxFP2sJBK5zlKOB\nuzCBuDAfBgNVHSMEGDAWgBQiZQzWWp00ifODtJVSv1AbOScGrDBSBgNVHR8ESzBJ\nMEegRaBDhkFodHRwczovL2NlcnRpZmljYXRlcy50cnVzdGVkc2VydmljZXMuaW50\nZWwuY29tL0ludGVsU0dYUm9vdENBLmRlcjAdBgNVHQ4EFgQUImUM1lqdNInzg7SV\nUr9QGzknBqwwDgYDVR0PAQH/BAQDAgEGMBIGA1UdEwEB/wQIMAYBAf8CAQEwCgYI\nKoZIzj0EAwIDSQAwRgIhAOW/5QkR+S9CiSDcNoowLuPRLsWGf/Yi7GSX94BgwTwg\nAiEA4J0lrHoMs+Xo5o/sX6O9QWxHRAvZUGOdRQ7cvqRXaqI=\n-----END CERTIFICATE-----\n"

// IntelSGXRootCAName is the name of the anchor returned by [IntelSGXRootCA].
const IntelSGXRootCAName = "Intel SGX Root CA"

// Anchor is an immutable, named set of trusted root certificates.
type Anchor struct {
	name  string
	certs []*x509.Certificate
}

// NewAnchor creates an anchor from parsed certificates.
func NewAnchor(name string, certs ...*x509.Certificate) (*Anchor, error) {
	if len(certs) == 0 {
		return nil, errors.New("trust anchor must contain at least one certificate")
	}
	for i, cert := range certs {
		if cert == nil {
			return nil, fmt.Errorf("certificate %d of trust anchor is nil", i)
		}
	}
	return &Anchor{name: name, certs: append([]*x509.Certificate(nil), certs...)}, nil
}

// ParseAnchor creates an anchor from PEM or DER encoded certificates.
// The number of roots is not limited.
func ParseAnchor(name string, data []byte) (*Anchor, error) {
	certs, err := chain.ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("parsing trust anchor %q: %w", name, err)
	}
	return NewAnchor(name, certs...)
}

// LoadAnchor reads an anchor from a PEM or DER encoded file.
// Symbolic links are rejected.
func LoadAnchor(name, path string) (*Anchor, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust anchor %q: %w", name, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("reading trust anchor %q: %s is a symlink", name, path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("reading trust anchor %q: %s is not a regular file", name, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust anchor %q: %w", name, err)
	}
	return ParseAnchor(name, data)
}

// IntelSGXRootCA returns the hard-coded Intel SGX/TDX Root CA.
// The anchor is parsed once and shared.
func IntelSGXRootCA() *Anchor {
	return intelSGXRootCA()
}

var intelSGXRootCA = sync.OnceValue(func() *Anchor {
	anchor, err := ParseAnchor(IntelSGXRootCAName, []byte(intelRootCA))
	if err != nil {
		panic(err)
	}
	return anchor
})

// Name returns the name of the anchor.
func (a *Anchor) Name() string {
	return a.name
}

// Certificates returns a copy of the list of trusted certificates.
func (a *Anchor) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), a.certs...)
}

// Contains reports whether cert is one of the trusted certificates.
func (a *Anchor) Contains(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	for _, trusted := range a.certs {
		if trusted.Equal(cert) {
			return true
		}
	}
	return false
}

// FindIssuer returns the trusted certificate whose subject matches the issuer of cert and
// whose key signed cert, or nil if there is none.
func (a *Anchor) FindIssuer(cert *x509.Certificate) *x509.Certificate {
	if cert == nil {
		return nil
	}
	for _, trusted := range a.certs {
		if string(trusted.RawSubject) != string(cert.RawIssuer) {
			continue
		}
		if err := cert.CheckSignatureFrom(trusted); err == nil {
			return trusted
		}
	}
	return nil
}
