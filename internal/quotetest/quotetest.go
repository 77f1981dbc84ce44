/*
Package quotetest creates synthetic but cryptographically valid TDX quotes and certificate hierarchies for tests.

The encoder in this package is written independently of the parser in verification/types,
so round trip tests compare two implementations of the wire format.
The same holds for the launch endorsements of [GCE], which are encoded with protowire directly.
*/
package quotetest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	// NotBefore is the default start of the validity period of issued certificates.
	NotBefore = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	// NotAfter is the default end of the validity period of issued certificates.
	NotAfter = time.Date(2034, time.January, 1, 0, 0, 0, 0, time.UTC)
	// Now is a point in time inside the default validity period. Use it to seed fake clocks.
	Now = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
)

// CA is a certificate together with its private key.
type CA struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// CertOptions configures a certificate issued by [NewRoot] or [CA.Issue].
// Zero values fall back to defaults.
type CertOptions struct {
	CommonName string
	// Key defaults to a fresh ECDSA P-256 key.
	Key       crypto.Signer
	IsCA      bool
	NotBefore time.Time
	NotAfter  time.Time
	Serial    int64
}

// NewECDSAKey returns a fresh ECDSA P-256 key.
func NewECDSAKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// NewRSAKey returns a fresh 2048 bit RSA key.
func NewRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// NewRoot creates a self-signed CA.
func NewRoot(t testing.TB, opts CertOptions) *CA {
	t.Helper()
	opts.IsCA = true
	return issue(t, nil, opts)
}

// Issue creates a certificate signed by ca.
func (ca *CA) Issue(t testing.TB, opts CertOptions) *CA {
	t.Helper()
	return issue(t, ca, opts)
}

// PEM returns the PEM encoding of the certificate.
func (ca *CA) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
}

// CRL returns a DER encoded revocation list issued by ca, revoking the given certificates.
func (ca *CA) CRL(t testing.TB, thisUpdate time.Time, revoked ...*x509.Certificate) []byte {
	t.Helper()
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, cert := range revoked {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: cert.SerialNumber, RevocationTime: thisUpdate})
	}
	crl, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                thisUpdate,
		NextUpdate:                thisUpdate.Add(30 * 24 * time.Hour),
		RevokedCertificateEntries: entries,
	}, ca.Cert, ca.Key)
	require.NoError(t, err)
	return crl
}

var serial atomic.Int64

func issue(t testing.TB, parent *CA, opts CertOptions) *CA {
	t.Helper()
	if opts.Key == nil {
		opts.Key = NewECDSAKey(t)
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = NotBefore
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = NotAfter
	}
	if opts.Serial == 0 {
		opts.Serial = 1000 + serial.Add(1)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(opts.Serial),
		Subject:               pkix.Name{CommonName: opts.CommonName, Organization: []string{"Test Corporation"}},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}
	if opts.IsCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}

	parentCert, parentKey := template, opts.Key
	if parent != nil {
		parentCert, parentKey = parent.Cert, parent.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parentCert, opts.Key.Public(), parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: opts.Key}
}

// PKI mimics Intel's certificate hierarchy: Root CA, PCK Platform CA and PCK leaf certificate.
type PKI struct {
	Root         *CA
	Intermediate *CA
	Leaf         *CA
	// AttestationKey is the key of the Quoting Enclave signing the quotes.
	AttestationKey *ecdsa.PrivateKey
}

// NewPKI creates a fresh PKI with default validity periods.
func NewPKI(t testing.TB) *PKI {
	t.Helper()
	root := NewRoot(t, CertOptions{CommonName: "Test SGX Root CA"})
	intermediate := root.Issue(t, CertOptions{CommonName: "Test SGX PCK Platform CA", IsCA: true})
	leaf := intermediate.Issue(t, CertOptions{CommonName: "Test SGX PCK Certificate"})
	return &PKI{
		Root:           root,
		Intermediate:   intermediate,
		Leaf:           leaf,
		AttestationKey: NewECDSAKey(t),
	}
}

// Certificates returns the chain ordered leaf first.
func (p *PKI) Certificates() []*x509.Certificate {
	return []*x509.Certificate{p.Leaf.Cert, p.Intermediate.Cert, p.Root.Cert}
}

// ChainPEM returns the PEM encoded chain, leaf first, terminated with a \0 byte like in real quotes.
func (p *PKI) ChainPEM() []byte {
	var chain []byte
	chain = append(chain, p.Leaf.PEM()...)
	chain = append(chain, p.Intermediate.PEM()...)
	chain = append(chain, p.Root.PEM()...)
	return append(chain, 0x00)
}

// ChainDER returns the concatenated DER encoded chain, leaf first.
func (p *PKI) ChainDER() []byte {
	var chain []byte
	for _, cert := range p.Certificates() {
		chain = append(chain, cert.Raw...)
	}
	return chain
}

// QuoteOptions configures a quote created by [PKI.Quote].
type QuoteOptions struct {
	// Version defaults to 4.
	Version uint16
	// BodyType is only encoded for version 5 quotes and defaults to 2 (TD 1.0).
	BodyType   uint16
	MRTD       [48]byte
	RTMR       [4][48]byte
	ReportData [64]byte
	AuthData   []byte
	// Chain overrides the certification data, defaults to [PKI.ChainPEM].
	Chain []byte
}

// Quote creates a raw, validly signed quote.
func (p *PKI) Quote(t testing.TB, opts QuoteOptions) []byte {
	t.Helper()
	if opts.Version == 0 {
		opts.Version = 4
	}
	if opts.BodyType == 0 {
		opts.BodyType = 2
	}
	if opts.AuthData == nil {
		opts.AuthData = make([]byte, 32)
		for i := range opts.AuthData {
			opts.AuthData[i] = byte(i)
		}
	}
	if opts.Chain == nil {
		opts.Chain = p.ChainPEM()
	}

	bodySize := 584
	if opts.BodyType == 3 {
		bodySize = 648
	}

	// header
	signed := make([]byte, 48)
	binary.LittleEndian.PutUint16(signed[0:2], opts.Version)
	binary.LittleEndian.PutUint16(signed[2:4], 2)
	binary.LittleEndian.PutUint32(signed[4:8], 0x81)
	copy(signed[12:28], []byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07})
	copy(signed[28:48], "test quote user data")
	if opts.Version == 5 {
		signed = binary.LittleEndian.AppendUint16(signed, opts.BodyType)
		signed = binary.LittleEndian.AppendUint32(signed, uint32(bodySize))
	}

	// body, filled with a pattern so every field has a distinct value
	body := make([]byte, bodySize)
	for i := range body {
		body[i] = byte(i * 7)
	}
	copy(body[136:184], opts.MRTD[:])
	for i, rtmr := range opts.RTMR {
		copy(body[328+i*48:376+i*48], rtmr[:])
	}
	copy(body[520:584], opts.ReportData[:])
	signed = append(signed, body...)

	attestationKey := make([]byte, 64)
	p.AttestationKey.PublicKey.X.FillBytes(attestationKey[:32])
	p.AttestationKey.PublicKey.Y.FillBytes(attestationKey[32:])

	// QE enclave report, binding the attestation key
	enclaveReport := make([]byte, 384)
	for i := range enclaveReport[:320] {
		enclaveReport[i] = byte(i * 3)
	}
	binding := sha256.Sum256(append(append([]byte{}, attestationKey...), opts.AuthData...))
	copy(enclaveReport[320:352], binding[:])

	qeCertData := append([]byte{}, enclaveReport...)
	qeCertData = append(qeCertData, SignRaw(t, p.Leaf.Key, enclaveReport)...)
	qeCertData = binary.LittleEndian.AppendUint16(qeCertData, uint16(len(opts.AuthData)))
	qeCertData = append(qeCertData, opts.AuthData...)
	qeCertData = binary.LittleEndian.AppendUint16(qeCertData, 5)
	qeCertData = binary.LittleEndian.AppendUint32(qeCertData, uint32(len(opts.Chain)))
	qeCertData = append(qeCertData, opts.Chain...)

	signature := SignRaw(t, p.AttestationKey, signed)
	signature = append(signature, attestationKey...)
	signature = binary.LittleEndian.AppendUint16(signature, 6)
	signature = binary.LittleEndian.AppendUint32(signature, uint32(len(qeCertData)))
	signature = append(signature, qeCertData...)

	quote := append([]byte{}, signed...)
	quote = binary.LittleEndian.AppendUint32(quote, uint32(len(signature)))
	return append(quote, signature...)
}

// SignRaw signs SHA-256(data) with an ECDSA P-256 key and returns the signature as raw r || s.
func SignRaw(t testing.TB, key crypto.Signer, data []byte) []byte {
	t.Helper()
	ecKey, ok := key.(*ecdsa.PrivateKey)
	require.True(t, ok, "raw signatures require an ECDSA key")
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, ecKey, digest[:])
	require.NoError(t, err)
	signature := make([]byte, 64)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature
}

// SignPSS signs SHA-256(data) with RSA-PSS, salt length equal to the hash length.
func SignPSS(t testing.TB, key *rsa.PrivateKey, data []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(data)
	signature, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	require.NoError(t, err)
	return signature
}
