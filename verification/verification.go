/*
# Intel TDX Quote Verification

This package establishes trust in TDX quotes and other signed evidence using an explicit trust anchor.

Verification of a TDX quote follows these steps:

  - Check that the root of the PCK certificate chain is a trust anchor.

  - Walk the chain from the root down to the PCK leaf certificate,
    checking each certificate is issued and signed by its successor.

  - Verify the Quoting Enclave (QE) report using the PCK leaf certificate,
    and check the QE report binds the attestation key.

  - Verify the quote signature using the attestation key.

  - Optionally check the chain against revocation lists.

  - Check the validity periods of all certificates.

Failures are reported in the order above: a quote with a bad signature and an expired
certificate is reported as [ErrBadSignature].

A [Verifier] holds no mutable state and may be shared between goroutines.
*/
package verification

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
	"github.com/edgelesssys/go-tdx-attestation/verification/crypto"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
)

// Verifier is used to verify TDX quotes and signed evidence.
type Verifier struct {
	clock clock.PassiveClock
	crls  []*x509.RevocationList
}

// Option configures a [Verifier].
type Option func(*Verifier)

// WithClock sets the clock certificate validity periods are checked against.
func WithClock(clock clock.PassiveClock) Option {
	return func(v *Verifier) {
		v.clock = clock
	}
}

// WithRevocationLists enables revocation checking against the given lists.
// A list is only applied to certificates of the chain whose issuer signed it.
func WithRevocationLists(crls ...*x509.RevocationList) Option {
	return func(v *Verifier) {
		v.crls = append(v.crls, crls...)
	}
}

// New creates a new Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Now returns the current time of the verifier's clock.
func (v *Verifier) Now() time.Time {
	return v.clock.Now()
}

// Verify verifies a TDX quote against the PCK certificate chain and the trust anchor.
// On success, the returned report echoes the verified measurements.
func (v *Verifier) Verify(quote types.Quote, certChain chain.CertificateChain, anchor *trust.Anchor) (Report, error) {
	validityErr := v.checkValidity(certChain)

	if err := v.verifyLinks(certChain, anchor); err != nil {
		return Report{}, err
	}
	if err := verifyQuoteSignature(quote, certChain.Leaf()); err != nil {
		return Report{}, err
	}
	if err := v.checkRevocation(certChain, anchor); err != nil {
		return Report{}, err
	}
	if validityErr != nil {
		return Report{}, validityErr
	}

	return newReport(quote, certChain.Leaf(), v.clock.Now()), nil
}

// VerifyChain verifies a certificate chain against the trust anchor, without checking any evidence signed by the leaf.
func (v *Verifier) VerifyChain(certChain chain.CertificateChain, anchor *trust.Anchor) error {
	validityErr := v.checkValidity(certChain)

	if err := v.verifyLinks(certChain, anchor); err != nil {
		return err
	}
	if err := v.checkRevocation(certChain, anchor); err != nil {
		return err
	}
	return validityErr
}

// VerifySignedData verifies the certificate chain against the trust anchor,
// and a signature over data by the leaf certificate using the given signature scheme.
func (v *Verifier) VerifySignedData(
	certChain chain.CertificateChain, anchor *trust.Anchor, scheme crypto.SignatureVerifier, data, signature []byte,
) error {
	validityErr := v.checkValidity(certChain)

	if err := v.verifyLinks(certChain, anchor); err != nil {
		return err
	}
	if err := scheme.Verify(certChain.Leaf().PublicKey, data, signature); err != nil {
		return signatureError("signature", err)
	}
	if err := v.checkRevocation(certChain, anchor); err != nil {
		return err
	}
	return validityErr
}

// verifyLinks checks the root is trusted, then walks the chain from the root down to the leaf.
func (v *Verifier) verifyLinks(certChain chain.CertificateChain, anchor *trust.Anchor) error {
	if certChain.Len() == 0 {
		return &VerifyError{Kind: ErrUntrustedRoot, Index: -1, Err: errors.New("certificate chain is empty")}
	}
	if anchor == nil {
		return &VerifyError{Kind: ErrUntrustedRoot, Index: -1, Err: errors.New("no trust anchor")}
	}

	rootIndex := certChain.Len() - 1
	if !anchor.Contains(certChain.Root()) {
		return chainError(ErrUntrustedRoot, rootIndex, fmt.Errorf("%q is not part of trust anchor %q", certChain.Root().Subject, anchor.Name()))
	}

	for i := rootIndex - 1; i >= 0; i-- {
		cert, issuer := certChain.At(i), certChain.At(i+1)
		if !bytes.Equal(cert.RawIssuer, issuer.RawSubject) {
			return chainError(ErrChainBroken, i, fmt.Errorf("issuer %q does not match subject %q of the next certificate", cert.Issuer, issuer.Subject))
		}
		if err := cert.CheckSignatureFrom(issuer); err != nil {
			return chainError(ErrChainBroken, i, err)
		}
	}

	return nil
}

// verifyQuoteSignature verifies the signatures of a TDX quote, using the PCK certificate as the leaf of trust.
func verifyQuoteSignature(quote types.Quote, pckCert *x509.Certificate) error {
	qeReport := quote.Signature.QEReport

	// 4.1.2.4.12
	// verify QE Report
	enclaveReport := qeReport.EnclaveReport.Marshal()
	if err := crypto.ECDSAP256SHA256.Verify(pckCert.PublicKey, enclaveReport[:], qeReport.Signature[:]); err != nil {
		return signatureError("qe_report", err)
	}

	// 4.1.2.4.13
	// The QE report data binds the attestation key: SHA256(attestKey || QE auth data).
	attestationKey := quote.Signature.AttestationKey
	concat := make([]byte, 0, len(attestationKey)+len(qeReport.AuthData))
	concat = append(concat, attestationKey[:]...)
	concat = append(concat, qeReport.AuthData...)
	concatSHA256 := sha256.Sum256(concat)
	if !bytes.Equal(qeReport.EnclaveReport.ReportData[:32], concatSHA256[:]) {
		return signatureError("qe_report_data", errors.New("QE report data does not match attestation key and QE authentication data"))
	}

	// 4.1.2.4.16
	// verify quote signature
	key, err := crypto.ParseECDSAPublicKey(attestationKey)
	if err != nil {
		return signatureError("quote", err)
	}
	if err := crypto.ECDSAP256SHA256.Verify(key, quote.SignedData(), quote.Signature.Signature[:]); err != nil {
		return signatureError("quote", err)
	}

	return nil
}

// checkRevocation checks whether any certificate of the chain is revoked by a list signed by its issuer.
func (v *Verifier) checkRevocation(certChain chain.CertificateChain, anchor *trust.Anchor) error {
	if len(v.crls) == 0 {
		return nil
	}

	for i := 0; i < certChain.Len(); i++ {
		cert := certChain.At(i)
		issuer := certChain.At(i + 1)
		if issuer == nil {
			issuer = anchor.FindIssuer(cert)
		}
		if issuer == nil {
			continue
		}

		for _, crl := range v.crls {
			if !bytes.Equal(crl.RawIssuer, cert.RawIssuer) {
				continue
			}
			if err := crl.CheckSignatureFrom(issuer); err != nil {
				continue
			}
			for _, entry := range crl.RevokedCertificateEntries {
				if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
					return chainError(ErrRevoked, i, fmt.Errorf("serial number %s revoked by %q", cert.SerialNumber, crl.Issuer))
				}
			}
		}
	}

	return nil
}

// checkValidity checks the validity periods of all certificates of the chain.
func (v *Verifier) checkValidity(certChain chain.CertificateChain) error {
	now := v.clock.Now()

	var errs error
	firstIndex := -1
	for i, cert := range certChain.Certificates() {
		var err error
		switch {
		case now.Before(cert.NotBefore):
			err = fmt.Errorf("certificate %d (%s) is not valid before %s", i, cert.Subject, cert.NotBefore)
		case now.After(cert.NotAfter):
			err = fmt.Errorf("certificate %d (%s) expired at %s", i, cert.Subject, cert.NotAfter)
		default:
			continue
		}
		if firstIndex < 0 {
			firstIndex = i
		}
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		return chainError(ErrExpired, firstIndex, errs)
	}
	return nil
}
