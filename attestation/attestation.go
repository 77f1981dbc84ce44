/*
Package attestation composes the attestation evidence pipeline.

An [Attester] fetches a quote from a [Source], decodes it, verifies it against the
Intel SGX/TDX trust anchor, and optionally checks that the quote binds a caller
provided nonce and matches the launch endorsement of the VM host.

	Source.Fetch ─► types.ParseQuote ─► chain.FromCertificationData ─► Verifier.Verify ─► nonce ─► Host

Every error returned by the pipeline maps to a stable, machine-readable kind, see [Kind].
*/
package attestation

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
)

// ErrReportDataMismatch indicates a quote whose report data does not bind the expected nonce.
var ErrReportDataMismatch = errors.New("report data does not match nonce")

// Source produces raw quotes.
type Source interface {
	// IsAvailable reports whether the platform is able to produce evidence.
	IsAvailable() bool
	// Fetch returns a raw quote binding the given nonce of at most 64 bytes.
	Fetch(ctx context.Context, nonce []byte) ([]byte, error)
}

// Host verifies a quote against the launch endorsement of the VM host.
type Host interface {
	VerifyLaunchEndorsement(ctx context.Context, quote types.Quote) error
}

// Attester runs the attestation pipeline.
type Attester struct {
	source   Source
	verifier *verification.Verifier
	anchor   *trust.Anchor
	host     Host
}

// Option configures an [Attester].
type Option func(*Attester)

// WithSource sets the source evidence is fetched from by [Attester.Attest].
func WithSource(source Source) Option {
	return func(a *Attester) {
		a.source = source
	}
}

// WithVerifier sets the verifier. Defaults to a verifier using the system clock.
func WithVerifier(verifier *verification.Verifier) Option {
	return func(a *Attester) {
		a.verifier = verifier
	}
}

// WithTrustAnchor overrides the Intel SGX Root CA as trust anchor for quotes.
func WithTrustAnchor(anchor *trust.Anchor) Option {
	return func(a *Attester) {
		a.anchor = anchor
	}
}

// WithHost enables the launch endorsement check.
func WithHost(host Host) Option {
	return func(a *Attester) {
		a.host = host
	}
}

// New creates an Attester.
func New(opts ...Option) *Attester {
	a := &Attester{}
	for _, opt := range opts {
		opt(a)
	}
	if a.verifier == nil {
		a.verifier = verification.New()
	}
	if a.anchor == nil {
		a.anchor = trust.IntelSGXRootCA()
	}
	return a
}

// Attest fetches a quote binding nonce from the source and verifies it.
func (a *Attester) Attest(ctx context.Context, nonce []byte) (verification.Report, error) {
	if a.source == nil || !a.source.IsAvailable() {
		return verification.Report{}, &SourceError{Kind: ErrNotAvailable}
	}

	raw, err := a.source.Fetch(ctx, nonce)
	if err != nil {
		return verification.Report{}, &SourceError{Kind: ErrEvidenceUnavailable, Err: err}
	}

	return a.VerifyEvidence(ctx, raw, nonce)
}

// VerifyEvidence verifies a raw quote.
// If nonce is not nil, the report data of the quote must equal the nonce padded with zeros to 64 bytes.
func (a *Attester) VerifyEvidence(ctx context.Context, raw, nonce []byte) (verification.Report, error) {
	quote, err := types.ParseQuote(raw)
	if err != nil {
		return verification.Report{}, fmt.Errorf("parsing quote: %w", err)
	}

	certChain, err := chain.FromCertificationData(quote.PCKCertChain())
	if err != nil {
		return verification.Report{}, fmt.Errorf("parsing PCK certificate chain: %w", err)
	}

	report, err := a.verifier.Verify(quote, certChain, a.anchor)
	if err != nil {
		return verification.Report{}, fmt.Errorf("verifying quote: %w", err)
	}

	if nonce != nil {
		if err := checkReportData(quote.Body.ReportData, nonce); err != nil {
			return verification.Report{}, err
		}
	}

	if a.host != nil {
		if err := a.host.VerifyLaunchEndorsement(ctx, quote); err != nil {
			return verification.Report{}, fmt.Errorf("verifying launch endorsement: %w", err)
		}
	}

	return report, nil
}

func checkReportData(reportData [types.ReportDataSize]byte, nonce []byte) error {
	if len(nonce) > types.ReportDataSize {
		return fmt.Errorf("%w: nonce of %d bytes exceeds %d bytes", ErrReportDataMismatch, len(nonce), types.ReportDataSize)
	}
	var want [types.ReportDataSize]byte
	copy(want[:], nonce)
	if !bytes.Equal(reportData[:], want[:]) {
		return ErrReportDataMismatch
	}
	return nil
}
