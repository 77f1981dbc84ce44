/*
Package endorsement implements launch endorsements: host signed statements of the measurements
a confidential VM firmware is expected to produce.

Google Compute Engine publishes one endorsement per TDX firmware build. An endorsement is a
serialized golden measurement, signed with RSA-PSS SHA-256 by a certificate chaining up to the
GCE TCB root, which is a trust anchor distinct from the Intel SGX Root CA.

Using an endorsement takes three steps:

  - [Decode] the raw protobuf message.
  - [Endorsement.Verify] its signature against the host trust anchor.
  - [CrossCheck] the endorsed measurements against a verified quote.

[GCPHost] combines the steps with fetching the endorsement from Google Cloud Storage.
*/
package endorsement

import (
	"fmt"
	"time"

	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
	"github.com/edgelesssys/go-tdx-attestation/verification/crypto"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
)

const (
	// GCERootName is the name of the trust anchor for GCE launch endorsements.
	GCERootName = "GCE-cc-tcb-root_1"
	// GCERootURL is where Google publishes the GCE TCB root certificate.
	GCERootURL = "https://pki.goog/cloud_integrity/GCE-cc-tcb-root_1.crt"
)

// Endorsement is a decoded launch endorsement.
type Endorsement struct {
	Golden GoldenMeasurement
	// SignedData is the serialized golden measurement the signature covers.
	SignedData []byte
	Signature  []byte
}

// GoldenMeasurement describes a firmware build and the measurements it produces.
type GoldenMeasurement struct {
	// Timestamp is the time the endorsement was issued.
	Timestamp time.Time
	CLSpec    uint64
	Commit    []byte
	Digest    []byte
	// CABundle holds PEM encoded intermediate certificates of the signer.
	CABundle string
	// Cert is the DER encoded signer certificate.
	Cert []byte
	TDX  *TDXMeasurements
}

// TDXMeasurements lists the endorsed TDX measurements, one per supported VM memory size.
type TDXMeasurements struct {
	SVN          uint32
	Measurements []Measurement
}

// Measurement is the expected MRTD and RTMR values for one VM configuration.
type Measurement struct {
	RAMGiB      uint32
	EarlyAccept bool
	MRTD        []byte
	// RTMRs may be shorter than the number of RTMRs of a TD. Missing or empty entries are not endorsed.
	RTMRs [][]byte
}

// Verify checks that the endorsement was signed by a certificate chaining up to the given anchor.
func (e *Endorsement) Verify(v *verification.Verifier, anchor *trust.Anchor) error {
	signerChain, err := e.signerChain(anchor)
	if err != nil {
		return fmt.Errorf("building signer chain: %w", err)
	}

	if err := v.VerifySignedData(signerChain, anchor, crypto.RSAPSSSHA256, e.SignedData, e.Signature); err != nil {
		return fmt.Errorf("verifying launch endorsement: %w", err)
	}

	if now := v.Now(); e.Golden.Timestamp.After(now) {
		return &verification.VerifyError{
			Kind:  verification.ErrExpired,
			Index: -1,
			Field: "timestamp",
			Err:   fmt.Errorf("endorsement issued at %s, which is after %s", e.Golden.Timestamp, now),
		}
	}

	return nil
}

// signerChain returns the signer certificate followed by the CA bundle.
// If the bundle stops short of a trusted root, the issuing anchor certificate is appended.
func (e *Endorsement) signerChain(anchor *trust.Anchor) (chain.CertificateChain, error) {
	signerChain, err := chain.FromCertificationData(e.Golden.Cert)
	if err != nil {
		return chain.CertificateChain{}, err
	}

	if e.Golden.CABundle != "" {
		bundle, err := chain.FromCertificationData([]byte(e.Golden.CABundle))
		if err != nil {
			return chain.CertificateChain{}, fmt.Errorf("parsing CA bundle: %w", err)
		}
		if signerChain, err = signerChain.Append(bundle.Certificates()...); err != nil {
			return chain.CertificateChain{}, err
		}
	}

	if anchor == nil || anchor.Contains(signerChain.Root()) {
		return signerChain, nil
	}
	if issuer := anchor.FindIssuer(signerChain.Root()); issuer != nil {
		return signerChain.Append(issuer)
	}
	return signerChain, nil
}
