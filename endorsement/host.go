package endorsement

import (
	"context"
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/sirupsen/logrus"
)

// GCPHost verifies quotes of TDs running on Google Compute Engine against GCE's launch endorsements.
type GCPHost struct {
	fetcher  Fetcher
	verifier *verification.Verifier
	anchor   *trust.Anchor
	log      logrus.FieldLogger
}

// NewGCPHost creates a host. anchor must hold the GCE TCB root certificate.
func NewGCPHost(fetcher Fetcher, verifier *verification.Verifier, anchor *trust.Anchor, log logrus.FieldLogger) *GCPHost {
	return &GCPHost{
		fetcher:  fetcher,
		verifier: verifier,
		anchor:   anchor,
		log:      log,
	}
}

// VerifyLaunchEndorsement fetches the endorsement for the quote's MRTD,
// verifies it, and cross-checks it against the quote.
func (h *GCPHost) VerifyLaunchEndorsement(ctx context.Context, quote types.Quote) error {
	log := h.log.WithField("mrtd", quote.Body.MRTD.String())

	raw, err := h.fetcher.Fetch(ctx, quote.Body.MRTD)
	if err != nil {
		return fmt.Errorf("fetching launch endorsement: %w", err)
	}

	e, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("decoding launch endorsement: %w", err)
	}
	if err := e.Verify(h.verifier, h.anchor); err != nil {
		return err
	}
	log.WithField("issued", e.Golden.Timestamp).Debug("Launch endorsement signature verified")

	if err := CrossCheck(quote, e); err != nil {
		return err
	}

	log.Info("Quote matches launch endorsement")
	return nil
}
