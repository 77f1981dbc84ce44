package cmd

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edgelesssys/go-tdx-attestation/attestation"
	"github.com/edgelesssys/go-tdx-attestation/endorsement"
	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/chain"
	"github.com/edgelesssys/go-tdx-attestation/verification/pcs"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

// errAttestationFailed is returned after printing a failed result.
var errAttestationFailed = errors.New("attestation failed")

// Overridden in tests.
var (
	newRevocationSource = func() revocationSource { return pcs.New() }
	gcsClientOptions    []option.ClientOption
)

type revocationSource interface {
	RevocationLists(ctx context.Context, caType string) ([]*x509.RevocationList, error)
}

type verifyFlags struct {
	in              string
	nonceHex        string
	endorsement     bool
	checkRevocation bool
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	flags := &verifyFlags{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a TDX quote",
		Long: "Verify a raw TDX quote against the Intel SGX Root CA and print the result as JSON.\n" +
			"The command fails if the quote does not pass verification.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("check-revocation") {
				opts.cfg.CheckRevocation = flags.checkRevocation
			}
			return runVerify(cmd, opts, flags)
		},
	}
	cmd.Flags().StringVar(&flags.in, "in", "-", "file to read the raw quote from, - for stdin")
	cmd.Flags().StringVar(&flags.nonceHex, "nonce", "", "hex encoded nonce the report data must match")
	cmd.Flags().BoolVar(&flags.endorsement, "endorsement", false, "verify the quote against the GCE launch endorsement")
	cmd.Flags().BoolVar(&flags.checkRevocation, "check-revocation", false, "check the PCK certificates against the Intel PCS CRLs")
	return cmd
}

func runVerify(cmd *cobra.Command, opts *rootOptions, flags *verifyFlags) error {
	ctx := cmd.Context()

	nonce, err := parseNonce(flags.nonceHex)
	if err != nil {
		return err
	}
	raw, err := readInput(cmd, flags.in)
	if err != nil {
		return err
	}

	anchor := trust.IntelSGXRootCA()
	if opts.cfg.IntelRootCA != "" {
		anchor, err = trust.LoadAnchor(trust.IntelSGXRootCAName, opts.cfg.IntelRootCA)
		if err != nil {
			return err
		}
	}

	var verifierOpts []verification.Option
	if opts.cfg.CheckRevocation {
		crls, err := revocationLists(ctx, raw)
		if err != nil {
			return fmt.Errorf("fetching revocation lists: %w", err)
		}
		verifierOpts = append(verifierOpts, verification.WithRevocationLists(crls...))
	}
	verifier := verification.New(verifierOpts...)

	attesterOpts := []attestation.Option{
		attestation.WithVerifier(verifier),
		attestation.WithTrustAnchor(anchor),
	}
	if flags.endorsement {
		host, err := newGCPHost(ctx, opts, verifier)
		if err != nil {
			return err
		}
		attesterOpts = append(attesterOpts, attestation.WithHost(host))
	}

	report, err := attestation.New(attesterOpts...).VerifyEvidence(ctx, raw, nonce)
	result := attestation.NewResult(report, err)
	opts.log.WithField("kind", result.ErrorKind).Debug("Verified quote")

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Passed {
		return errAttestationFailed
	}
	return nil
}

// revocationLists fetches the CRLs for the PCK certificate chain of raw.
// Malformed quotes yield no CRLs, the pipeline reports them.
func revocationLists(ctx context.Context, raw []byte) ([]*x509.RevocationList, error) {
	quote, err := types.ParseQuote(raw)
	if err != nil {
		return nil, nil
	}
	certChain, err := chain.FromCertificationData(quote.PCKCertChain())
	if err != nil {
		return nil, nil
	}
	return newRevocationSource().RevocationLists(ctx, pcs.CATypeFor(certChain.Leaf()))
}

func newGCPHost(ctx context.Context, opts *rootOptions, verifier *verification.Verifier) (*endorsement.GCPHost, error) {
	if opts.cfg.GCERootCA == "" {
		return nil, errors.New("gce_root_ca must be configured to verify launch endorsements")
	}
	anchor, err := trust.LoadAnchor(endorsement.GCERootName, opts.cfg.GCERootCA)
	if err != nil {
		return nil, err
	}
	fetcher, err := endorsement.NewGCSFetcher(ctx, opts.log, endorsement.GCSOptions{
		Bucket:    opts.cfg.EndorsementBucket,
		Prefix:    opts.cfg.EndorsementPrefix,
		Anonymous: opts.cfg.AnonymousGCS,
	}, gcsClientOptions...)
	if err != nil {
		return nil, err
	}
	return endorsement.NewGCPHost(fetcher, verifier, anchor, opts.log), nil
}

// readInput reads a quote from path, or from stdin if path is "-".
// Input larger than maxQuoteSize is rejected.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading quote: %w", err)
		}
		defer f.Close()
		in = f
	}

	data, err := io.ReadAll(io.LimitReader(in, maxQuoteSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading quote: %w", err)
	}
	if len(data) > maxQuoteSize {
		return nil, fmt.Errorf("quote exceeds %d bytes", maxQuoteSize)
	}
	return data, nil
}

// maxQuoteSize bounds quotes read from files and stdin.
const maxQuoteSize = 1 << 20
