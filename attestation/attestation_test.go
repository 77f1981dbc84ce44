package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/edgelesssys/go-tdx-attestation/endorsement"
	"github.com/edgelesssys/go-tdx-attestation/internal/quotetest"
	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/trust"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAttest(t *testing.T) {
	pki := quotetest.NewPKI(t)
	anchor, err := trust.NewAnchor("test root", pki.Root.Cert)
	require.NoError(t, err)

	nonce := []byte("nonce")
	var reportData [64]byte
	copy(reportData[:], nonce)
	quote := pki.Quote(t, quotetest.QuoteOptions{ReportData: reportData})

	testCases := map[string]struct {
		source   *fakeSource
		noSource bool
		nonce    []byte
		host     *fakeHost
		anchor   *trust.Anchor
		wantKind string
	}{
		"success": {
			source: &fakeSource{available: true, quote: quote},
			nonce:  nonce,
		},
		"success with launch endorsement": {
			source: &fakeSource{available: true, quote: quote},
			nonce:  nonce,
			host:   &fakeHost{},
		},
		"no source": {
			noSource: true,
			nonce:    nonce,
			wantKind: "not_available",
		},
		"source not available": {
			source:   &fakeSource{quote: quote},
			nonce:    nonce,
			wantKind: "not_available",
		},
		"fetch fails": {
			source:   &fakeSource{available: true, err: errors.New("device busy")},
			nonce:    nonce,
			wantKind: "evidence_unavailable",
		},
		"truncated quote": {
			source:   &fakeSource{available: true, quote: quote[:100]},
			nonce:    nonce,
			wantKind: "truncated",
		},
		"untrusted root": {
			source:   &fakeSource{available: true, quote: quote},
			nonce:    nonce,
			anchor:   trust.IntelSGXRootCA(),
			wantKind: "untrusted_root",
		},
		"nonce mismatch": {
			source:   &fakeSource{available: true, quote: quote},
			nonce:    []byte("other nonce"),
			wantKind: "report_data_mismatch",
		},
		"nonce too long": {
			source:   &fakeSource{available: true, quote: quote},
			nonce:    make([]byte, 65),
			wantKind: "report_data_mismatch",
		},
		"launch endorsement mismatch": {
			source:   &fakeSource{available: true, quote: quote},
			nonce:    nonce,
			host:     &fakeHost{err: &endorsement.PolicyError{Field: "measurement_root"}},
			wantKind: "measurement_mismatch",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			opts := []Option{
				WithVerifier(verification.New(verification.WithClock(testclock.NewFakeClock(quotetest.Now)))),
				WithTrustAnchor(anchor),
			}
			if !tc.noSource {
				opts = append(opts, WithSource(tc.source))
			}
			if tc.host != nil {
				opts = append(opts, WithHost(tc.host))
			}
			if tc.anchor != nil {
				opts = append(opts, WithTrustAnchor(tc.anchor))
			}
			attester := New(opts...)

			report, err := attester.Attest(context.Background(), tc.nonce)
			assert.Equal(tc.wantKind, Kind(err))
			if tc.wantKind != "" {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tc.nonce, tc.source.nonce)
			assert.Equal(pki.Leaf.Cert.Subject.String(), report.PCKSubject)
			if tc.host != nil {
				assert.True(tc.host.called)
			}
		})
	}
}

func TestVerifyEvidence(t *testing.T) {
	pki := quotetest.NewPKI(t)
	anchor, err := trust.NewAnchor("test root", pki.Root.Cert)
	require.NoError(t, err)

	var reportData [64]byte
	copy(reportData[:], "nonce")

	testCases := map[string]struct {
		raw      []byte
		nonce    []byte
		wantKind string
	}{
		"no nonce check": {
			raw: pki.Quote(t, quotetest.QuoteOptions{ReportData: reportData}),
		},
		"full length nonce": {
			raw:   pki.Quote(t, quotetest.QuoteOptions{ReportData: reportData}),
			nonce: reportData[:],
		},
		"empty nonce requires zero report data": {
			raw:      pki.Quote(t, quotetest.QuoteOptions{ReportData: reportData}),
			nonce:    []byte{},
			wantKind: "report_data_mismatch",
		},
		"unsupported version": {
			raw:      pki.Quote(t, quotetest.QuoteOptions{Version: 3}),
			wantKind: "unsupported_version",
		},
		"invalid chain": {
			raw:      pki.Quote(t, quotetest.QuoteOptions{Chain: []byte("no certificates")}),
			wantKind: "invalid_chain",
		},
		"empty input": {
			wantKind: "truncated",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			attester := New(
				WithVerifier(verification.New(verification.WithClock(testclock.NewFakeClock(quotetest.Now)))),
				WithTrustAnchor(anchor),
			)
			report, err := attester.VerifyEvidence(context.Background(), tc.raw, tc.nonce)
			assert.Equal(tc.wantKind, Kind(err))
			if tc.wantKind == "" {
				assert.NoError(err)
				assert.Equal(uint16(4), report.Version)
			}
		})
	}
}

func TestKind(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want string
	}{
		"nil":                  {err: nil, want: ""},
		"unknown":              {err: errors.New("failed"), want: "unknown"},
		"decode error":         {err: &types.DecodeError{Kind: types.ErrLengthMismatch}, want: "length_mismatch"},
		"missing field":        {err: &types.DecodeError{Kind: types.ErrMissingField}, want: "missing_field"},
		"invalid value":        {err: &types.DecodeError{Kind: types.ErrInvalidValue, Field: "timestamp"}, want: "invalid_value"},
		"wrapped verify error": {err: fmt.Errorf("verifying: %w", &verification.VerifyError{Kind: verification.ErrChainBroken}), want: "chain_broken"},
		"bad signature":        {err: &verification.VerifyError{Kind: verification.ErrBadSignature}, want: "bad_signature"},
		"revoked":              {err: &verification.VerifyError{Kind: verification.ErrRevoked}, want: "revoked"},
		"expired":              {err: &verification.VerifyError{Kind: verification.ErrExpired, Err: multierr.Combine(errors.New("a"), errors.New("b"))}, want: "expired"},
		"source error":         {err: &SourceError{Kind: ErrEvidenceUnavailable, Err: errors.New("busy")}, want: "evidence_unavailable"},
		"not available":        {err: &SourceError{Kind: ErrNotAvailable}, want: "not_available"},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Kind(tc.err))
		})
	}
}

func TestResultJSON(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	failed, err := json.Marshal(NewResult(verification.Report{}, &SourceError{Kind: ErrNotAvailable}))
	require.NoError(err)
	assert.JSONEq(`{"passed":false,"error_kind":"not_available","error":"evidence source not available"}`, string(failed))

	passed := NewResult(verification.Report{Version: 4}, nil)
	assert.True(passed.Passed)
	require.NotNil(passed.Report)
	raw, err := json.Marshal(passed)
	require.NoError(err)
	assert.Contains(string(raw), `"passed":true`)
	assert.Contains(string(raw), `"version":4`)
}

type fakeSource struct {
	available bool
	quote     []byte
	err       error
	nonce     []byte
}

func (s *fakeSource) IsAvailable() bool {
	return s.available
}

func (s *fakeSource) Fetch(_ context.Context, nonce []byte) ([]byte, error) {
	s.nonce = nonce
	return s.quote, s.err
}

type fakeHost struct {
	err    error
	called bool
}

func (h *fakeHost) VerifyLaunchEndorsement(_ context.Context, _ types.Quote) error {
	h.called = true
	return h.err
}
