package attestation

import (
	"errors"

	"github.com/edgelesssys/go-tdx-attestation/endorsement"
	"github.com/edgelesssys/go-tdx-attestation/verification"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
)

var (
	// ErrNotAvailable indicates a platform that is unable to produce evidence.
	ErrNotAvailable = errors.New("evidence source not available")
	// ErrEvidenceUnavailable indicates a failure to fetch evidence from an available source.
	ErrEvidenceUnavailable = errors.New("evidence unavailable")
)

// SourceError is returned if no evidence could be obtained.
type SourceError struct {
	// Kind is [ErrNotAvailable] or [ErrEvidenceUnavailable].
	Kind error
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap returns the kind and the cause of the error.
func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kinds is ordered by precedence: the first match wins.
var kinds = []struct {
	err  error
	name string
}{
	{ErrNotAvailable, "not_available"},
	{ErrEvidenceUnavailable, "evidence_unavailable"},
	{types.ErrTruncated, "truncated"},
	{types.ErrUnsupportedVersion, "unsupported_version"},
	{types.ErrLengthMismatch, "length_mismatch"},
	{types.ErrInvalidChain, "invalid_chain"},
	{types.ErrMissingField, "missing_field"},
	{types.ErrInvalidValue, "invalid_value"},
	{verification.ErrUntrustedRoot, "untrusted_root"},
	{verification.ErrChainBroken, "chain_broken"},
	{verification.ErrBadSignature, "bad_signature"},
	{verification.ErrRevoked, "revoked"},
	{verification.ErrExpired, "expired"},
	{endorsement.ErrMeasurementMismatch, "measurement_mismatch"},
	{ErrReportDataMismatch, "report_data_mismatch"},
}

// Kind returns a stable, machine-readable name for the kind of err,
// "unknown" for unclassified errors, or the empty string for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// Result is the machine-readable outcome of an attestation.
type Result struct {
	Passed    bool                 `json:"passed"`
	ErrorKind string               `json:"error_kind,omitempty"`
	Error     string               `json:"error,omitempty"`
	Report    *verification.Report `json:"report,omitempty"`
}

// NewResult creates the result of an attestation.
func NewResult(report verification.Report, err error) Result {
	if err != nil {
		return Result{ErrorKind: Kind(err), Error: err.Error()}
	}
	return Result{Passed: true, Report: &report}
}
