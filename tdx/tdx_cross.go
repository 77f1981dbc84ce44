//go:build !linux

package tdx

import (
	"errors"
	"os"

	"github.com/edgelesssys/go-tdx-attestation/attestation"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/sirupsen/logrus"
)

var errLinuxOnly = &attestation.SourceError{
	Kind: attestation.ErrNotAvailable,
	Err:  errors.New("TDX guest attestation is only supported on linux"),
}

// NewQuoteSource creates a quote source on top of go-tdx-guest's quote provider.
func NewQuoteSource(_ logrus.FieldLogger) (*QuoteSource, error) {
	return nil, errLinuxOnly
}

// OpenDevice opens the TDX guest device for reading reports.
func OpenDevice() (*os.File, error) {
	return nil, errLinuxOnly
}

// GetReport requests a TDREPORT with the given report data from the TDX module.
func GetReport(_ device, _ [types.ReportDataSize]byte) ([types.TDReportSize]byte, error) {
	return [types.TDReportSize]byte{}, errLinuxOnly
}

// ReadMeasurements reads the MRTD and RTMRs of a TDX guest.
func ReadMeasurements(_ device) (types.TDReport, error) {
	return types.TDReport{}, errLinuxOnly
}
