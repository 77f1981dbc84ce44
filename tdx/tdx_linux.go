//go:build linux

package tdx

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/edgelesssys/go-tdx-attestation/attestation"
	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/google/go-tdx-guest/client"
	"github.com/sirupsen/logrus"
	"github.com/vtolstov/go-ioctl"
	"golang.org/x/sys/unix"
)

// TDX_CMD_GET_REPORT0, include/uapi/linux/tdx-guest.h
var requestReport = ioctl.IOWR('T', 0x01, unsafe.Sizeof(reportRequest{}))

// reportRequest is struct tdx_report_req of the Linux TDX guest driver.
type reportRequest struct {
	reportData [types.ReportDataSize]byte
	tdReport   [types.TDReportSize]byte
}

// NewQuoteSource creates a quote source on top of go-tdx-guest's quote provider.
func NewQuoteSource(log logrus.FieldLogger) (*QuoteSource, error) {
	provider, err := client.GetQuoteProvider()
	if err != nil {
		return nil, &attestation.SourceError{
			Kind: attestation.ErrNotAvailable,
			Err:  fmt.Errorf("getting TDX quote provider: %w", err),
		}
	}
	return &QuoteSource{provider: provider, log: log}, nil
}

// OpenDevice opens the TDX guest device for reading reports.
func OpenDevice() (*os.File, error) {
	if !IsAvailable() {
		return nil, &attestation.SourceError{
			Kind: attestation.ErrNotAvailable,
			Err:  fmt.Errorf("%s does not exist or is not a device", GuestDevice),
		}
	}
	return os.OpenFile(GuestDevice, os.O_RDWR, 0)
}

// GetReport requests a TDREPORT with the given report data from the TDX module.
func GetReport(tdx device, reportData [types.ReportDataSize]byte) ([types.TDReportSize]byte, error) {
	req := reportRequest{reportData: reportData}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), requestReport, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return [types.TDReportSize]byte{}, fmt.Errorf("creating TDX report: %w", errno)
	}
	return req.tdReport, nil
}

// ReadMeasurements reads the MRTD and RTMRs of a TDX guest.
func ReadMeasurements(tdx device) (types.TDReport, error) {
	// TDX does not support directly reading RTMRs
	// Instead, create a new report with zeroed report data,
	// and read the RTMRs and MRTD from the report
	raw, err := GetReport(tdx, [types.ReportDataSize]byte{})
	if err != nil {
		return types.TDReport{}, err
	}
	return types.ParseTDReport(raw[:])
}
