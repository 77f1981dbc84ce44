// Package tdx provides evidence sources of Intel TDX guests on Linux.
//
// Quotes are produced by the quote provider of go-tdx-guest, which uses configfs-tsm where available.
// TDREPORTs, which carry the measurements but no signature, are read from the TDX guest device.
package tdx

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"github.com/sirupsen/logrus"
)

const (
	// GuestDevice is the path to the TDX guest device.
	GuestDevice = "/dev/tdx_guest"
	// PlatformName is the name of a Linux TDX guest platform.
	PlatformName = "tdx-linux"
)

// device is a handle to the TDX guest device.
type device interface {
	Fd() uintptr
}

// IsAvailable reports whether the TDX guest device exists.
func IsAvailable() bool {
	return isAvailable(GuestDevice)
}

// Platform returns [PlatformName] on TDX guests, and the operating system otherwise.
func Platform() string {
	if IsAvailable() {
		return PlatformName
	}
	return runtime.GOOS
}

// isAvailable reports whether path is a device, refusing symlinks.
func isAvailable(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&fs.ModeSymlink == 0 && !info.IsDir()
}

// quoteProvider is implemented by go-tdx-guest's client.QuoteProvider.
type quoteProvider interface {
	IsSupported() error
	GetRawQuote(reportData [64]byte) ([]uint8, error)
}

// QuoteSource fetches quotes from the TDX quote provider of the guest.
type QuoteSource struct {
	provider quoteProvider
	log      logrus.FieldLogger
}

// IsAvailable reports whether the quote provider is supported on this guest.
func (s *QuoteSource) IsAvailable() bool {
	if err := s.provider.IsSupported(); err != nil {
		s.log.WithError(err).Debug("TDX quote provider not supported")
		return false
	}
	return true
}

// Fetch returns a quote with the nonce, zero padded to 64 bytes, as report data.
func (s *QuoteSource) Fetch(ctx context.Context, nonce []byte) ([]byte, error) {
	if len(nonce) > types.ReportDataSize {
		return nil, fmt.Errorf("nonce must not be longer than %d bytes, received %d bytes", types.ReportDataSize, len(nonce))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reportData [types.ReportDataSize]byte
	copy(reportData[:], nonce)

	quote, err := s.provider.GetRawQuote(reportData)
	if err != nil {
		return nil, fmt.Errorf("generating quote: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.log.WithField("bytes", len(quote)).Debug("Generated TDX quote")
	return quote, nil
}
