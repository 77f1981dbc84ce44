package endorsement

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/verification/types"
)

// ErrMeasurementMismatch indicates a quote measurement that differs from the endorsed value.
var ErrMeasurementMismatch = errors.New("measurement mismatch")

// PolicyError is returned if a cryptographically valid quote does not match an endorsement.
type PolicyError struct {
	// Field is the first mismatching field, "measurement_root" or "rtmr[i]".
	Field    string
	Expected []byte
	Actual   []byte
	// Msg holds additional detail, if any.
	Msg string
}

func (e *PolicyError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Field, ErrMeasurementMismatch)
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	return fmt.Sprintf("%s: expected %s, got %s", msg, hex.EncodeToString(e.Expected), hex.EncodeToString(e.Actual))
}

// Unwrap returns [ErrMeasurementMismatch].
func (e *PolicyError) Unwrap() error {
	return ErrMeasurementMismatch
}

// CrossCheck compares the measurements of a quote with the endorsed values.
//
// An endorsement lists one measurement per supported VM memory size.
// The measurement with the quote's MRTD is selected, then each endorsed RTMR is compared.
func CrossCheck(quote types.Quote, e Endorsement) error {
	mrtd := quote.Body.MRTD
	if e.Golden.TDX == nil || len(e.Golden.TDX.Measurements) == 0 {
		return &PolicyError{Field: "measurement_root", Actual: mrtd[:], Msg: "endorsement contains no TDX measurements"}
	}

	var endorsed *Measurement
	for i := range e.Golden.TDX.Measurements {
		if bytes.Equal(e.Golden.TDX.Measurements[i].MRTD, mrtd[:]) {
			endorsed = &e.Golden.TDX.Measurements[i]
			break
		}
	}
	if endorsed == nil {
		return &PolicyError{Field: "measurement_root", Expected: e.Golden.TDX.Measurements[0].MRTD, Actual: mrtd[:]}
	}

	for i, rtmr := range endorsed.RTMRs {
		if len(rtmr) == 0 {
			continue
		}
		if i >= types.NumRTMRs {
			return &PolicyError{Field: fmt.Sprintf("rtmr[%d]", i), Expected: rtmr, Msg: "quote has no such register"}
		}
		if actual := quote.Body.RTMR[i]; !bytes.Equal(rtmr, actual[:]) {
			return &PolicyError{Field: fmt.Sprintf("rtmr[%d]", i), Expected: rtmr, Actual: actual[:]}
		}
	}

	return nil
}
