package verification

import (
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/edgelesssys/go-tdx-attestation/verification/types"
)

// Report echoes the fields of a verified quote, so callers can apply their own policy without parsing the quote again.
type Report struct {
	Version        uint16                            `json:"version"`
	TEEType        uint32                            `json:"tee_type"`
	BodyType       types.BodyType                    `json:"body_type"`
	TEETCBSVN      string                            `json:"tee_tcb_svn"`
	MRSEAM         types.Measurement                 `json:"mrseam"`
	MRSIGNERSEAM   types.Measurement                 `json:"mrsignerseam"`
	SEAMAttributes uint64                            `json:"seam_attributes"`
	TDAttributes   uint64                            `json:"td_attributes"`
	XFAM           uint64                            `json:"xfam"`
	MRTD           types.Measurement                 `json:"mrtd"`
	MRCONFIGID     types.Measurement                 `json:"mrconfigid"`
	MROWNER        types.Measurement                 `json:"mrowner"`
	MROWNERCONFIG  types.Measurement                 `json:"mrownerconfig"`
	RTMR           [types.NumRTMRs]types.Measurement `json:"rtmrs"`
	ReportData     string                            `json:"report_data"`

	// PCKSubject is the subject of the PCK certificate the quote was verified with.
	PCKSubject string    `json:"pck_subject"`
	VerifiedAt time.Time `json:"verified_at"`
}

func newReport(quote types.Quote, pckCert *x509.Certificate, now time.Time) Report {
	body := quote.Body
	return Report{
		Version:        quote.Header.Version,
		TEEType:        quote.Header.TEEType,
		BodyType:       quote.BodyType,
		TEETCBSVN:      hex.EncodeToString(body.TEETCBSVN[:]),
		MRSEAM:         body.MRSEAM,
		MRSIGNERSEAM:   body.MRSIGNERSEAM,
		SEAMAttributes: body.SEAMAttributes,
		TDAttributes:   body.TDAttributes,
		XFAM:           body.XFAM,
		MRTD:           body.MRTD,
		MRCONFIGID:     body.MRCONFIGID,
		MROWNER:        body.MROWNER,
		MROWNERCONFIG:  body.MROWNERCONFIG,
		RTMR:           body.RTMR,
		ReportData:     hex.EncodeToString(body.ReportData[:]),
		PCKSubject:     pckCert.Subject.String(),
		VerifiedAt:     now.UTC(),
	}
}
