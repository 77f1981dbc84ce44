package types

import "encoding/binary"

/*
   TDREPORT (TDX 1.5) parser
   Based on:
   https://github.com/canonical/tdx/blob/2cd1a182323bad17d80a2f491c63679ac6b73e7f/tests/lib/tdx-tools/src/tdxtools/tdreport.py
*/

const (
	// TDReportSize is the size of a TDREPORT returned by the TDX guest device.
	TDReportSize = reportMACStructSize + teeTCBInfoSize + tdReportReservedSize + tdInfoSize

	reportMACStructSize  = 256
	teeTCBInfoSize       = 239
	tdReportReservedSize = 17
	tdInfoSize           = 512
)

// TDReport is the local, MAC-protected report of a TD.
// Unlike a quote it can only be verified on the platform it was generated on.
type TDReport struct {
	ReportMAC  ReportMACStruct            `json:"report_mac_struct"`
	TEETCBInfo TEETCBInfo                 `json:"tee_tcb_info"`
	Reserved   [tdReportReservedSize]byte `json:"-"`
	TDInfo     TDInfo                     `json:"td_info"`
}

// ReportMACStruct is the REPORTMACSTRUCT header of a TDREPORT.
type ReportMACStruct struct {
	ReportType     [8]byte              `json:"report_type"`
	Reserved1      [8]byte              `json:"-"`
	CPUSVN         [16]byte             `json:"cpusvn"`
	TEETCBInfoHash Measurement          `json:"tee_tcb_info_hash"`
	TEEInfoHash    Measurement          `json:"tee_info_hash"`
	ReportData     [ReportDataSize]byte `json:"report_data"`
	Reserved2      [32]byte             `json:"-"`
	MAC            [32]byte             `json:"mac"`
}

// TEETCBInfo describes the TDX module the report was generated by.
type TEETCBInfo struct {
	Valid        [8]byte     `json:"valid"`
	TEETCBSVN    [16]byte    `json:"tee_tcb_svn"`
	MRSEAM       Measurement `json:"mrseam"`
	MRSIGNERSEAM Measurement `json:"mrsignerseam"`
	Attributes   uint64      `json:"attributes"`
	TEETCBSVN2   [16]byte    `json:"tee_tcb_svn2"`
	Reserved     [95]byte    `json:"-"`
}

// TDInfo holds the measurements of the TD.
type TDInfo struct {
	Attributes    uint64                `json:"attributes"`
	XFAM          uint64                `json:"xfam"`
	MRTD          Measurement           `json:"mrtd"`
	MRCONFIGID    Measurement           `json:"mrconfigid"`
	MROWNER       Measurement           `json:"mrowner"`
	MROWNERCONFIG Measurement           `json:"mrownerconfig"`
	RTMR          [NumRTMRs]Measurement `json:"rtmrs"`
	SERVTDHash    Measurement           `json:"servtd_hash"`
	Reserved      [64]byte              `json:"-"`
}

// MRTD returns the launch measurement of the TD.
func (r *TDReport) MRTD() Measurement {
	return r.TDInfo.MRTD
}

// ParseTDReport parses a TDREPORT. The input must be exactly [TDReportSize] bytes.
func ParseTDReport(raw []byte) (TDReport, error) {
	if len(raw) < TDReportSize {
		return TDReport{}, truncated("tdreport", TDReportSize, len(raw))
	}
	if len(raw) > TDReportSize {
		return TDReport{}, lengthMismatch("tdreport", TDReportSize, uint64(len(raw)))
	}

	mac := raw[0:256]
	tcb := raw[256:495]
	info := raw[512:1024]

	report := TDReport{
		ReportMAC: ReportMACStruct{
			ReportType:     [8]byte(mac[0:8]),
			Reserved1:      [8]byte(mac[8:16]),
			CPUSVN:         [16]byte(mac[16:32]),
			TEETCBInfoHash: Measurement(mac[32:80]),
			TEEInfoHash:    Measurement(mac[80:128]),
			ReportData:     [ReportDataSize]byte(mac[128:192]),
			Reserved2:      [32]byte(mac[192:224]),
			MAC:            [32]byte(mac[224:256]),
		},
		TEETCBInfo: TEETCBInfo{
			Valid:        [8]byte(tcb[0:8]),
			TEETCBSVN:    [16]byte(tcb[8:24]),
			MRSEAM:       Measurement(tcb[24:72]),
			MRSIGNERSEAM: Measurement(tcb[72:120]),
			Attributes:   binary.LittleEndian.Uint64(tcb[120:128]),
			TEETCBSVN2:   [16]byte(tcb[128:144]),
			Reserved:     [95]byte(tcb[144:239]),
		},
		Reserved: [tdReportReservedSize]byte(raw[495:512]),
		TDInfo: TDInfo{
			Attributes:    binary.LittleEndian.Uint64(info[0:8]),
			XFAM:          binary.LittleEndian.Uint64(info[8:16]),
			MRTD:          Measurement(info[16:64]),
			MRCONFIGID:    Measurement(info[64:112]),
			MROWNER:       Measurement(info[112:160]),
			MROWNERCONFIG: Measurement(info[160:208]),
			SERVTDHash:    Measurement(info[400:448]),
			Reserved:      [64]byte(info[448:512]),
		},
	}
	for i := range report.TDInfo.RTMR {
		start := 208 + i*MeasurementSize
		report.TDInfo.RTMR[i] = Measurement(info[start : start+MeasurementSize])
	}

	return report, nil
}

// Marshal serializes the TDREPORT into its binary representation.
func (r *TDReport) Marshal() [TDReportSize]byte {
	var result [TDReportSize]byte

	mac := result[0:256]
	copy(mac[0:8], r.ReportMAC.ReportType[:])
	copy(mac[8:16], r.ReportMAC.Reserved1[:])
	copy(mac[16:32], r.ReportMAC.CPUSVN[:])
	copy(mac[32:80], r.ReportMAC.TEETCBInfoHash[:])
	copy(mac[80:128], r.ReportMAC.TEEInfoHash[:])
	copy(mac[128:192], r.ReportMAC.ReportData[:])
	copy(mac[192:224], r.ReportMAC.Reserved2[:])
	copy(mac[224:256], r.ReportMAC.MAC[:])

	tcb := result[256:495]
	copy(tcb[0:8], r.TEETCBInfo.Valid[:])
	copy(tcb[8:24], r.TEETCBInfo.TEETCBSVN[:])
	copy(tcb[24:72], r.TEETCBInfo.MRSEAM[:])
	copy(tcb[72:120], r.TEETCBInfo.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(tcb[120:128], r.TEETCBInfo.Attributes)
	copy(tcb[128:144], r.TEETCBInfo.TEETCBSVN2[:])
	copy(tcb[144:239], r.TEETCBInfo.Reserved[:])

	copy(result[495:512], r.Reserved[:])

	info := result[512:1024]
	binary.LittleEndian.PutUint64(info[0:8], r.TDInfo.Attributes)
	binary.LittleEndian.PutUint64(info[8:16], r.TDInfo.XFAM)
	copy(info[16:64], r.TDInfo.MRTD[:])
	copy(info[64:112], r.TDInfo.MRCONFIGID[:])
	copy(info[112:160], r.TDInfo.MROWNER[:])
	copy(info[160:208], r.TDInfo.MROWNERCONFIG[:])
	for i, rtmr := range r.TDInfo.RTMR {
		start := 208 + i*MeasurementSize
		copy(info[start:start+MeasurementSize], rtmr[:])
	}
	copy(info[400:448], r.TDInfo.SERVTDHash[:])
	copy(info[448:512], r.TDInfo.Reserved[:])

	return result
}
