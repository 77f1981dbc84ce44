package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
)

/*
   TDX Quote (v4 / v5) parser
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h#L113
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/dcap_1.21_reproducible/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_5.h
*/

const (
	// QuoteVersion4 is the quote format carrying a TD 1.0 body directly after the header.
	QuoteVersion4 = 4
	// QuoteVersion5 is the quote format carrying a typed body descriptor after the header.
	QuoteVersion5 = 5

	// TEETypeSGX is the type number referenced in the Quote header for SGX quotes.
	TEETypeSGX = 0x0
	// TEETypeTDX is the type number referenced in the Quote header for TDX quotes.
	TEETypeTDX = 0x81

	// CertificationDataPCKCertChain is the CertificationData type holding the PCK cert chain (encoded in PEM, \0 byte terminated).
	CertificationDataPCKCertChain = 5
	// CertificationDataQEReport is the CertificationData type holding QEReportCertificationData.
	CertificationDataQEReport = 6

	// HeaderSize is the size of the quote header.
	HeaderSize = 48
	// MeasurementSize is the size of a SHA384 measurement register.
	MeasurementSize = 48
	// ReportDataSize is the size of the caller supplied report data.
	ReportDataSize = 64
	// NumRTMRs is the number of runtime measurement registers.
	NumRTMRs = 4
	// SignatureSize is the size of a raw ECDSA P-256 signature (r || s).
	SignatureSize = 64
	// AttestationKeySize is the size of a raw ECDSA P-256 public key (X || Y).
	AttestationKeySize = 64
	// EnclaveReportSize is the size of the QE enclave report.
	EnclaveReportSize = 384
	// MaxQuoteSize is the largest quote accepted by ParseQuote.
	MaxQuoteSize = 1 << 20

	bodyDescriptorSize      = 6
	signatureLengthSize     = 4
	signatureDataFixedSize  = SignatureSize + AttestationKeySize + 6
	qeReportCertDataMinSize = EnclaveReportSize + SignatureSize + 2
	pckCertChainHeaderSize  = 6
)

// AttestationKeyType is the signature algorithm of the attestation key.
type AttestationKeyType uint16

// AttestationKeyECDSAP256 is ECDSA-256-with-P-256, the only algorithm used for TDX quotes.
const AttestationKeyECDSAP256 AttestationKeyType = 2

// BodyType identifies the layout of the quote body.
type BodyType uint16

const (
	// BodyTypeTD10 is the TDX 1.0 TD quote body (584 bytes).
	BodyTypeTD10 BodyType = 2
	// BodyTypeTD15 is the TDX 1.5 TD quote body (648 bytes).
	BodyTypeTD15 BodyType = 3
)

// Size returns the size of the body in bytes, or 0 for unknown body types.
func (t BodyType) Size() int {
	switch t {
	case BodyTypeTD10:
		return 584
	case BodyTypeTD15:
		return 648
	default:
		return 0
	}
}

// Measurement is a SHA384 measurement register value.
type Measurement [MeasurementSize]byte

// String returns the hex encoding of the measurement.
func (m Measurement) String() string {
	return hex.EncodeToString(m[:])
}

// MarshalText encodes the measurement as hex.
func (m Measurement) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// QuoteHeader is the header of a TDX quote.
type QuoteHeader struct {
	Version            uint16
	AttestationKeyType AttestationKeyType
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	Reserved           uint32
	QEVendorID         [16]byte
	UserData           [20]byte
}

// TDQuoteBody is the TD report embedded in the quote and covered by its signature.
type TDQuoteBody struct {
	TEETCBSVN      [16]byte
	MRSEAM         Measurement
	MRSIGNERSEAM   Measurement
	SEAMAttributes uint64
	TDAttributes   uint64
	XFAM           uint64
	MRTD           Measurement // initial contents of the TD
	MRCONFIGID     Measurement
	MROWNER        Measurement
	MROWNERCONFIG  Measurement
	RTMR           [NumRTMRs]Measurement // runtime measurements
	ReportData     [ReportDataSize]byte

	// TDX 1.5 only.
	TEETCBSVN2  [16]byte
	MRSERVICETD Measurement
}

// Quote is a decoded TDX quote.
//
// A Quote does not share memory with the buffer it was parsed from.
type Quote struct {
	Header QuoteHeader
	// BodyType is always BodyTypeTD10 for version 4 quotes.
	BodyType  BodyType
	Body      TDQuoteBody
	Signature QuoteSignatureData
}

// QuoteSignatureData is the signature and certification data of a TDX quote.
type QuoteSignatureData struct {
	Signature      [SignatureSize]byte      // ECDSA256 signature over header and body
	AttestationKey [AttestationKeySize]byte // ECDSA256 public key, called attestKey in Intel's code
	QEReport       QEReportCertificationData
}

// QEReportCertificationData holds the Quoting Enclave (QE) report binding the attestation key to the PCK certificate.
type QEReportCertificationData struct {
	EnclaveReport EnclaveReport
	Signature     [SignatureSize]byte // signed by the PCK leaf certificate
	AuthData      []byte
	PCKCertChain  []byte // PEM, \0 terminated
}

// EnclaveReport is the report of a Quoting Enclave for SGX and TDX.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// PCKCertChain returns a copy of the PCK certificate chain carried in the quote.
func (q *Quote) PCKCertChain() []byte {
	return bytes.Clone(q.Signature.QEReport.PCKCertChain)
}

// ParseQuote parses a TDX quote. The expected input is the complete quote.
func ParseQuote(rawQuote []byte) (Quote, error) {
	quoteLength := len(rawQuote)
	if quoteLength < HeaderSize {
		return Quote{}, truncated("header", HeaderSize, quoteLength)
	}
	if quoteLength > MaxQuoteSize {
		return Quote{}, &DecodeError{Kind: ErrLengthMismatch, Field: "quote", Msg: "quote is larger than 1 MiB"}
	}

	header, err := parseHeader(rawQuote[:HeaderSize])
	if err != nil {
		return Quote{}, err
	}

	offset := HeaderSize
	bodyType := BodyTypeTD10
	if header.Version == QuoteVersion5 {
		if quoteLength < offset+bodyDescriptorSize {
			return Quote{}, truncated("body_descriptor", offset+bodyDescriptorSize, quoteLength)
		}
		bodyType = BodyType(binary.LittleEndian.Uint16(rawQuote[offset : offset+2]))
		declaredSize := binary.LittleEndian.Uint32(rawQuote[offset+2 : offset+6])
		if bodyType.Size() == 0 {
			return Quote{}, unsupported("body_descriptor.type", "got %d", bodyType)
		}
		if uint64(declaredSize) != uint64(bodyType.Size()) {
			return Quote{}, lengthMismatch("body_descriptor.size", uint64(declaredSize), uint64(bodyType.Size()))
		}
		offset += bodyDescriptorSize
	}

	bodySize := bodyType.Size()
	fixedSize := offset + bodySize + signatureLengthSize
	if quoteLength < fixedSize {
		return Quote{}, truncated("body", fixedSize, quoteLength)
	}
	body := parseBody(rawQuote[offset:offset+bodySize], bodyType)
	offset += bodySize

	// Upgrade to uint64 so a length close to the top of uint32 cannot overflow.
	signatureLength := uint64(binary.LittleEndian.Uint32(rawQuote[offset : offset+signatureLengthSize]))
	offset += signatureLengthSize
	remaining := uint64(quoteLength - offset)
	if signatureLength != remaining {
		return Quote{}, lengthMismatch("signature_data", signatureLength, remaining)
	}

	signature, err := parseSignatureData(rawQuote[offset:])
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Header:    header,
		BodyType:  bodyType,
		Body:      body,
		Signature: signature,
	}, nil
}

func parseHeader(raw []byte) (QuoteHeader, error) {
	header := QuoteHeader{
		Version:            binary.LittleEndian.Uint16(raw[0:2]),
		AttestationKeyType: AttestationKeyType(binary.LittleEndian.Uint16(raw[2:4])),
		TEEType:            binary.LittleEndian.Uint32(raw[4:8]),
		Reserved:           binary.LittleEndian.Uint32(raw[8:12]),
		QEVendorID:         [16]byte(raw[12:28]),
		UserData:           [20]byte(raw[28:48]),
	}

	if header.Version != QuoteVersion4 && header.Version != QuoteVersion5 {
		return QuoteHeader{}, unsupported("header.version", "got %d, supported are %d and %d", header.Version, QuoteVersion4, QuoteVersion5)
	}
	if header.AttestationKeyType != AttestationKeyECDSAP256 {
		return QuoteHeader{}, unsupported("header.attestation_key_type", "expected %d, got %d", AttestationKeyECDSAP256, header.AttestationKeyType)
	}
	if header.TEEType != TEETypeTDX {
		return QuoteHeader{}, unsupported("header.tee_type", "expected %#x, got %#x", TEETypeTDX, header.TEEType)
	}
	return header, nil
}

// parseBody reads the fixed offsets of a TD quote body. The caller guarantees len(raw) == bodyType.Size().
func parseBody(raw []byte, bodyType BodyType) TDQuoteBody {
	body := TDQuoteBody{
		TEETCBSVN:      [16]byte(raw[0:16]),
		MRSEAM:         Measurement(raw[16:64]),
		MRSIGNERSEAM:   Measurement(raw[64:112]),
		SEAMAttributes: binary.LittleEndian.Uint64(raw[112:120]),
		TDAttributes:   binary.LittleEndian.Uint64(raw[120:128]),
		XFAM:           binary.LittleEndian.Uint64(raw[128:136]),
		MRTD:           Measurement(raw[136:184]),
		MRCONFIGID:     Measurement(raw[184:232]),
		MROWNER:        Measurement(raw[232:280]),
		MROWNERCONFIG:  Measurement(raw[280:328]),
		ReportData:     [ReportDataSize]byte(raw[520:584]),
	}
	for i := range body.RTMR {
		start := 328 + i*MeasurementSize
		body.RTMR[i] = Measurement(raw[start : start+MeasurementSize])
	}
	if bodyType == BodyTypeTD15 {
		body.TEETCBSVN2 = [16]byte(raw[584:600])
		body.MRSERVICETD = Measurement(raw[600:648])
	}
	return body
}

// parseSignatureData parses the signature data following the quote body.
func parseSignatureData(raw []byte) (QuoteSignatureData, error) {
	rawLength := len(raw)
	if rawLength < signatureDataFixedSize {
		return QuoteSignatureData{}, truncated("signature_data", signatureDataFixedSize, rawLength)
	}

	certDataType := binary.LittleEndian.Uint16(raw[128:130])
	if certDataType != CertificationDataQEReport {
		return QuoteSignatureData{}, unsupported("certification_data.type", "expected QE report certification data (%d), got %d", CertificationDataQEReport, certDataType)
	}

	certDataSize := uint64(binary.LittleEndian.Uint32(raw[130:134]))
	left := uint64(rawLength - signatureDataFixedSize)
	if certDataSize != left {
		return QuoteSignatureData{}, lengthMismatch("certification_data", certDataSize, left)
	}

	qeReport, err := parseQEReportCertificationData(raw[signatureDataFixedSize:])
	if err != nil {
		return QuoteSignatureData{}, err
	}

	return QuoteSignatureData{
		Signature:      [SignatureSize]byte(raw[0:64]),
		AttestationKey: [AttestationKeySize]byte(raw[64:128]),
		QEReport:       qeReport,
	}, nil
}

// parseQEReportCertificationData parses the Quoting Enclave (QE) report embedded as certification data.
func parseQEReportCertificationData(raw []byte) (QEReportCertificationData, error) {
	rawLength := len(raw)
	if rawLength < qeReportCertDataMinSize {
		return QEReportCertificationData{}, truncated("qe_report_certification_data", qeReportCertDataMinSize, rawLength)
	}

	report := QEReportCertificationData{
		EnclaveReport: parseEnclaveReport(raw[0:EnclaveReportSize]),
		Signature:     [SignatureSize]byte(raw[384:448]),
	}

	// Upgrade to uint64 so we can compare against the remaining length without overflowing.
	authDataSize := uint64(binary.LittleEndian.Uint16(raw[448:450]))
	left := uint64(rawLength - qeReportCertDataMinSize)
	if authDataSize > left {
		return QEReportCertificationData{}, lengthMismatch("qe_auth_data", authDataSize, left)
	}
	endAuthData := qeReportCertDataMinSize + int(authDataSize)
	report.AuthData = bytes.Clone(raw[qeReportCertDataMinSize:endAuthData])

	chain, err := parsePCKCertChainData(raw[endAuthData:])
	if err != nil {
		return QEReportCertificationData{}, err
	}
	report.PCKCertChain = chain

	return report, nil
}

// parsePCKCertChainData parses the innermost certification data holding the PCK certificate chain.
func parsePCKCertChainData(raw []byte) ([]byte, error) {
	rawLength := len(raw)
	if rawLength < pckCertChainHeaderSize {
		return nil, truncated("pck_cert_chain", pckCertChainHeaderSize, rawLength)
	}

	certDataType := binary.LittleEndian.Uint16(raw[0:2])
	if certDataType != CertificationDataPCKCertChain {
		return nil, unsupported("pck_cert_chain.type", "expected PCK certificate chain (%d), got %d", CertificationDataPCKCertChain, certDataType)
	}

	size := uint64(binary.LittleEndian.Uint32(raw[2:6]))
	left := uint64(rawLength - pckCertChainHeaderSize)
	if size != left {
		return nil, lengthMismatch("pck_cert_chain", size, left)
	}

	return bytes.Clone(raw[pckCertChainHeaderSize:]), nil
}

func parseEnclaveReport(raw []byte) EnclaveReport {
	return EnclaveReport{
		CPUSVN:     [16]byte(raw[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(raw[16:20]),
		Reserved1:  [28]byte(raw[20:48]),
		Attributes: [16]byte(raw[48:64]),
		MRENCLAVE:  [32]byte(raw[64:96]),
		Reserved2:  [32]byte(raw[96:128]),
		MRSIGNER:   [32]byte(raw[128:160]),
		Reserved3:  [96]byte(raw[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(raw[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(raw[258:260]),
		Reserved4:  [60]byte(raw[260:320]),
		ReportData: [64]byte(raw[320:384]),
	}
}
