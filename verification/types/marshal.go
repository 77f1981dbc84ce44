package types

import (
	"encoding/binary"
)

// Marshal serializes an EnclaveReport to its binary representation found in a Quote Enclave (QE) report or quote.
func (er *EnclaveReport) Marshal() [EnclaveReportSize]byte {
	var result [EnclaveReportSize]byte
	copy(result[0:16], er.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[16:20], er.MiscSelect)
	copy(result[20:48], er.Reserved1[:])
	copy(result[48:64], er.Attributes[:])
	copy(result[64:96], er.MRENCLAVE[:])
	copy(result[96:128], er.Reserved2[:])
	copy(result[128:160], er.MRSIGNER[:])
	copy(result[160:256], er.Reserved3[:])
	binary.LittleEndian.PutUint16(result[256:258], er.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], er.ISVSVN)
	copy(result[260:320], er.Reserved4[:])
	copy(result[320:384], er.ReportData[:])

	return result
}

// Marshal serializes a quote header into its binary representation typically found in a raw quote.
func (qh *QuoteHeader) Marshal() [HeaderSize]byte {
	var result [HeaderSize]byte
	binary.LittleEndian.PutUint16(result[0:2], qh.Version)
	binary.LittleEndian.PutUint16(result[2:4], uint16(qh.AttestationKeyType))
	binary.LittleEndian.PutUint32(result[4:8], qh.TEEType)
	binary.LittleEndian.PutUint32(result[8:12], qh.Reserved)
	copy(result[12:28], qh.QEVendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes a TD quote body using the layout of the given body type.
// Unknown body types are serialized as TDX 1.0 bodies.
func (b *TDQuoteBody) Marshal(bodyType BodyType) []byte {
	size := bodyType.Size()
	if size == 0 {
		bodyType = BodyTypeTD10
		size = bodyType.Size()
	}

	result := make([]byte, size)
	copy(result[0:16], b.TEETCBSVN[:])
	copy(result[16:64], b.MRSEAM[:])
	copy(result[64:112], b.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(result[112:120], b.SEAMAttributes)
	binary.LittleEndian.PutUint64(result[120:128], b.TDAttributes)
	binary.LittleEndian.PutUint64(result[128:136], b.XFAM)
	copy(result[136:184], b.MRTD[:])
	copy(result[184:232], b.MRCONFIGID[:])
	copy(result[232:280], b.MROWNER[:])
	copy(result[280:328], b.MROWNERCONFIG[:])
	for i, rtmr := range b.RTMR {
		start := 328 + i*MeasurementSize
		copy(result[start:start+MeasurementSize], rtmr[:])
	}
	copy(result[520:584], b.ReportData[:])
	if bodyType == BodyTypeTD15 {
		copy(result[584:600], b.TEETCBSVN2[:])
		copy(result[600:648], b.MRSERVICETD[:])
	}

	return result
}

// Marshal serializes the signature data of a quote, without the preceding length field.
func (s *QuoteSignatureData) Marshal() []byte {
	qeReport := s.QEReport.Marshal()

	result := make([]byte, signatureDataFixedSize, signatureDataFixedSize+len(qeReport))
	copy(result[0:64], s.Signature[:])
	copy(result[64:128], s.AttestationKey[:])
	binary.LittleEndian.PutUint16(result[128:130], CertificationDataQEReport)
	binary.LittleEndian.PutUint32(result[130:134], uint32(len(qeReport)))

	return append(result, qeReport...)
}

// Marshal serializes the QE report certification data, including the nested PCK certificate chain.
func (r *QEReportCertificationData) Marshal() []byte {
	enclaveReport := r.EnclaveReport.Marshal()

	result := make([]byte, 0, qeReportCertDataMinSize+len(r.AuthData)+pckCertChainHeaderSize+len(r.PCKCertChain))
	result = append(result, enclaveReport[:]...)
	result = append(result, r.Signature[:]...)
	result = binary.LittleEndian.AppendUint16(result, uint16(len(r.AuthData)))
	result = append(result, r.AuthData...)
	result = binary.LittleEndian.AppendUint16(result, CertificationDataPCKCertChain)
	result = binary.LittleEndian.AppendUint32(result, uint32(len(r.PCKCertChain)))

	return append(result, r.PCKCertChain...)
}

// SignedData returns the bytes covered by the quote signature:
// the header, the body descriptor for version 5 quotes, and the body.
func (q *Quote) SignedData() []byte {
	header := q.Header.Marshal()
	body := q.Body.Marshal(q.BodyType)

	result := make([]byte, 0, HeaderSize+bodyDescriptorSize+len(body))
	result = append(result, header[:]...)
	if q.Header.Version == QuoteVersion5 {
		result = binary.LittleEndian.AppendUint16(result, uint16(q.BodyType))
		result = binary.LittleEndian.AppendUint32(result, uint32(len(body)))
	}

	return append(result, body...)
}

// Marshal serializes the quote. For any quote returned by [ParseQuote], Marshal returns the parsed bytes.
func (q *Quote) Marshal() []byte {
	signedData := q.SignedData()
	signature := q.Signature.Marshal()

	result := make([]byte, 0, len(signedData)+signatureLengthSize+len(signature))
	result = append(result, signedData...)
	result = binary.LittleEndian.AppendUint32(result, uint32(len(signature)))

	return append(result, signature...)
}
