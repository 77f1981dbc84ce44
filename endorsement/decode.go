package endorsement

import (
	"bytes"
	"fmt"

	"github.com/edgelesssys/go-tdx-attestation/verification/types"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// MaxSize is the maximum size of a raw endorsement.
const MaxSize = 1 << 20

// Field numbers, see endorsement.proto.
const (
	launchSerializedGolden protowire.Number = 1
	launchSignature        protowire.Number = 2

	goldenTimestamp protowire.Number = 1
	goldenCLSpec    protowire.Number = 2
	goldenCommit    protowire.Number = 3
	goldenDigest    protowire.Number = 4
	goldenCABundle  protowire.Number = 5
	goldenCert      protowire.Number = 6
	goldenTDX       protowire.Number = 8

	tdxSVN          protowire.Number = 1
	tdxMeasurements protowire.Number = 2

	measurementRAMGiB      protowire.Number = 1
	measurementEarlyAccept protowire.Number = 2
	measurementMRTD        protowire.Number = 3
	measurementRTMRs       protowire.Number = 16
)

// Decode decodes a VMLaunchEndorsement protobuf message, including the signed golden measurement.
// Unknown fields are skipped.
func Decode(raw []byte) (Endorsement, error) {
	if len(raw) > MaxSize {
		return Endorsement{}, &types.DecodeError{
			Kind:  types.ErrLengthMismatch,
			Field: "launch_endorsement",
			Msg:   fmt.Sprintf("%d bytes exceed the maximum of %d bytes", len(raw), MaxSize),
		}
	}

	var e Endorsement
	err := walkMessage("launch_endorsement", raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == launchSerializedGolden && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			e.SignedData = bytes.Clone(v)
			return n, nil
		case num == launchSignature && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			e.Signature = bytes.Clone(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Endorsement{}, err
	}

	if len(e.SignedData) == 0 {
		return Endorsement{}, missingField("serialized_uefi_golden")
	}
	if len(e.Signature) == 0 {
		return Endorsement{}, missingField("signature")
	}

	e.Golden, err = decodeGolden(e.SignedData)
	if err != nil {
		return Endorsement{}, err
	}
	if len(e.Golden.Cert) == 0 {
		return Endorsement{}, missingField("cert")
	}

	return e, nil
}

func decodeGolden(raw []byte) (GoldenMeasurement, error) {
	var g GoldenMeasurement
	err := walkMessage("golden_measurement", raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType && num == goldenCLSpec {
			v, n := protowire.ConsumeVarint(b)
			g.CLSpec = v
			return n, nil
		}
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case goldenTimestamp:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return 0, &types.DecodeError{Kind: types.ErrTruncated, Field: "timestamp", Err: err}
			}
			if err := ts.CheckValid(); err != nil {
				return 0, &types.DecodeError{Kind: types.ErrInvalidValue, Field: "timestamp", Err: err}
			}
			g.Timestamp = ts.AsTime()
		case goldenCommit:
			g.Commit = bytes.Clone(v)
		case goldenDigest:
			g.Digest = bytes.Clone(v)
		case goldenCABundle:
			g.CABundle = string(v)
		case goldenCert:
			g.Cert = bytes.Clone(v)
		case goldenTDX:
			if g.TDX == nil {
				g.TDX = &TDXMeasurements{}
			}
			if err := decodeTDX(v, g.TDX); err != nil {
				return 0, err
			}
		}
		return n, nil
	})
	return g, err
}

// decodeTDX merges a VMTdx message into tdx.
func decodeTDX(raw []byte, tdx *TDXMeasurements) error {
	return walkMessage("tdx", raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == tdxSVN && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			tdx.SVN = uint32(v)
			return n, nil
		case num == tdxMeasurements && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			m, err := decodeMeasurement(v)
			if err != nil {
				return 0, err
			}
			tdx.Measurements = append(tdx.Measurements, m)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodeMeasurement(raw []byte) (Measurement, error) {
	var m Measurement
	err := walkMessage("measurement", raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == measurementRAMGiB && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.RAMGiB = uint32(v)
			return n, nil
		case num == measurementEarlyAccept && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.EarlyAccept = protowire.DecodeBool(v)
			return n, nil
		case num == measurementMRTD && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			m.MRTD = bytes.Clone(v)
			return n, nil
		case num == measurementRTMRs && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				m.RTMRs = append(m.RTMRs, bytes.Clone(v))
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return m, err
}

// walkMessage calls consume for every field of a protobuf message.
// consume returns the number of bytes of the field value it consumed, or a negative protowire error code.
func walkMessage(field string, b []byte, consume func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(field, n)
		}
		b = b[n:]

		n, err := consume(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return malformed(field, n)
		}
		b = b[n:]
	}
	return nil
}

func malformed(field string, code int) error {
	return &types.DecodeError{Kind: types.ErrTruncated, Field: field, Msg: "malformed protobuf wire data", Err: protowire.ParseError(code)}
}

func missingField(field string) error {
	return &types.DecodeError{Kind: types.ErrMissingField, Field: field}
}
